package cron

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidCronExpression = errors.New("invalid cron expression")

// Parser accepts an optional seconds field and descriptors such as
// "@every 1s" or "@hourly".
var Parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func ParseSchedule(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, ErrInvalidCronExpression
	}

	schedule, err := Parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidCronExpression, expr, err)
	}

	return schedule, nil
}

func ValidateSchedule(expr string) error {
	_, err := ParseSchedule(expr)

	return err
}

// NextRun returns the first activation of expr after from, in UTC.
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}

	return schedule.Next(from.UTC()), nil
}
