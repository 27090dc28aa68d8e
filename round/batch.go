package round

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidRequestID = errors.New("invalid aggregation request id")

type BatchID struct {
	Iteration IterationID `json:"iteration"`
	BatchID   string      `json:"batch_id"`
}

// RequestID is the correlation id carried by aggregation work orders and
// echoed back by aggregator notifications.
func (id BatchID) RequestID() string {
	return id.Iteration.String() + "_" + id.BatchID
}

// ParseRequestID splits a request id on its last underscore.
func ParseRequestID(s string) (BatchID, error) {
	i := strings.LastIndex(s, "_")
	if i <= 0 || i == len(s)-1 {
		return BatchID{}, fmt.Errorf("%w: %q", ErrInvalidRequestID, s)
	}

	it, err := ParseIterationID(s[:i])
	if err != nil {
		return BatchID{}, fmt.Errorf("%w: %w", ErrInvalidRequestID, err)
	}

	return BatchID{Iteration: it, BatchID: s[i+1:]}, nil
}

type AggregationBatch struct {
	ID                 BatchID     `json:"id"`
	AggregationLevel   int64       `json:"aggregation_level"`
	BatchSize          int64       `json:"batch_size"`
	CreatedByPartition string      `json:"created_by_partition"`
	Status             BatchStatus `json:"status"`
	AggregatedBy       string      `json:"aggregated_by,omitempty"`
	CreatedTime        time.Time   `json:"created_time"`
}
