package api

import (
	"errors"

	"github.com/absmach/fedround/round"
	apiutil "github.com/absmach/supermq/api/http/util"
)

var (
	errMissingPopulation = errors.New("missing population name")
	errInvalidJobType    = errors.New("invalid job type")
	errInvalidSizes      = errors.New("aggregation sizes must satisfy 0 < min <= max")
	errInvalidReportGoal = errors.New("report goal must be positive")
	errMissingStatus     = errors.New("missing status")
	errInvalidPathParam  = errors.New("invalid path parameter")
)

type taskReq struct {
	round.Task
}

func (t *taskReq) validate() error {
	if t.ID.PopulationName == "" {
		return errMissingPopulation
	}
	if !t.Info.JobType.Valid() {
		return errInvalidJobType
	}
	if t.MinAggregationSize <= 0 || t.MinAggregationSize > t.MaxAggregationSize {
		return errInvalidSizes
	}

	return nil
}

type taskIDReq struct {
	id round.TaskID
}

func (r *taskIDReq) validate() error {
	if r.id.PopulationName == "" {
		return apiutil.ErrMissingID
	}

	return nil
}

type iterationReq struct {
	round.Iteration
}

func (i *iterationReq) validate() error {
	if i.ID.PopulationName == "" {
		return errMissingPopulation
	}
	if i.ReportGoal <= 0 {
		return errInvalidReportGoal
	}
	if !i.Info.TaskInfo.JobType.Valid() {
		return errInvalidJobType
	}

	return nil
}

type iterationIDReq struct {
	id round.IterationID
}

func (r *iterationIDReq) validate() error {
	if r.id.PopulationName == "" {
		return apiutil.ErrMissingID
	}

	return nil
}

type listIterationsReq struct {
	status round.IterationStatus
}

func (r *listIterationsReq) validate() error {
	return nil
}

type checkInReq struct {
	population    string
	CorrelationID string `json:"correlation_id"`
}

func (r *checkInReq) validate() error {
	if r.population == "" {
		return errMissingPopulation
	}

	return nil
}

type assignmentIDReq struct {
	id round.AssignmentID
}

func (r *assignmentIDReq) validate() error {
	if r.id.Iteration.PopulationName == "" || r.id.SessionID == "" {
		return apiutil.ErrMissingID
	}

	return nil
}

type reportReq struct {
	id     round.AssignmentID
	Status *round.AssignmentStatus `json:"status"`
}

func (r *reportReq) validate() error {
	if r.id.Iteration.PopulationName == "" || r.id.SessionID == "" {
		return apiutil.ErrMissingID
	}
	if r.Status == nil {
		return errMissingStatus
	}

	return nil
}
