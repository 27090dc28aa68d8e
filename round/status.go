package round

import (
	"errors"
	"fmt"
	"strings"
)

// FirstStatusID is the status id of the history row written on creation.
const FirstStatusID int64 = 1

// MaxActiveAssignmentStatus is the highest assignment status code that still
// counts against an iteration's capacity.
const MaxActiveAssignmentStatus AssignmentStatus = 99

var ErrUnknownStatus = errors.New("unknown status")

type TaskStatus int64

const (
	TaskOpen      TaskStatus = 0
	TaskCompleted TaskStatus = 1
	TaskCreated   TaskStatus = 2
	TaskCanceled  TaskStatus = 101
	TaskFailed    TaskStatus = 102
)

var taskStatusNames = map[TaskStatus]string{
	TaskOpen:      "OPEN",
	TaskCompleted: "COMPLETED",
	TaskCreated:   "CREATED",
	TaskCanceled:  "CANCELED",
	TaskFailed:    "FAILED",
}

func (s TaskStatus) String() string {
	return statusName(taskStatusNames, s)
}

// Active reports whether a task in this status blocks another task of the
// same job type in its population.
func (s TaskStatus) Active() bool {
	return s == TaskOpen || s == TaskCreated
}

func (s TaskStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TaskStatus) UnmarshalText(b []byte) error {
	v, err := ParseTaskStatus(string(b))
	if err != nil {
		return err
	}
	*s = v

	return nil
}

func ParseTaskStatus(name string) (TaskStatus, error) {
	return parseStatus(taskStatusNames, name)
}

type IterationStatus int64

const (
	IterationCollecting        IterationStatus = 0
	IterationAggregating       IterationStatus = 1
	IterationApplying          IterationStatus = 4
	IterationCompleted         IterationStatus = 50
	IterationPostProcessed     IterationStatus = 51
	IterationCanceled          IterationStatus = 101
	IterationAggregatingFailed IterationStatus = 102
	IterationApplyingFailed    IterationStatus = 103
)

var iterationStatusNames = map[IterationStatus]string{
	IterationCollecting:        "COLLECTING",
	IterationAggregating:       "AGGREGATING",
	IterationApplying:          "APPLYING",
	IterationCompleted:         "COMPLETED",
	IterationPostProcessed:     "POST_PROCESSED",
	IterationCanceled:          "CANCELED",
	IterationAggregatingFailed: "AGGREGATING_FAILED",
	IterationApplyingFailed:    "APPLYING_FAILED",
}

func (s IterationStatus) String() string {
	return statusName(iterationStatusNames, s)
}

func (s IterationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *IterationStatus) UnmarshalText(b []byte) error {
	v, err := ParseIterationStatus(string(b))
	if err != nil {
		return err
	}
	*s = v

	return nil
}

func ParseIterationStatus(name string) (IterationStatus, error) {
	return parseStatus(iterationStatusNames, name)
}

type AssignmentStatus int64

const (
	AssignmentAssigned                     AssignmentStatus = 0
	AssignmentLocalCompleted               AssignmentStatus = 1
	AssignmentUploadCompleted              AssignmentStatus = 2
	AssignmentCanceled                     AssignmentStatus = 101
	AssignmentLocalFailed                  AssignmentStatus = 102
	AssignmentLocalNotEligible             AssignmentStatus = 103
	AssignmentRemoteFailed                 AssignmentStatus = 104
	AssignmentLocalFailedExampleGeneration AssignmentStatus = 105
	AssignmentLocalFailedModelComputation  AssignmentStatus = 106
	AssignmentLocalFailedOpsError          AssignmentStatus = 107
	AssignmentLocalTimeout                 AssignmentStatus = 151
	AssignmentUploadTimeout                AssignmentStatus = 152
)

var assignmentStatusNames = map[AssignmentStatus]string{
	AssignmentAssigned:                     "ASSIGNED",
	AssignmentLocalCompleted:               "LOCAL_COMPLETED",
	AssignmentUploadCompleted:              "UPLOAD_COMPLETED",
	AssignmentCanceled:                     "CANCELED",
	AssignmentLocalFailed:                  "LOCAL_FAILED",
	AssignmentLocalNotEligible:             "LOCAL_NOT_ELIGIBLE",
	AssignmentRemoteFailed:                 "REMOTE_FAILED",
	AssignmentLocalFailedExampleGeneration: "LOCAL_FAILED_EXAMPLE_GENERATION",
	AssignmentLocalFailedModelComputation:  "LOCAL_FAILED_MODEL_COMPUTATION",
	AssignmentLocalFailedOpsError:          "LOCAL_FAILED_OPS_ERROR",
	AssignmentLocalTimeout:                 "LOCAL_TIMEOUT",
	AssignmentUploadTimeout:                "UPLOAD_TIMEOUT",
}

func (s AssignmentStatus) String() string {
	return statusName(assignmentStatusNames, s)
}

func (s AssignmentStatus) Active() bool {
	return s <= MaxActiveAssignmentStatus
}

// Reportable reports whether a device may move its own assignment from
// ASSIGNED to this status.
func (s AssignmentStatus) Reportable() bool {
	switch s {
	case AssignmentLocalCompleted,
		AssignmentLocalFailed,
		AssignmentLocalNotEligible,
		AssignmentLocalFailedExampleGeneration,
		AssignmentLocalFailedModelComputation,
		AssignmentLocalFailedOpsError:
		return true
	default:
		return false
	}
}

func (s AssignmentStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *AssignmentStatus) UnmarshalText(b []byte) error {
	v, err := ParseAssignmentStatus(string(b))
	if err != nil {
		return err
	}
	*s = v

	return nil
}

func ParseAssignmentStatus(name string) (AssignmentStatus, error) {
	return parseStatus(assignmentStatusNames, name)
}

type BatchStatus int64

const (
	BatchFull             BatchStatus = 1
	BatchPublishCompleted BatchStatus = 2
	BatchUploadCompleted  BatchStatus = 3
	BatchFailed           BatchStatus = 101
)

var batchStatusNames = map[BatchStatus]string{
	BatchFull:             "FULL",
	BatchPublishCompleted: "PUBLISH_COMPLETED",
	BatchUploadCompleted:  "UPLOAD_COMPLETED",
	BatchFailed:           "FAILED",
}

func (s BatchStatus) String() string {
	return statusName(batchStatusNames, s)
}

func (s BatchStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *BatchStatus) UnmarshalText(b []byte) error {
	v, err := ParseBatchStatus(string(b))
	if err != nil {
		return err
	}
	*s = v

	return nil
}

func ParseBatchStatus(name string) (BatchStatus, error) {
	return parseStatus(batchStatusNames, name)
}

func statusName[S ~int64](names map[S]string, s S) string {
	if name, ok := names[s]; ok {
		return name
	}

	return fmt.Sprintf("UNKNOWN(%d)", int64(s))
}

func parseStatus[S ~int64](names map[S]string, name string) (S, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for s, n := range names {
		if n == name {
			return s, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, name)
}
