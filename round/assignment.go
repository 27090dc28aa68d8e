package round

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidAssignmentID = errors.New("invalid assignment id")

type AssignmentID struct {
	Iteration IterationID `json:"iteration"`
	SessionID string      `json:"session_id"`
}

func (id AssignmentID) String() string {
	return id.Iteration.String() + "/" + id.SessionID
}

// ParseAssignmentID reads the form produced by AssignmentID.String.
func ParseAssignmentID(s string) (AssignmentID, error) {
	i := strings.LastIndex(s, "/")
	if i < 0 || i == len(s)-1 {
		return AssignmentID{}, fmt.Errorf("%w: %q", ErrInvalidAssignmentID, s)
	}

	it, err := ParseIterationID(s[:i])
	if err != nil {
		return AssignmentID{}, fmt.Errorf("%w: %w", ErrInvalidAssignmentID, err)
	}

	return AssignmentID{Iteration: it, SessionID: s[i+1:]}, nil
}

// AssignmentIDs scopes session ids to one iteration.
func AssignmentIDs(it IterationID, sessions []string) []AssignmentID {
	ids := make([]AssignmentID, len(sessions))
	for i, s := range sessions {
		ids[i] = AssignmentID{Iteration: it, SessionID: s}
	}

	return ids
}

type Assignment struct {
	ID              AssignmentID     `json:"id"`
	CorrelationID   string           `json:"correlation_id,omitempty"`
	Status          AssignmentStatus `json:"status"`
	StatusID        int64            `json:"status_id"`
	BatchID         string           `json:"batch_id,omitempty"`
	BaseIterationID int64            `json:"base_iteration_id"`
	BaseOnResultID  int64            `json:"base_on_result_id"`
	ResultID        int64            `json:"result_id"`
	CreatedTime     time.Time        `json:"created_time"`
}
