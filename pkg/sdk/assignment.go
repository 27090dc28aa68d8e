package sdk

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/absmach/fedround/pkg/blob"
	"github.com/absmach/fedround/round"
)

const (
	populationsEndpoint = "/populations"
	assignmentsEndpoint = "/assignments"
)

type CheckIn struct {
	Assignment         round.Assignment `json:"assignment"`
	PlanDownload       blob.Description `json:"plan_download"`
	CheckpointDownload blob.Description `json:"checkpoint_download"`
	GradientUpload     blob.Description `json:"gradient_upload"`
}

type checkInReq struct {
	CorrelationID string `json:"correlation_id,omitempty"`
}

type reportReq struct {
	Status round.AssignmentStatus `json:"status"`
}

func (sdk *roundSDK) CheckIn(population, correlationID string) (CheckIn, error) {
	u := fmt.Sprintf("%s%s/%s/checkin", sdk.managerURL, populationsEndpoint, url.PathEscape(population))

	var c CheckIn
	if err := sdk.send(http.MethodPost, u, checkInReq{CorrelationID: correlationID}, http.StatusCreated, &c); err != nil {
		return CheckIn{}, err
	}

	return c, nil
}

func (sdk *roundSDK) GetAssignment(id round.AssignmentID) (round.Assignment, error) {
	var a round.Assignment
	if err := sdk.send(http.MethodGet, sdk.assignmentURL(id), nil, http.StatusOK, &a); err != nil {
		return round.Assignment{}, err
	}

	return a, nil
}

func (sdk *roundSDK) ReportAssignment(id round.AssignmentID, status round.AssignmentStatus) (round.Assignment, error) {
	var a round.Assignment
	if err := sdk.send(http.MethodPost, sdk.assignmentURL(id)+"/report", reportReq{Status: status}, http.StatusOK, &a); err != nil {
		return round.Assignment{}, err
	}

	return a, nil
}

func (sdk *roundSDK) assignmentURL(id round.AssignmentID) string {
	it := id.Iteration

	return fmt.Sprintf("%s%s/%s/%d/%d/%d/%s", sdk.managerURL, assignmentsEndpoint,
		url.PathEscape(it.PopulationName), it.TaskID, it.IterationID, it.AttemptID, url.PathEscape(id.SessionID))
}
