package sdk

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/absmach/fedround/round"
)

const (
	tasksEndpoint      = "/tasks"
	iterationsEndpoint = "/iterations"
)

type IterationPage struct {
	Total      uint64            `json:"total"`
	Iterations []round.Iteration `json:"iterations"`
}

func (sdk *roundSDK) CreateTask(task round.Task) (round.Task, error) {
	var t round.Task
	if err := sdk.send(http.MethodPost, sdk.managerURL+tasksEndpoint, task, http.StatusCreated, &t); err != nil {
		return round.Task{}, err
	}

	return t, nil
}

func (sdk *roundSDK) GetTask(id round.TaskID) (round.Task, error) {
	var t round.Task
	if err := sdk.send(http.MethodGet, sdk.taskURL(id), nil, http.StatusOK, &t); err != nil {
		return round.Task{}, err
	}

	return t, nil
}

func (sdk *roundSDK) CancelTask(id round.TaskID) (round.Task, error) {
	var t round.Task
	if err := sdk.send(http.MethodPost, sdk.taskURL(id)+"/cancel", nil, http.StatusOK, &t); err != nil {
		return round.Task{}, err
	}

	return t, nil
}

func (sdk *roundSDK) CreateIteration(it round.Iteration) (round.Iteration, error) {
	var created round.Iteration
	if err := sdk.send(http.MethodPost, sdk.managerURL+iterationsEndpoint, it, http.StatusCreated, &created); err != nil {
		return round.Iteration{}, err
	}

	return created, nil
}

func (sdk *roundSDK) GetIteration(id round.IterationID) (round.Iteration, error) {
	var it round.Iteration
	if err := sdk.send(http.MethodGet, sdk.iterationURL(id), nil, http.StatusOK, &it); err != nil {
		return round.Iteration{}, err
	}

	return it, nil
}

func (sdk *roundSDK) ListIterations(status round.IterationStatus) (IterationPage, error) {
	u := sdk.managerURL + iterationsEndpoint + "?status=" + url.QueryEscape(status.String())

	var page IterationPage
	if err := sdk.send(http.MethodGet, u, nil, http.StatusOK, &page); err != nil {
		return IterationPage{}, err
	}

	return page, nil
}

func (sdk *roundSDK) taskURL(id round.TaskID) string {
	return fmt.Sprintf("%s%s/%s/%d", sdk.managerURL, tasksEndpoint, url.PathEscape(id.PopulationName), id.TaskID)
}

func (sdk *roundSDK) iterationURL(id round.IterationID) string {
	return fmt.Sprintf("%s%s/%s/%d/%d/%d", sdk.managerURL, iterationsEndpoint,
		url.PathEscape(id.PopulationName), id.TaskID, id.IterationID, id.AttemptID)
}
