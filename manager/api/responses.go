package api

import (
	"fmt"
	"net/http"

	"github.com/absmach/fedround/manager"
	"github.com/absmach/fedround/round"
	"github.com/absmach/supermq"
)

var (
	_ supermq.Response = (*taskResponse)(nil)
	_ supermq.Response = (*iterationResponse)(nil)
	_ supermq.Response = (*listIterationsResponse)(nil)
	_ supermq.Response = (*checkInResponse)(nil)
	_ supermq.Response = (*assignmentResponse)(nil)
)

type taskResponse struct {
	round.Task
	created bool
}

func (t taskResponse) Code() int {
	if t.created {
		return http.StatusCreated
	}

	return http.StatusOK
}

func (t taskResponse) Headers() map[string]string {
	if t.created {
		return map[string]string{
			"Location": fmt.Sprintf("/tasks/%s/%d", t.ID.PopulationName, t.ID.TaskID),
		}
	}

	return map[string]string{}
}

func (t taskResponse) Empty() bool {
	return false
}

type iterationResponse struct {
	round.Iteration
	created bool
}

func (i iterationResponse) Code() int {
	if i.created {
		return http.StatusCreated
	}

	return http.StatusOK
}

func (i iterationResponse) Headers() map[string]string {
	if i.created {
		return map[string]string{
			"Location": "/iterations/" + i.ID.String(),
		}
	}

	return map[string]string{}
}

func (i iterationResponse) Empty() bool {
	return false
}

type listIterationsResponse struct {
	Total      int               `json:"total"`
	Iterations []round.Iteration `json:"iterations"`
}

func (l listIterationsResponse) Code() int {
	return http.StatusOK
}

func (l listIterationsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listIterationsResponse) Empty() bool {
	return false
}

type checkInResponse struct {
	manager.CheckIn
}

func (c checkInResponse) Code() int {
	return http.StatusCreated
}

func (c checkInResponse) Headers() map[string]string {
	return map[string]string{
		"Location": "/assignments/" + c.Assignment.ID.String(),
	}
}

func (c checkInResponse) Empty() bool {
	return false
}

type assignmentResponse struct {
	round.Assignment
}

func (a assignmentResponse) Code() int {
	return http.StatusOK
}

func (a assignmentResponse) Headers() map[string]string {
	return map[string]string{}
}

func (a assignmentResponse) Empty() bool {
	return false
}
