package api

import (
	"context"
	"errors"

	"github.com/absmach/fedround/manager"
	pkgerrors "github.com/absmach/fedround/pkg/errors"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-kit/kit/endpoint"
)

func createTaskEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(taskReq)
		if !ok {
			return taskResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return taskResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		t, err := svc.CreateTask(ctx, req.Task)
		if err != nil {
			return taskResponse{}, err
		}

		return taskResponse{
			Task:    t,
			created: true,
		}, nil
	}
}

func getTaskEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(taskIDReq)
		if !ok {
			return taskResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return taskResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		t, err := svc.GetTask(ctx, req.id)
		if err != nil {
			return taskResponse{}, err
		}

		return taskResponse{Task: t}, nil
	}
}

func cancelTaskEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(taskIDReq)
		if !ok {
			return taskResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return taskResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		t, err := svc.CancelTask(ctx, req.id)
		if err != nil {
			return taskResponse{}, err
		}

		return taskResponse{Task: t}, nil
	}
}

func createIterationEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(iterationReq)
		if !ok {
			return iterationResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return iterationResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		it, err := svc.CreateIteration(ctx, req.Iteration)
		if err != nil {
			return iterationResponse{}, err
		}

		return iterationResponse{
			Iteration: it,
			created:   true,
		}, nil
	}
}

func getIterationEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(iterationIDReq)
		if !ok {
			return iterationResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return iterationResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		it, err := svc.GetIteration(ctx, req.id)
		if err != nil {
			return iterationResponse{}, err
		}

		return iterationResponse{Iteration: it}, nil
	}
}

func listIterationsEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listIterationsReq)
		if !ok {
			return listIterationsResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listIterationsResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		its, err := svc.ListIterations(ctx, req.status)
		if err != nil {
			return listIterationsResponse{}, err
		}

		return listIterationsResponse{
			Total:      len(its),
			Iterations: its,
		}, nil
	}
}

func checkInEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(checkInReq)
		if !ok {
			return checkInResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return checkInResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		c, err := svc.CheckIn(ctx, req.population, req.CorrelationID)
		if err != nil {
			return checkInResponse{}, err
		}

		return checkInResponse{CheckIn: c}, nil
	}
}

func getAssignmentEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(assignmentIDReq)
		if !ok {
			return assignmentResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return assignmentResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		a, err := svc.GetAssignment(ctx, req.id)
		if err != nil {
			return assignmentResponse{}, err
		}

		return assignmentResponse{Assignment: a}, nil
	}
}

func reportAssignmentEndpoint(svc manager.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(reportReq)
		if !ok {
			return assignmentResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return assignmentResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		a, err := svc.ReportAssignment(ctx, req.id, *req.Status)
		if err != nil {
			return assignmentResponse{}, err
		}

		return assignmentResponse{Assignment: a}, nil
	}
}
