package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/absmach/fedround/manager"
	"github.com/absmach/fedround/pkg/api"
	"github.com/absmach/fedround/round"
	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	statusKey = "status"

	iterationPath  = "/{population}/{taskID}/{iterationID}/{attemptID}"
	assignmentPath = iterationPath + "/{sessionID}"
)

func MakeHandler(svc manager.Service, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(apiutil.LoggingErrorEncoder(logger, api.EncodeError)),
	}

	mux.Route("/tasks", func(r chi.Router) {
		r.Post("/", otelhttp.NewHandler(kithttp.NewServer(
			createTaskEndpoint(svc),
			decodeTaskReq,
			api.EncodeResponse,
			opts...,
		), "create-task").ServeHTTP)
		r.Route("/{population}/{taskID}", func(r chi.Router) {
			r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
				getTaskEndpoint(svc),
				decodeTaskIDReq,
				api.EncodeResponse,
				opts...,
			), "get-task").ServeHTTP)
			r.Post("/cancel", otelhttp.NewHandler(kithttp.NewServer(
				cancelTaskEndpoint(svc),
				decodeTaskIDReq,
				api.EncodeResponse,
				opts...,
			), "cancel-task").ServeHTTP)
		})
	})

	mux.Route("/iterations", func(r chi.Router) {
		r.Post("/", otelhttp.NewHandler(kithttp.NewServer(
			createIterationEndpoint(svc),
			decodeIterationReq,
			api.EncodeResponse,
			opts...,
		), "create-iteration").ServeHTTP)
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			listIterationsEndpoint(svc),
			decodeListIterationsReq,
			api.EncodeResponse,
			opts...,
		), "list-iterations").ServeHTTP)
		r.Get(iterationPath, otelhttp.NewHandler(kithttp.NewServer(
			getIterationEndpoint(svc),
			decodeIterationIDReq,
			api.EncodeResponse,
			opts...,
		), "get-iteration").ServeHTTP)
	})

	mux.Post("/populations/{population}/checkin", otelhttp.NewHandler(kithttp.NewServer(
		checkInEndpoint(svc),
		decodeCheckInReq,
		api.EncodeResponse,
		opts...,
	), "check-in").ServeHTTP)

	mux.Route("/assignments"+assignmentPath, func(r chi.Router) {
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			getAssignmentEndpoint(svc),
			decodeAssignmentIDReq,
			api.EncodeResponse,
			opts...,
		), "get-assignment").ServeHTTP)
		r.Post("/report", otelhttp.NewHandler(kithttp.NewServer(
			reportAssignmentEndpoint(svc),
			decodeReportReq,
			api.EncodeResponse,
			opts...,
		), "report-assignment").ServeHTTP)
	})

	mux.Get("/health", supermq.Health("manager", instanceID))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func decodeTaskReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}

	var req taskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(err, apiutil.ErrValidation)
	}

	return req, nil
}

func decodeTaskIDReq(_ context.Context, r *http.Request) (any, error) {
	id, err := taskIDParams(r)
	if err != nil {
		return nil, err
	}

	return taskIDReq{id: id}, nil
}

func decodeIterationReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}

	var req iterationReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(err, apiutil.ErrValidation)
	}

	return req, nil
}

func decodeIterationIDReq(_ context.Context, r *http.Request) (any, error) {
	id, err := iterationIDParams(r)
	if err != nil {
		return nil, err
	}

	return iterationIDReq{id: id}, nil
}

func decodeListIterationsReq(_ context.Context, r *http.Request) (any, error) {
	s, err := apiutil.ReadStringQuery(r, statusKey, round.IterationCollecting.String())
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	status, err := round.ParseIterationStatus(s)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	return listIterationsReq{status: status}, nil
}

func decodeCheckInReq(_ context.Context, r *http.Request) (any, error) {
	req := checkInReq{population: chi.URLParam(r, "population")}
	if r.ContentLength == 0 {
		return req, nil
	}
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(err, apiutil.ErrValidation)
	}

	return req, nil
}

func decodeAssignmentIDReq(_ context.Context, r *http.Request) (any, error) {
	id, err := assignmentIDParams(r)
	if err != nil {
		return nil, err
	}

	return assignmentIDReq{id: id}, nil
}

func decodeReportReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}

	id, err := assignmentIDParams(r)
	if err != nil {
		return nil, err
	}

	req := reportReq{id: id}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(err, apiutil.ErrValidation)
	}

	return req, nil
}

func taskIDParams(r *http.Request) (round.TaskID, error) {
	taskID, err := intParam(r, "taskID")
	if err != nil {
		return round.TaskID{}, err
	}

	return round.TaskID{
		PopulationName: chi.URLParam(r, "population"),
		TaskID:         taskID,
	}, nil
}

func iterationIDParams(r *http.Request) (round.IterationID, error) {
	var nums [3]int64
	for i, key := range []string{"taskID", "iterationID", "attemptID"} {
		n, err := intParam(r, key)
		if err != nil {
			return round.IterationID{}, err
		}
		nums[i] = n
	}

	return round.IterationID{
		PopulationName: chi.URLParam(r, "population"),
		TaskID:         nums[0],
		IterationID:    nums[1],
		AttemptID:      nums[2],
	}, nil
}

func assignmentIDParams(r *http.Request) (round.AssignmentID, error) {
	it, err := iterationIDParams(r)
	if err != nil {
		return round.AssignmentID{}, err
	}

	return round.AssignmentID{
		Iteration: it,
		SessionID: chi.URLParam(r, "sessionID"),
	}, nil
}

func intParam(r *http.Request, key string) (int64, error) {
	n, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil {
		return 0, errors.Join(apiutil.ErrValidation, fmt.Errorf("%w %s: %w", errInvalidPathParam, key, err))
	}

	return n, nil
}
