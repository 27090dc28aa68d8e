package sdk

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/absmach/fedround/round"
)

const CTJSON string = "application/json"

var ErrUnexpectedStatus = errors.New("unexpected response code")

type SDK interface {
	// CreateTask creates a new task. The manager assigns the task id.
	//
	// example:
	//  task := round.Task{
	//    ID:                 round.TaskID{PopulationName: "keyboard"},
	//    MinAggregationSize: 2,
	//    MaxAggregationSize: 100,
	//    Info:               round.TaskInfo{JobType: round.JobTraining},
	//  }
	//  task, _ := sdk.CreateTask(task)
	//  fmt.Println(task.ID)
	CreateTask(task round.Task) (round.Task, error)

	// GetTask gets a task by id.
	//
	// example:
	//  task, _ := sdk.GetTask(round.TaskID{PopulationName: "keyboard", TaskID: 0})
	//  fmt.Println(task.Status)
	GetTask(id round.TaskID) (round.Task, error)

	// CancelTask cancels an active task.
	//
	// example:
	//  task, _ := sdk.CancelTask(round.TaskID{PopulationName: "keyboard", TaskID: 0})
	//  fmt.Println(task.Status)
	CancelTask(id round.TaskID) (round.Task, error)

	// CreateIteration creates a COLLECTING iteration of an existing task.
	CreateIteration(it round.Iteration) (round.Iteration, error)

	// GetIteration gets an iteration by id.
	//
	// example:
	//  it, _ := sdk.GetIteration(round.IterationID{PopulationName: "keyboard", IterationID: 1})
	//  fmt.Println(it.Status)
	GetIteration(id round.IterationID) (round.Iteration, error)

	// ListIterations lists iterations in a status.
	//
	// example:
	//  page, _ := sdk.ListIterations(round.IterationAggregating)
	//  fmt.Println(page.Total)
	ListIterations(status round.IterationStatus) (IterationPage, error)

	// CheckIn assigns a device of the population to an iteration.
	//
	// example:
	//  checkIn, _ := sdk.CheckIn("keyboard", "device-42")
	//  fmt.Println(checkIn.GradientUpload.URL())
	CheckIn(population, correlationID string) (CheckIn, error)

	GetAssignment(id round.AssignmentID) (round.Assignment, error)

	// ReportAssignment reports the device outcome of an assignment.
	//
	// example:
	//  a, _ := sdk.ReportAssignment(checkIn.Assignment.ID, round.AssignmentLocalCompleted)
	//  fmt.Println(a.Status)
	ReportAssignment(id round.AssignmentID, status round.AssignmentStatus) (round.Assignment, error)
}

type roundSDK struct {
	managerURL string
	client     *http.Client
}

type Config struct {
	ManagerURL      string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &roundSDK{
		managerURL: cfg.ManagerURL,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

func (sdk *roundSDK) processRequest(method, reqURL string, data []byte, expectedRespCode int) ([]byte, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	req.Header.Add("Content-Type", CTJSON)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode != expectedRespCode {
		var e struct {
			Err string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Err != "" {
			return []byte{}, fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, e.Err)
		}

		return []byte{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	return body, nil
}

func (sdk *roundSDK) send(method, url string, in any, expected int, out any) error {
	var data []byte
	if in != nil {
		var err error
		if data, err = json.Marshal(in); err != nil {
			return err
		}
	}

	body, err := sdk.processRequest(method, url, data, expected)
	if err != nil {
		return err
	}

	return json.Unmarshal(body, out)
}
