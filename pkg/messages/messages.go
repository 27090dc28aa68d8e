// Package messages holds the work orders the collector publishes and the
// notifications it consumes.
package messages

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownNotificationStatus = errors.New("unknown notification status")

// AggregatorMessage asks an aggregator to combine the gradients of one batch.
type AggregatorMessage struct {
	AccumulateIntermediateUpdates  bool     `json:"accumulateIntermediateUpdates" cbor:"accumulateIntermediateUpdates"`
	ServerPlanBucket               string   `json:"serverPlanBucket"              cbor:"serverPlanBucket"`
	ServerPlanObject               string   `json:"serverPlanObject"              cbor:"serverPlanObject"`
	GradientBucket                 string   `json:"gradientBucket"                cbor:"gradientBucket"`
	GradientPrefix                 string   `json:"gradientPrefix"                cbor:"gradientPrefix"`
	Gradients                      []string `json:"gradients"                     cbor:"gradients"`
	AggregatedGradientOutputBucket string   `json:"aggregatedGradientOutputBucket" cbor:"aggregatedGradientOutputBucket"`
	AggregatedGradientOutputObject string   `json:"aggregatedGradientOutputObject" cbor:"aggregatedGradientOutputObject"`
	RequestID                      string   `json:"requestId"                     cbor:"requestId"`
	NotificationTopic              string   `json:"notificationTopic,omitempty"   cbor:"notificationTopic,omitempty"`
}

// ModelUpdaterMessage asks a model updater to fold the aggregated gradients
// into a new checkpoint. The new checkpoint outputs stay empty for
// evaluation tasks.
type ModelUpdaterMessage struct {
	ServerPlanBucket                string   `json:"serverPlanBucket"                          cbor:"serverPlanBucket"`
	ServerPlanObject                string   `json:"serverPlanObject"                          cbor:"serverPlanObject"`
	IntermediateGradientBucket      string   `json:"intermediateGradientBucket"                cbor:"intermediateGradientBucket"`
	IntermediateGradientPrefix      string   `json:"intermediateGradientPrefix"                cbor:"intermediateGradientPrefix"`
	IntermediateGradients           []string `json:"intermediateGradients"                     cbor:"intermediateGradients"`
	CheckpointBucket                string   `json:"checkpointBucket"                          cbor:"checkpointBucket"`
	CheckpointObject                string   `json:"checkpointObject"                          cbor:"checkpointObject"`
	NewCheckpointOutputBucket       string   `json:"newCheckpointOutputBucket,omitempty"       cbor:"newCheckpointOutputBucket,omitempty"`
	NewCheckpointOutputObject       string   `json:"newCheckpointOutputObject,omitempty"       cbor:"newCheckpointOutputObject,omitempty"`
	NewClientCheckpointOutputBucket string   `json:"newClientCheckpointOutputBucket,omitempty" cbor:"newClientCheckpointOutputBucket,omitempty"`
	NewClientCheckpointOutputObject string   `json:"newClientCheckpointOutputObject,omitempty" cbor:"newClientCheckpointOutputObject,omitempty"`
	MetricsOutputBucket             string   `json:"metricsOutputBucket"                       cbor:"metricsOutputBucket"`
	MetricsOutputObject             string   `json:"metricsOutputObject"                       cbor:"metricsOutputObject"`
	RequestID                       string   `json:"requestId"                                 cbor:"requestId"`
}

type NotificationStatus string

const (
	StatusOK     NotificationStatus = "OK"
	StatusFailed NotificationStatus = "FAILED"
)

func ParseNotificationStatus(s string) (NotificationStatus, error) {
	switch st := NotificationStatus(strings.ToUpper(s)); st {
	case StatusOK, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownNotificationStatus, s)
	}
}

// AggregatorNotification reports the outcome of an AggregatorMessage.
type AggregatorNotification struct {
	RequestID string             `json:"requestId" cbor:"requestId"`
	Status    NotificationStatus `json:"status"    cbor:"status"`
}

// FromMap reads a notification out of a decoded payload.
func FromMap(m map[string]any) (AggregatorNotification, error) {
	id, ok := m["requestId"].(string)
	if !ok || id == "" {
		return AggregatorNotification{}, errors.New("missing requestId")
	}
	raw, _ := m["status"].(string)
	st, err := ParseNotificationStatus(raw)
	if err != nil {
		return AggregatorNotification{}, err
	}

	return AggregatorNotification{RequestID: id, Status: st}, nil
}
