// Package pipeline contains the message processing components for
// asynchronous dispatch requests arriving over Pub/Sub.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

// SendRequest is the wire payload for an asynchronous dispatch: the target
// device ids plus the message and its provider keyword arguments.
type SendRequest struct {
	DeviceIDs []string          `json:"device_ids"`
	Message   string            `json:"message"`
	Extra     map[string]string `json:"extra,omitempty"`
	Args      map[string]any    `json:"args,omitempty"`
}

// SendRequestTransformer is a dataflow transformer that unmarshals and
// validates a raw message payload into a SendRequest. Malformed payloads
// are skipped so the streaming service can route them to the DLQ.
func SendRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*SendRequest, bool, error) {
	var req SendRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal send request from message %s: %w", msg.ID, err)
	}
	if req.Message == "" {
		return nil, true, fmt.Errorf("send request %s has an empty message", msg.ID)
	}
	return &req, false, nil
}
