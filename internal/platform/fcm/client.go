// Package fcm provides the client for the Google push backend, built on the
// Firebase Cloud Messaging API.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/westerly/go-push-dispatch/pkg/push"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Client struct {
	client MessagingClient
	logger *slog.Logger
}

// NewClient accepts the concrete messaging client but stores it as the
// interface. *messaging.Client satisfies MessagingClient directly.
func NewClient(client MessagingClient, logger *slog.Logger) *Client {
	return &Client{
		client: client,
		logger: logger.With("component", "GCMClient"),
	}
}

// SendSingle delivers one data payload to one registration id. The message
// body arrives already merged into data by the dispatch core.
func (c *Client) SendSingle(ctx context.Context, registrationID string, data map[string]string, args map[string]any) (push.ProviderResponse, error) {
	resp := push.ProviderResponse{Provider: push.GCM}

	msg := &messaging.Message{
		Token:   registrationID,
		Data:    data,
		Android: androidConfig(args),
	}

	id, err := c.client.Send(ctx, msg)
	if err != nil {
		return resp, fmt.Errorf("fcm send failed: %w", err)
	}

	resp.Success = 1
	resp.Receipt = id
	return resp, nil
}

// SendBulk delivers the same data payload to many registration ids in one
// multicast call.
func (c *Client) SendBulk(ctx context.Context, registrationIDs []string, data map[string]string, args map[string]any) (push.ProviderResponse, error) {
	resp := push.ProviderResponse{Provider: push.GCM}
	if len(registrationIDs) == 0 {
		resp.Receipt = "skipped: no registration ids"
		return resp, nil
	}

	msg := &messaging.MulticastMessage{
		Tokens:  registrationIDs,
		Data:    data,
		Android: androidConfig(args),
	}

	br, err := c.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return resp, fmt.Errorf("fcm multicast failed: %w", err)
	}

	if br.FailureCount > 0 {
		c.logger.Warn("FCM multicast had failures", "success", br.SuccessCount, "failure", br.FailureCount)
	}

	resp.Success = br.SuccessCount
	resp.Failure = br.FailureCount
	resp.Receipt = fmt.Sprintf("success:%d failure:%d", br.SuccessCount, br.FailureCount)
	return resp, nil
}

func androidConfig(args map[string]any) *messaging.AndroidConfig {
	if len(args) == 0 {
		return nil
	}
	cfg := &messaging.AndroidConfig{}
	if v, ok := args["collapse_key"].(string); ok {
		cfg.CollapseKey = v
	}
	if v, ok := args["priority"].(string); ok {
		cfg.Priority = v
	}
	return cfg
}
