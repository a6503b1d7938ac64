// Package apns provides the client for the Apple Push Notification service.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/westerly/go-push-dispatch/pkg/push"
)

// PushClient is the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type PushClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file.
	P8KeyContent string
}

// Client sends over APNs HTTP/2. The API is unary (one request per token),
// so bulk sends iterate sequentially; there is no multicast endpoint.
//
// Tokens the provider reports as permanently dead are collected into a
// stale set that InactiveIDs exposes to the expiry maintenance flow. The
// old binary feedback service this query used to hit no longer exists.
type Client struct {
	client PushClient
	topic  string
	logger *slog.Logger

	mu    sync.Mutex
	stale map[string]struct{}
}

// NewClient creates a configured APNs client. It parses the P8 key
// immediately to fail fast on startup if credentials are bad.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	return &Client{
		client: apns2.NewTokenClient(tokenSource),
		topic:  cfg.BundleID,
		logger: logger.With("component", "APNSClient"),
		stale:  make(map[string]struct{}),
	}, nil
}

// ClientFromP8File builds a client from a credential file on disk.
func ClientFromP8File(path, keyID, teamID, bundleID string, logger *slog.Logger) (*Client, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read APNs P8 key %s: %w", path, err)
	}
	return NewClient(Config{
		KeyID:        keyID,
		TeamID:       teamID,
		BundleID:     bundleID,
		P8KeyContent: string(key),
	}, logger)
}

// SendSingle delivers one alert to one registration id.
func (c *Client) SendSingle(ctx context.Context, registrationID, alert string, extra map[string]string, args map[string]any) (push.ProviderResponse, error) {
	return c.send(ctx, []string{registrationID}, alert, extra, args)
}

// SendBulk delivers the same alert to many registration ids.
func (c *Client) SendBulk(ctx context.Context, registrationIDs []string, alert string, extra map[string]string, args map[string]any) (push.ProviderResponse, error) {
	return c.send(ctx, registrationIDs, alert, extra, args)
}

func (c *Client) send(ctx context.Context, registrationIDs []string, alert string, extra map[string]string, args map[string]any) (push.ProviderResponse, error) {
	resp := push.ProviderResponse{Provider: push.APNS}
	if len(registrationIDs) == 0 {
		resp.Receipt = "skipped: no registration ids"
		return resp, nil
	}

	builder := buildPayload(alert, extra, args)

	for _, registrationID := range registrationIDs {
		if err := ctx.Err(); err != nil {
			return resp, err
		}

		notification := &apns2.Notification{
			DeviceToken: registrationID,
			Topic:       c.topic,
			Payload:     builder,
		}

		res, err := c.client.Push(notification)
		if err != nil {
			// Transport failure: surface it unchanged to the caller.
			return resp, fmt.Errorf("apns push to %s failed: %w", registrationID, err)
		}

		if res.Sent() {
			resp.Success++
			continue
		}
		resp.Failure++

		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			// Token is dead. Remember it for the expiry query.
			c.markStale(registrationID)
		default:
			c.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		}
	}

	resp.Receipt = fmt.Sprintf("success:%d failure:%d", resp.Success, resp.Failure)
	return resp, nil
}

// InactiveIDs returns the registration ids APNs has reported as
// permanently undeliverable, sorted for deterministic output. The set
// persists across calls; the caller marks the matching devices inactive.
func (c *Client) InactiveIDs(_ context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.stale))
	for id := range c.stale {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *Client) markStale(registrationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale[registrationID] = struct{}{}
}

// buildPayload shapes the APNs JSON. The alert carries the message, extra
// entries ride along as custom keys, and recognized args map to their
// dedicated aps fields.
func buildPayload(alert string, extra map[string]string, args map[string]any) *payload.Payload {
	builder := payload.NewPayload().Alert(alert)
	for k, v := range args {
		switch k {
		case "sound":
			if s, ok := v.(string); ok {
				builder.Sound(s)
			}
		case "badge":
			switch b := v.(type) {
			case int:
				builder.Badge(b)
			case float64:
				// JSON numbers decode as float64.
				builder.Badge(int(b))
			}
		default:
			builder.Custom(k, v)
		}
	}
	for k, v := range extra {
		builder.Custom(k, v)
	}
	return builder
}
