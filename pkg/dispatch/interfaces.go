// Package dispatch defines the contracts between the dispatch core and its
// collaborators: the two provider clients, the device registry, and the
// notification log.
package dispatch

import (
	"context"

	"github.com/westerly/go-push-dispatch/pkg/push"
)

// APNSClient sends messages over the Apple push wire protocol. The message
// travels in the dedicated alert field; extra entries become custom payload
// keys and args are provider passthrough.
type APNSClient interface {
	// SendSingle delivers one message to one registration id.
	SendSingle(ctx context.Context, registrationID, alert string, extra map[string]string, args map[string]any) (push.ProviderResponse, error)

	// SendBulk delivers the same message to many registration ids.
	SendBulk(ctx context.Context, registrationIDs []string, alert string, extra map[string]string, args map[string]any) (push.ProviderResponse, error)

	// InactiveIDs returns the registration ids the provider has reported as
	// permanently undeliverable. Only the Apple backend supports this signal.
	InactiveIDs(ctx context.Context) ([]string, error)
}

// GCMClient sends messages over the Google push wire protocol. The wire
// format has no first-class message field; the message arrives merged into
// the data payload by the caller.
type GCMClient interface {
	SendSingle(ctx context.Context, registrationID string, data map[string]string, args map[string]any) (push.ProviderResponse, error)
	SendBulk(ctx context.Context, registrationIDs []string, data map[string]string, args map[string]any) (push.ProviderResponse, error)
}

// DeviceRegistry stores device records. Provider-scoped queries are the only
// way callers obtain a provider-specific device collection.
type DeviceRegistry interface {
	// Save persists the device, assigning an id when it has none. The
	// provider tag on the device comes from the typed constructor that
	// created it and is stored as-is.
	Save(ctx context.Context, device *push.Device) error

	// Get returns one device by registry id.
	Get(ctx context.Context, id string) (*push.Device, error)

	// GetMany returns the devices for the given ids in one query pass,
	// silently skipping ids with no record.
	GetMany(ctx context.Context, ids []string) ([]push.Device, error)

	// ByProvider returns every device carrying the given provider tag.
	ByProvider(ctx context.Context, provider push.Provider) ([]push.Device, error)

	// ByProviderIDs restricts the provider-scoped view to the given ids.
	ByProviderIDs(ctx context.Context, provider push.Provider, ids []string) ([]push.Device, error)

	// MarkInactive flips the active flag off for devices whose registration
	// id matches. Used by the token-expiry maintenance flow; devices are
	// never deleted by dispatch itself.
	MarkInactive(ctx context.Context, registrationIDs []string) error

	// Unregister removes the device records holding the registration id.
	// Removing an unknown id is not an error.
	Unregister(ctx context.Context, registrationID string) error
}

// NotificationLog records every dispatch attempt.
type NotificationLog interface {
	// Create stores one record covering all target devices of a logical
	// send, stamping it with the send time.
	Create(ctx context.Context, devices []push.Device, message string, extraArgs string) (*push.Notification, error)

	// History returns the most recent records, newest first.
	History(ctx context.Context, limit int) ([]push.Notification, error)

	// ByDevice returns the most recent records that targeted the device.
	ByDevice(ctx context.Context, deviceID string, limit int) ([]push.Notification, error)
}
