// Package core implements the dispatch logic: resolving device collections
// into provider-specific send behavior, grouping mixed collections for bulk
// delivery, and writing the notification log.
package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/westerly/go-push-dispatch/pkg/dispatch"
	"github.com/westerly/go-push-dispatch/pkg/push"
)

// Dispatcher is the synchronous dispatch core. It reads from the registry,
// writes the notification log, and drives the two provider clients. It never
// mutates device records.
type Dispatcher struct {
	registry dispatch.DeviceRegistry
	log      dispatch.NotificationLog
	apns     dispatch.APNSClient
	gcm      dispatch.GCMClient
	logger   *slog.Logger
}

func NewDispatcher(
	registry dispatch.DeviceRegistry,
	log dispatch.NotificationLog,
	apns dispatch.APNSClient,
	gcm dispatch.GCMClient,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		log:      log,
		apns:     apns,
		gcm:      gcm,
		logger:   logger.With("component", "Dispatcher"),
	}
}

// strategy binds the provider-specific wire behavior for one backend. The
// payload shaping lives here: GCM merges the message into the data mapping
// under "message", APNS carries it in the alert parameter.
type strategy struct {
	bulk   func(ctx context.Context, registrationIDs []string, message string, opts *push.SendOptions) (push.ProviderResponse, error)
	single func(ctx context.Context, registrationID, message string, opts *push.SendOptions) (push.ProviderResponse, error)
}

// resolve maps a stored provider tag to its strategy. An unrecognized tag
// fails here, before any record is written or network call made.
func (d *Dispatcher) resolve(p push.Provider) (strategy, error) {
	switch p {
	case push.APNS:
		return strategy{
			bulk: func(ctx context.Context, ids []string, message string, opts *push.SendOptions) (push.ProviderResponse, error) {
				return d.apns.SendBulk(ctx, ids, message, opts.ExtraPayload(), opts.ProviderArgs())
			},
			single: func(ctx context.Context, id, message string, opts *push.SendOptions) (push.ProviderResponse, error) {
				return d.apns.SendSingle(ctx, id, message, opts.ExtraPayload(), opts.ProviderArgs())
			},
		}, nil
	case push.GCM:
		return strategy{
			bulk: func(ctx context.Context, ids []string, message string, opts *push.SendOptions) (push.ProviderResponse, error) {
				return d.gcm.SendBulk(ctx, ids, gcmData(message, opts), opts.ProviderArgs())
			},
			single: func(ctx context.Context, id, message string, opts *push.SendOptions) (push.ProviderResponse, error) {
				return d.gcm.SendSingle(ctx, id, gcmData(message, opts), opts.ProviderArgs())
			},
		}, nil
	}
	return strategy{}, fmt.Errorf("%w: %d", push.ErrUnknownProvider, int(p))
}

// gcmData builds the GCM data payload: the extra mapping with the message
// merged in, since the GCM wire format has no first-class message field.
func gcmData(message string, opts *push.SendOptions) map[string]string {
	data := opts.ExtraPayload()
	data["message"] = message
	return data
}

// SendToDevice sends one message to a single device, resolving the stored
// provider tag into the matching single-send behavior. The record is
// created from the original device identity before the wire call. Unlike
// the bulk path, no active filter is applied here.
func (d *Dispatcher) SendToDevice(ctx context.Context, device push.Device, message string, opts *push.SendOptions) (*push.DispatchResult, error) {
	strat, err := d.resolve(device.Provider)
	if err != nil {
		return nil, err
	}

	record, err := d.record(ctx, []push.Device{device}, message, opts)
	if err != nil {
		return nil, err
	}

	resp, err := strat.single(ctx, device.RegistrationID, message, opts)
	if err != nil {
		// Audit-first: the record stands even though delivery failed.
		return nil, fmt.Errorf("%s single send failed: %w", device.Provider, err)
	}

	return &push.DispatchResult{
		Notification: record,
		Responses:    []push.ProviderResponse{resp},
	}, nil
}

// SendMessage sends one message to a possibly mixed-provider device
// collection. An empty collection is a no-op: no record, no network call,
// nil result. Otherwise exactly one notification record is created for the
// whole collection (inactive devices included), then each provider bucket
// gets one bulk wire call carrying only its active registration ids.
func (d *Dispatcher) SendMessage(ctx context.Context, devices []push.Device, message string, opts *push.SendOptions) (*push.DispatchResult, error) {
	if len(devices) == 0 {
		return nil, nil
	}

	// One pass over the input: provider -> ordered device ids. A bad tag
	// anywhere fails the whole call before anything is recorded or sent.
	buckets := make(map[push.Provider][]string)
	for _, dev := range devices {
		if !dev.Provider.Valid() {
			return nil, fmt.Errorf("%w: device %q carries tag %d", push.ErrUnknownProvider, dev.ID, int(dev.Provider))
		}
		buckets[dev.Provider] = append(buckets[dev.Provider], dev.ID)
	}

	record, err := d.record(ctx, devices, message, opts)
	if err != nil {
		return nil, err
	}

	result := &push.DispatchResult{Notification: record}
	for provider, ids := range buckets {
		strat, err := d.resolve(provider)
		if err != nil {
			return nil, err
		}

		// Re-query the provider-scoped collection restricted to this bucket
		// so the send sees current device state.
		scoped, err := d.registry.ByProviderIDs(ctx, provider, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s bucket: %w", provider, err)
		}

		registrationIDs := activeRegistrationIDs(scoped)
		if len(registrationIDs) == 0 {
			d.logger.Info("Bucket has no active devices; skipping wire call.", "provider", provider.String())
			continue
		}

		resp, err := strat.bulk(ctx, registrationIDs, message, opts)
		if err != nil {
			return nil, fmt.Errorf("%s bulk send failed: %w", provider, err)
		}
		result.Responses = append(result.Responses, resp)
	}

	return result, nil
}

// ExpiredTokens returns the registration ids the Apple backend has reported
// as dead. The Google backend has no equivalent signal; callers mark the
// matching devices inactive themselves.
func (d *Dispatcher) ExpiredTokens(ctx context.Context) ([]string, error) {
	return d.apns.InactiveIDs(ctx)
}

// record writes the notification log entry. It always runs before the
// provider call and is never rolled back on a later failure.
func (d *Dispatcher) record(ctx context.Context, devices []push.Device, message string, opts *push.SendOptions) (*push.Notification, error) {
	extraArgs, err := opts.Encode()
	if err != nil {
		return nil, err
	}
	record, err := d.log.Create(ctx, devices, message, extraArgs)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification record: %w", err)
	}
	return record, nil
}

// activeRegistrationIDs filters to deliverable devices. Inactive devices
// stay on the notification record but never reach the wire.
func activeRegistrationIDs(devices []push.Device) []string {
	ids := make([]string, 0, len(devices))
	for _, dev := range devices {
		if dev.Active && dev.RegistrationID != "" {
			ids = append(ids, dev.RegistrationID)
		}
	}
	return ids
}
