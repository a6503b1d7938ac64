package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/westerly/go-push-dispatch/pkg/dispatch"
	"github.com/westerly/go-push-dispatch/pkg/push"
)

// Sender is the part of the dispatch core the pipeline drives.
type Sender interface {
	SendMessage(ctx context.Context, devices []push.Device, message string, opts *push.SendOptions) (*push.DispatchResult, error)
}

// NewProcessor creates the logic that turns a validated SendRequest into a
// dispatch: resolve the target devices from the registry, then hand the
// possibly mixed-provider collection to the core.
func NewProcessor(
	sender Sender,
	registry dispatch.DeviceRegistry,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[SendRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *SendRequest) error {
		procLogger := logger.With("pubsub_msg_id", original.ID)

		devices, err := registry.GetMany(ctx, request.DeviceIDs)
		if err != nil {
			procLogger.Error("Failed to load target devices", "err", err)
			return err // Retryable
		}
		if len(devices) == 0 {
			procLogger.Info("No registered devices for request; dropping notification.")
			return nil
		}

		result, err := sender.SendMessage(ctx, devices, request.Message, &push.SendOptions{
			Extra: request.Extra,
			Args:  request.Args,
		})
		if err != nil {
			// A bad provider tag never heals on redelivery; drop instead of
			// poisoning the subscription.
			if errors.Is(err, push.ErrUnknownProvider) {
				procLogger.Error("Dropping request with unknown provider tag", "err", err)
				return nil
			}
			procLogger.Error("Dispatch failed", "err", err)
			return err // Retryable
		}

		procLogger.Info("Dispatched",
			"notification_id", result.Notification.ID,
			"devices", len(devices),
			"providers", len(result.Responses),
		)
		return nil
	}
}
