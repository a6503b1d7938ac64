package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/westerly/go-push-dispatch/pkg/push"
)

const notificationsCollection = "notifications"

// NotificationStore implements the notification log on Firestore. Records
// are write-once: created at dispatch time, read-only thereafter.
type NotificationStore struct {
	client *firestore.Client
}

func NewNotificationStore(client *firestore.Client) *NotificationStore {
	return &NotificationStore{client: client}
}

type notificationDoc struct {
	DeviceIDs []string  `firestore:"device_ids"`
	Message   string    `firestore:"message"`
	ExtraArgs string    `firestore:"extra_args"`
	SentAt    time.Time `firestore:"sent_at"`
}

// Create stores one record covering all target devices of a logical send.
func (s *NotificationStore) Create(ctx context.Context, devices []push.Device, message string, extraArgs string) (*push.Notification, error) {
	deviceIDs := make([]string, 0, len(devices))
	for _, d := range devices {
		deviceIDs = append(deviceIDs, d.ID)
	}

	record := &push.Notification{
		ID:        uuid.NewString(),
		DeviceIDs: deviceIDs,
		Message:   message,
		ExtraArgs: extraArgs,
		SentAt:    time.Now().UTC(),
	}

	_, err := s.notifications().Doc(record.ID).Create(ctx, notificationDoc{
		DeviceIDs: record.DeviceIDs,
		Message:   record.Message,
		ExtraArgs: record.ExtraArgs,
		SentAt:    record.SentAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create notification record: %w", err)
	}
	return record, nil
}

// History returns the most recent records, newest first.
func (s *NotificationStore) History(ctx context.Context, limit int) ([]push.Notification, error) {
	iter := s.notifications().
		OrderBy("sent_at", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	return collectNotifications(iter)
}

// ByDevice returns the most recent records that targeted the device.
func (s *NotificationStore) ByDevice(ctx context.Context, deviceID string, limit int) ([]push.Notification, error) {
	iter := s.notifications().
		Where("device_ids", "array-contains", deviceID).
		OrderBy("sent_at", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	return collectNotifications(iter)
}

func (s *NotificationStore) notifications() *firestore.CollectionRef {
	return s.client.Collection(notificationsCollection)
}

func collectNotifications(iter *firestore.DocumentIterator) ([]push.Notification, error) {
	defer iter.Stop()

	var out []push.Notification
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var doc notificationDoc
		if err := snap.DataTo(&doc); err != nil {
			continue
		}
		out = append(out, push.Notification{
			ID:        snap.Ref.ID,
			DeviceIDs: doc.DeviceIDs,
			Message:   doc.Message,
			ExtraArgs: doc.ExtraArgs,
			SentAt:    doc.SentAt,
		})
	}
	return out, nil
}
