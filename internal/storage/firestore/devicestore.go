// Package firestore persists devices and notification records in Google
// Cloud Firestore.
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

const (
	devicesCollection = "devices"

	// Firestore caps the number of values in an `in` filter.
	maxInValues = 30
)

// DeviceStore implements the device registry on Firestore.
type DeviceStore struct {
	client *firestore.Client
}

func NewDeviceStore(client *firestore.Client) *DeviceStore {
	return &DeviceStore{client: client}
}

// deviceDoc is the stored representation. The provider is persisted as the
// enum int, part of the schema.
type deviceDoc struct {
	Name           string    `firestore:"name,omitempty"`
	Active         bool      `firestore:"active"`
	Owner          string    `firestore:"owner,omitempty"`
	CreatedAt      time.Time `firestore:"created_at"`
	DeviceID       string    `firestore:"device_id,omitempty"`
	RegistrationID string    `firestore:"registration_id"`
	Provider       int       `firestore:"provider"`
}

func docFromDevice(d *push.Device) deviceDoc {
	return deviceDoc{
		Name:           d.Name,
		Active:         d.Active,
		Owner:          d.Owner,
		CreatedAt:      d.CreatedAt,
		DeviceID:       d.DeviceID,
		RegistrationID: d.RegistrationID,
		Provider:       int(d.Provider),
	}
}

func (doc deviceDoc) device(id string) push.Device {
	return push.Device{
		ID:             id,
		Name:           doc.Name,
		Active:         doc.Active,
		Owner:          doc.Owner,
		CreatedAt:      doc.CreatedAt,
		DeviceID:       doc.DeviceID,
		RegistrationID: doc.RegistrationID,
		Provider:       push.Provider(doc.Provider),
	}
}

// Save persists the device, assigning a fresh id when it has none. The
// provider tag must already be set by a typed constructor.
func (s *DeviceStore) Save(ctx context.Context, d *push.Device) error {
	if !d.Provider.Valid() {
		return fmt.Errorf("%w: %d", push.ErrUnknownProvider, int(d.Provider))
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err := s.devices().Doc(d.ID).Set(ctx, docFromDevice(d))
	if err != nil {
		return fmt.Errorf("failed to save device %s: %w", d.ID, err)
	}
	return nil
}

func (s *DeviceStore) Get(ctx context.Context, id string) (*push.Device, error) {
	snap, err := s.devices().Doc(id).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load device %s: %w", id, err)
	}

	var doc deviceDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode device %s: %w", id, err)
	}
	dev := doc.device(snap.Ref.ID)
	return &dev, nil
}

// GetMany loads the given ids with chunked `in` queries rather than one
// round trip per device. Unknown ids are skipped. Input order is preserved.
func (s *DeviceStore) GetMany(ctx context.Context, ids []string) ([]push.Device, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	found := make(map[string]push.Device, len(ids))
	for _, chunk := range chunkStrings(ids, maxInValues) {
		iter := s.devices().Where(firestore.DocumentID, "in", chunk).Documents(ctx)
		devs, err := collectDevices(iter)
		if err != nil {
			return nil, err
		}
		for _, dev := range devs {
			found[dev.ID] = dev
		}
	}

	ordered := make([]push.Device, 0, len(found))
	for _, id := range ids {
		if dev, ok := found[id]; ok {
			ordered = append(ordered, dev)
		}
	}
	return ordered, nil
}

// ByProvider is the provider-scoped filtered view: the only way callers
// obtain a provider-specific device collection.
func (s *DeviceStore) ByProvider(ctx context.Context, p push.Provider) ([]push.Device, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", push.ErrUnknownProvider, int(p))
	}
	iter := s.devices().Where("provider", "==", int(p)).Documents(ctx)
	return collectDevices(iter)
}

// ByProviderIDs restricts the provider-scoped view to the given ids.
func (s *DeviceStore) ByProviderIDs(ctx context.Context, p push.Provider, ids []string) ([]push.Device, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", push.ErrUnknownProvider, int(p))
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var out []push.Device
	for _, chunk := range chunkStrings(ids, maxInValues) {
		iter := s.devices().
			Where("provider", "==", int(p)).
			Where(firestore.DocumentID, "in", chunk).
			Documents(ctx)
		devs, err := collectDevices(iter)
		if err != nil {
			return nil, err
		}
		out = append(out, devs...)
	}
	return out, nil
}

// MarkInactive flips the active flag off for every device holding one of
// the registration ids. Records are never deleted here.
func (s *DeviceStore) MarkInactive(ctx context.Context, registrationIDs []string) error {
	if len(registrationIDs) == 0 {
		return nil
	}

	for _, chunk := range chunkStrings(registrationIDs, maxInValues) {
		if err := s.deactivateChunk(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (s *DeviceStore) deactivateChunk(ctx context.Context, registrationIDs []string) error {
	iter := s.devices().Where("registration_id", "in", registrationIDs).Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("firestore iteration failed: %w", err)
		}
		if _, err := snap.Ref.Update(ctx, []firestore.Update{
			{Path: "active", Value: false},
		}); err != nil {
			return fmt.Errorf("failed to deactivate device %s: %w", snap.Ref.ID, err)
		}
	}
}

// Unregister deletes the device records holding the registration id.
// Deleting an unknown id is a no-op.
func (s *DeviceStore) Unregister(ctx context.Context, registrationID string) error {
	iter := s.devices().Where("registration_id", "==", registrationID).Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("firestore iteration failed: %w", err)
		}
		if _, err := snap.Ref.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete device %s: %w", snap.Ref.ID, err)
		}
	}
}

func (s *DeviceStore) devices() *firestore.CollectionRef {
	return s.client.Collection(devicesCollection)
}

func collectDevices(iter *firestore.DocumentIterator) ([]push.Device, error) {
	defer iter.Stop()

	var out []push.Device
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var doc deviceDoc
		if err := snap.DataTo(&doc); err != nil {
			// Corrupt rows are skipped rather than failing the query.
			continue
		}
		out = append(out, doc.device(snap.Ref.ID))
	}
	return out, nil
}

func chunkStrings(in []string, size int) [][]string {
	var chunks [][]string
	for len(in) > size {
		chunks = append(chunks, in[:size])
		in = in[size:]
	}
	if len(in) > 0 {
		chunks = append(chunks, in)
	}
	return chunks
}
