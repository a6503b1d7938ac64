// Package push contains the domain model for the dispatch service: devices,
// their provider tags, and the notification records written for every send.
package push

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider identifies the push backend a device is registered with.
// The numeric values are part of the stored schema and must not change.
type Provider int

const (
	APNS Provider = 0
	GCM  Provider = 1
)

// ErrUnknownProvider is returned when a device carries a provider tag that
// matches neither known backend. It always fires before any record is
// written or any network call is made.
var ErrUnknownProvider = errors.New("unknown push provider")

func (p Provider) String() string {
	switch p {
	case APNS:
		return "APNS"
	case GCM:
		return "GCM"
	}
	return fmt.Sprintf("Provider(%d)", int(p))
}

// Valid reports whether p is one of the two known backends.
func (p Provider) Valid() bool {
	return p == APNS || p == GCM
}

// ParseProvider maps a case-insensitive provider name ("apns", "gcm") to its tag.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "APNS":
		return APNS, nil
	case "GCM":
		return GCM, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// Device is a provider-agnostic device record. The Provider tag is assigned
// by the typed constructors and is immutable afterwards; callers never set
// it directly.
type Device struct {
	ID             string
	Name           string
	Active         bool
	Owner          string
	CreatedAt      time.Time
	DeviceID       string
	RegistrationID string
	Provider       Provider
}

// NewAPNSDevice creates a device bound to the Apple backend.
func NewAPNSDevice(registrationID string) *Device {
	return newDevice(APNS, registrationID)
}

// NewGCMDevice creates a device bound to the Google backend.
func NewGCMDevice(registrationID string) *Device {
	return newDevice(GCM, registrationID)
}

func newDevice(p Provider, registrationID string) *Device {
	return &Device{
		Active:         true,
		CreatedAt:      time.Now().UTC(),
		RegistrationID: registrationID,
		Provider:       p,
	}
}

func (d *Device) String() string {
	if d.Name != "" {
		return d.Name
	}
	if d.DeviceID != "" {
		return d.DeviceID
	}
	owner := d.Owner
	if owner == "" {
		owner = "unknown user"
	}
	return fmt.Sprintf("%s device for %s", d.Provider, owner)
}
