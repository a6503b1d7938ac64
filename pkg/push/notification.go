package push

import (
	"encoding/json"
	"fmt"
	"time"
)

// Notification is the audit record created for every logical send. One
// record covers all devices targeted by the call, whether or not delivery
// later succeeds. Records are immutable after creation.
type Notification struct {
	ID        string
	DeviceIDs []string
	Message   string
	ExtraArgs string
	SentAt    time.Time
}

// SendOptions carries the provider-specific keyword arguments of a send.
//
// Extra is the free-form data payload. The Google backend has no first-class
// message field, so the dispatch core merges the message into Extra under
// the "message" key before the wire call; the Apple backend receives the
// message through the alert parameter instead.
//
// Args is an opaque passthrough for everything else a provider understands
// (sound, badge, collapse_key, ...). The core never interprets it.
type SendOptions struct {
	Extra map[string]string `json:"extra,omitempty"`
	Args  map[string]any    `json:"args,omitempty"`
}

// Encode serializes the options for storage on the notification record.
// A nil receiver encodes as the empty object.
func (o *SendOptions) Encode() (string, error) {
	if o == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("failed to encode send options: %w", err)
	}
	return string(raw), nil
}

// ExtraPayload returns a copy of Extra, never nil.
func (o *SendOptions) ExtraPayload() map[string]string {
	data := make(map[string]string)
	if o == nil {
		return data
	}
	for k, v := range o.Extra {
		data[k] = v
	}
	return data
}

// ProviderArgs returns the passthrough arguments, possibly nil.
func (o *SendOptions) ProviderArgs() map[string]any {
	if o == nil {
		return nil
	}
	return o.Args
}

// ProviderResponse is the aggregate result of one provider call, passed
// through to the caller without interpretation by the core.
type ProviderResponse struct {
	Provider Provider `json:"provider"`
	Success  int      `json:"success"`
	Failure  int      `json:"failure"`
	Receipt  string   `json:"receipt"`
}

// DispatchResult ties the notification record of a logical send to the
// per-provider responses it produced. A nil result means the target set was
// empty and nothing happened.
type DispatchResult struct {
	Notification *Notification      `json:"notification"`
	Responses    []ProviderResponse `json:"responses"`
}
