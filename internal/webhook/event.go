package webhook

import (
	"encoding/json"
	"errors"
	"strings"
)

// Event is a decoded provider callback.
type Event struct {
	EventID     string `json:"id"`
	ProviderRef string `json:"provider_ref"`
	Status      string `json:"status"`
}

var ErrMalformedEvent = errors.New("malformed webhook event")

// ParseEvent decodes the verified raw payload.
func ParseEvent(payload []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, ErrMalformedEvent
	}
	evt.ProviderRef = strings.TrimSpace(evt.ProviderRef)
	evt.Status = strings.ToLower(strings.TrimSpace(evt.Status))
	if evt.ProviderRef == "" || evt.Status == "" {
		return nil, ErrMalformedEvent
	}
	return &evt, nil
}
