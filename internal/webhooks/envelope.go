package webhooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/model"
)

// TimestampLayout is RFC 3339 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// NewEnvelope builds the event document for one trigger. The same envelope
// is sent to every recipient.
func NewEnvelope(tenantID, eventType string, data any, now time.Time) model.Envelope {
	return model.Envelope{
		Event:          eventType,
		Data:           data,
		Timestamp:      now.UTC().Format(TimestampLayout),
		OrganizationID: tenantID,
	}
}

// Canonical serializes env deterministically: struct field order, sorted
// map keys, no HTML escaping, no trailing newline.
func Canonical(env model.Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
