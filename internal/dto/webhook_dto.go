package dto

// EventEnvelope is the inbound webhook event wrapper. Data is left untyped
// because the upstream platform varies field spellings per event source; the
// normalizer owns the mapping onto the canonical schema.
type EventEnvelope struct {
	EventID   string                 `json:"event_id" validate:"required"`
	EventType string                 `json:"event_type" validate:"required"`
	Data      map[string]interface{} `json:"data"`
}

// WebhookAck is the fast acknowledgment returned before any processing happens.
// The sender retries on timeout, so the ack must never wait on the pipeline.
type WebhookAck struct {
	Success   bool `json:"success"`
	Received  bool `json:"received,omitempty"`
	Duplicate bool `json:"duplicate,omitempty"`
}
