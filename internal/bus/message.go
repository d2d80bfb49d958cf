package bus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Priority ranks messages for queue draining; higher drains first
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// String returns the queue-key name for the priority
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// DefaultMaxRetries is the transport retry budget used when neither the
// bus options nor the message override it
const DefaultMaxRetries = 3

// Message is the bus delivery envelope
type Message struct {
	ID            string                 `json:"id"`
	EventType     string                 `json:"event_type"`
	Data          map[string]interface{} `json:"data"`
	Priority      Priority               `json:"priority"`
	CorrelationID string                 `json:"correlation_id"`
	Timestamp     time.Time              `json:"timestamp"`
	RetryCount    int                    `json:"retry_count"`
	// MaxRetries overrides the transport retry budget when positive
	MaxRetries int `json:"max_retries"`
}

// NewMessage creates a message with a fresh identifier. The retry
// budget is left to the transport unless WithMaxRetries overrides it.
func NewMessage(eventType string, data map[string]interface{}) *Message {
	return &Message{
		ID:            uuid.New().String(),
		EventType:     eventType,
		Data:          data,
		Priority:      PriorityNormal,
		CorrelationID: uuid.New().String(),
		Timestamp:     time.Now().UTC(),
	}
}

// WithPriority sets the message priority and returns the message
func (m *Message) WithPriority(p Priority) *Message {
	m.Priority = p
	return m
}

// WithCorrelationID overrides the generated correlation id
func (m *Message) WithCorrelationID(id string) *Message {
	m.CorrelationID = id
	return m
}

// WithMaxRetries overrides the transport retry budget for this message
func (m *Message) WithMaxRetries(n int) *Message {
	m.MaxRetries = n
	return m
}

// Marshal serializes the message for transport
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalMessage deserializes a transported message
func UnmarshalMessage(raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetString returns a string field from the data map, or "" when absent
func (m *Message) GetString(key string) string {
	if v, ok := m.Data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
