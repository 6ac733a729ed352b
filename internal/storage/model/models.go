package model

import "time"

type InstanceState string

const (
	InstanceStateDisconnected InstanceState = "disconnected"
	InstanceStateConnecting   InstanceState = "connecting"
	InstanceStateConnected    InstanceState = "connected"
)

// Tags de eventos reconhecidos para assinatura de webhooks.
const (
	EventQR              = "qr"
	EventConnecting      = "connecting"
	EventReady           = "ready"
	EventDisconnected    = "disconnected"
	EventMessage         = "message"
	EventMessageEdit     = "message_edit"
	EventMessageDelete   = "message_delete"
	EventMessageReaction = "message_reaction"
	EventError           = "error"

	// EventTest só é aceito pelo endpoint de teste de webhook.
	EventTest = "test"
)

var recognizedEvents = []string{
	EventQR,
	EventConnecting,
	EventReady,
	EventDisconnected,
	EventMessage,
	EventMessageEdit,
	EventMessageDelete,
	EventMessageReaction,
	EventError,
}

// RecognizedEvents retorna uma cópia da lista de tags aceitas em webhookEvents.
func RecognizedEvents() []string {
	out := make([]string, len(recognizedEvents))
	copy(out, recognizedEvents)
	return out
}

func IsRecognizedEvent(tag string) bool {
	for _, e := range recognizedEvents {
		if e == tag {
			return true
		}
	}
	return false
}

type Instance struct {
	ID             string        `json:"instanceId"`
	State          InstanceState `json:"status"`
	WebhookURL     string        `json:"webhookUrl,omitempty"`
	WebhookEnabled bool          `json:"webhookEnabled"`
	WebhookEvents  []string      `json:"webhookEvents"`
	PhoneNumber    *string       `json:"phoneNumber"`
	ConnectedAt    *time.Time    `json:"connectedAt"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Subscribes informa se o tipo de evento deve ser entregue ao webhook da instância.
// Lista vazia significa todos os eventos.
func (i Instance) Subscribes(eventType string) bool {
	if len(i.WebhookEvents) == 0 {
		return true
	}
	for _, e := range i.WebhookEvents {
		if e == eventType {
			return true
		}
	}
	return false
}

type WebhookEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"event"`
	InstanceID string         `json:"instanceId"`
	Timestamp  int64          `json:"timestamp"`
	Payload    map[string]any `json:"data"`
}

type DeliveryOutcome string

const (
	DeliveryPending   DeliveryOutcome = "pending"
	DeliveryDelivered DeliveryOutcome = "delivered"
	DeliveryFailed    DeliveryOutcome = "failed"
)

type DeliveryAttempt struct {
	Event         WebhookEvent
	AttemptNumber int
	NextRetryAt   time.Time
	Outcome       DeliveryOutcome
	StatusCode    int
	LastError     string
}

type WebhookStats struct {
	Queued    int64 `json:"queued"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}
