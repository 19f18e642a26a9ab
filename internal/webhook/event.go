package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType описывает тип события провайдера без префикса "email.".
type EventType string

const (
	EventSent       EventType = "sent"
	EventDelivered  EventType = "delivered"
	EventDelayed    EventType = "delivery_delayed"
	EventComplained EventType = "complained"
	EventBounced    EventType = "bounced"
	EventOpened     EventType = "opened"
	EventClicked    EventType = "clicked"
)

// ErrMalformedEvent возвращается для тел, не похожих на событие провайдера.
var ErrMalformedEvent = errors.New("malformed webhook event")

// Known сообщает, что тип события входит в известный набор.
func (t EventType) Known() bool {
	switch t {
	case EventSent, EventDelivered, EventDelayed, EventComplained, EventBounced, EventOpened, EventClicked:
		return true
	}
	return false
}

// Bounce содержит подробности недоставки.
type Bounce struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	SubType string `json:"subType"`
}

// Complaint содержит подробности жалобы на спам.
type Complaint struct {
	FeedbackType string `json:"feedback_type"`
}

// EventData содержит полезную нагрузку события.
type EventData struct {
	EmailID   string     `json:"email_id"`
	To        []string   `json:"to"`
	Subject   string     `json:"subject"`
	Bounce    *Bounce    `json:"bounce,omitempty"`
	Complaint *Complaint `json:"complaint,omitempty"`
}

// Event описывает событие доставки письма.
type Event struct {
	Type      EventType
	RawType   string
	CreatedAt time.Time
	Data      EventData
}

type rawEvent struct {
	Type      string    `json:"type"`
	CreatedAt string    `json:"created_at"`
	Data      EventData `json:"data"`
}

// ParseEvent разбирает тело вебхука.
// Неизвестный тип не является ошибкой: такое событие подтверждается без обработки.
func ParseEvent(body []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if raw.Type == "" {
		return nil, fmt.Errorf("%w: empty type", ErrMalformedEvent)
	}

	ev := &Event{
		Type:    EventType(strings.TrimPrefix(raw.Type, "email.")),
		RawType: raw.Type,
		Data:    raw.Data,
	}
	if t, err := time.Parse(time.RFC3339Nano, raw.CreatedAt); err == nil {
		ev.CreatedAt = t
	}

	return ev, nil
}

// BounceMessage возвращает текст причины недоставки.
func (e *Event) BounceMessage() string {
	if e.Data.Bounce == nil {
		return "bounced"
	}
	if e.Data.Bounce.Message != "" {
		return e.Data.Bounce.Message
	}
	return strings.TrimSpace(e.Data.Bounce.Type + " " + e.Data.Bounce.SubType)
}
