package ws

import (
	"context"
	"encoding/json"

	"github.com/mwaldron/foreman/internal/port/messagequeue"
)

// relaySubjects are the queue subjects forwarded to WebSocket clients.
var relaySubjects = []string{
	messagequeue.SubjectWorkflowEvent,
	messagequeue.SubjectReviewComplete,
	messagequeue.SubjectCIStatusChanged,
}

// StartRelay subscribes the hub to the observable queue subjects and forwards
// every message to connected clients. The returned function cancels all
// subscriptions.
func StartRelay(ctx context.Context, queue messagequeue.Queue, hub *Hub) (func(), error) {
	cancels := make([]func(), 0, len(relaySubjects))
	cancelAll := func() {
		for _, c := range cancels {
			c()
		}
	}

	for _, subject := range relaySubjects {
		cancel, err := queue.Subscribe(ctx, subject,
			func(ctx context.Context, subject string, data []byte) error {
				hub.Broadcast(ctx, Message{Type: messageType(subject, data), Payload: json.RawMessage(data)})
				return nil
			})
		if err != nil {
			cancelAll()
			return nil, err
		}
		cancels = append(cancels, cancel)
	}

	return cancelAll, nil
}

// messageType prefers the payload's own type field; report and CI payloads
// carry none, so those fall back to the queue subject.
func messageType(subject string, data []byte) string {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Type != "" {
		return envelope.Type
	}
	return subject
}
