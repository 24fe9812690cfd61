// Package notify is the notification collaborator. Delivery is fire and
// forget: the bidding path never blocks on it and never fails because of it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"
)

// EventKind names a user-facing notification event.
type EventKind string

const (
	// KindOutbid tells the previous leading bidder they lost the lead.
	KindOutbid EventKind = "outbid"
	// KindBidReceived tells the lot owner a new bid arrived.
	KindBidReceived EventKind = "bid_received"
)

// Event is the wire payload published per notification.
type Event struct {
	UserID    string          `json:"userId"`
	Kind      EventKind       `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type Notifier interface {
	Notify(ctx context.Context, userID string, kind EventKind, payload any)
}

// NATSNotifier publishes notification events on notify.<kind>.<userID>
// subjects. Downstream delivery (email, in-app) subscribes there.
type NATSNotifier struct {
	conn *nats.Conn
}

func NewNATS(url string) (*NATSNotifier, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("error connecting to NATS: %w", err)
	}
	return &NATSNotifier{conn: conn}, nil
}

func (n *NATSNotifier) Notify(ctx context.Context, userID string, kind EventKind, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Warnf("Dropping %s notification for %s: %v", kind, userID, err)
		return
	}
	event := Event{
		UserID:    userID,
		Kind:      kind,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(&event)
	if err != nil {
		log.Warnf("Dropping %s notification for %s: %v", kind, userID, err)
		return
	}

	subject := fmt.Sprintf("notify.%s.%s", kind, userID)
	if err := n.conn.Publish(subject, data); err != nil {
		log.Warnf("Failed to publish %s notification for %s: %v", kind, userID, err)
	}
}

func (n *NATSNotifier) Close() {
	n.conn.Close()
}

// Noop discards all notifications; used when NATS is disabled and in tests.
type Noop struct{}

func (Noop) Notify(ctx context.Context, userID string, kind EventKind, payload any) {}
