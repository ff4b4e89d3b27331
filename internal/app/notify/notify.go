package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/nats-io/nats.go"
	"metalink/internal/app/logger"
	"metalink/internal/app/model"
	"time"
)

type EventType string

const (
	EventTransactionCreated       EventType = "transaction.created"
	EventTransactionStatusChanged EventType = "transaction.status_changed"
)

type Event struct {
	Type        EventType          `json:"type"`
	Transaction *model.Transaction `json:"transaction"`
	OccurredAt  time.Time          `json:"occurredAt"`
}

// Publisher delivers transaction lifecycle events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error {
	return nil
}

type conn interface {
	Publish(subj string, data []byte) error
}

// NATS publishes events on <prefix>.<event type>.
type NATS struct {
	conn   conn
	prefix string
}

func (p *NATS) LoggerComponent() string {
	return "Notify.NATS"
}

func NewNATS(nc *nats.Conn, prefix string) *NATS {
	return &NATS{conn: nc, prefix: prefix}
}

// Connect to the NATS server at url.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("metalink"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

func (p *NATS) Publish(ctx context.Context, e Event) error {
	l := logger.Get(ctx, p)

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	subject := p.prefix + "." + string(e.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		l.Error().Err(err).Str("subject", subject).Msg("Publish failed")
		return fmt.Errorf("nats publish: %w", err)
	}

	l.Debug().Str("subject", subject).Msg("Event published")

	return nil
}
