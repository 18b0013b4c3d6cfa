// Package natspub publishes cache improvements on a NATS subject.
package natspub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "fulltext.articles.improved"

type conn interface {
	PublishMsg(m *nats.Msg) error
}

// Publisher wraps a NATS connection.
type Publisher struct {
	conn    conn
	subject string
}

// New creates a Publisher for subject on nc.
func New(nc *nats.Conn, subject string) *Publisher {
	if nc == nil {
		return newPublisher(nil, subject)
	}
	return newPublisher(nc, subject)
}

func newPublisher(c conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: c, subject: subject}
}

// Publish marshals the event to JSON and publishes it. The event ID is set
// as the message ID so JetStream-backed subjects drop redeliveries.
func (p *Publisher) Publish(ctx context.Context, event article.Improvement) error {
	if p.conn == nil {
		return fmt.Errorf("nats publisher is not configured")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish improvement: %w", err)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal improvement: %w", err)
	}
	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, event.ID)
	msg.Header.Set("Fulltext-Source", event.Source.String())
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish improvement: %w", err)
	}
	return nil
}
