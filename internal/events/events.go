// Package events publishes session lifecycle events to NATS so other
// systems can observe the pipeline. Publishing is fire-and-forget and
// nil-safe: a pipeline without a broker runs exactly the same.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jordanhubbard/queryforge/pkg/models"
)

// Event is the wire form of one session lifecycle event.
type Event struct {
	Type      string       `json:"type"`
	SessionID string       `json:"session_id"`
	From      models.State `json:"from,omitempty"`
	To        models.State `json:"to,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Publisher emits events onto a NATS subject tree. A nil Publisher is
// valid and drops everything.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// Connect dials NATS and returns a publisher rooted at the subject
// prefix (default "queryforge").
func Connect(url, subjectPrefix string) (*Publisher, error) {
	if subjectPrefix == "" {
		subjectPrefix = "queryforge"
	}
	nc, err := nats.Connect(url,
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("[Events] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[Events] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Printf("[Events] Connected to NATS at %s", url)
	return &Publisher{conn: nc, subject: subjectPrefix}, nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}

// Transition publishes one state machine edge.
func (p *Publisher) Transition(sessionID string, from, to models.State, reason string) {
	p.publish("transition", Event{
		Type:      "transition",
		SessionID: sessionID,
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
}

// Outcome publishes the terminal result of a session.
func (p *Publisher) Outcome(sessionID string, kind string) {
	p.publish("outcome."+kind, Event{
		Type:      "outcome",
		SessionID: sessionID,
		Reason:    kind,
		Timestamp: time.Now().UTC(),
	})
}

func (p *Publisher) publish(suffix string, ev Event) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[Events] Failed to marshal event: %v", err)
		return
	}
	subject := fmt.Sprintf("%s.session.%s", p.subject, suffix)
	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("[Events] Failed to publish %s: %v", subject, err)
	}
}
