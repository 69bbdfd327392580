package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultSubjectPrefix is the subject root of governance events.
// Events go to <prefix>.<register>.<action>.
const DefaultSubjectPrefix = "governance.events"

// streamPublisher is the part of jetstream.JetStream the publisher uses.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSPublisher publishes events to a JetStream subject.
type NATSPublisher struct {
	js     streamPublisher
	conn   *nats.Conn
	prefix string
}

// DialNATS connects to a NATS server and returns a publisher on its JetStream.
func DialNATS(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("semreq"))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	p := newNATSPublisher(js, prefix)
	p.conn = nc
	return p, nil
}

func newNATSPublisher(js streamPublisher, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{js: js, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject an event is published to.
func (p *NATSPublisher) Subject(e Event) string {
	return p.prefix + "." + e.Register + "." + e.Action
}

// Publish sends the event and waits for the stream acknowledgement.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	data, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := p.js.Publish(ctx, p.Subject(e), data, jetstream.WithMsgID(e.ID)); err != nil {
		return fmt.Errorf("publish %s: %w", p.Subject(e), err)
	}
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
