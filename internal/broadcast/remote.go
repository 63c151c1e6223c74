package broadcast

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/spyrothon/graphics-sub000/internal/mqtt"
)

// relay is the local half of a remote bus. Published messages reach local
// subscribers immediately; remote copies of our own messages are skipped.
type relay struct {
	*Local
	source string
	log    zerolog.Logger
}

func newRelay(log zerolog.Logger) relay {
	return relay{Local: NewLocal(), source: uuid.NewString(), log: log}
}

func (r relay) receive(b []byte) {
	source, msg, err := Decode(b)
	if err != nil {
		r.log.Warn().Err(err).Msg("dropping broadcast message")
		return
	}
	if source == r.source {
		return
	}
	r.deliver(msg)
}

// MQTTTopic returns the broker topic the bus uses under prefix.
func MQTTTopic(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/broadcast"
}

// MQTTBus relays messages through an MQTT broker.
type MQTTBus struct {
	relay
	client *mqtt.Client
	topic  string
}

// NewMQTTBus subscribes client to the broadcast topic under prefix.
func NewMQTTBus(client *mqtt.Client, prefix string, log zerolog.Logger) (*MQTTBus, error) {
	b := &MQTTBus{relay: newRelay(log), client: client, topic: MQTTTopic(prefix)}
	if err := client.Subscribe(b.topic, func(_ string, payload []byte) {
		b.receive(payload)
	}); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", b.topic, err)
	}
	return b, nil
}

// Publish delivers msg locally and forwards it to the broker.
func (b *MQTTBus) Publish(_ context.Context, msg Message) error {
	b.deliver(msg)
	payload, err := Encode(b.source, msg)
	if err != nil {
		return err
	}
	return b.client.Publish(b.topic, payload)
}

// Close closes local subscriptions. The MQTT client is owned by the caller.
func (b *MQTTBus) Close() error {
	return b.Local.Close()
}

// NATSSubject returns the subject the bus uses under prefix.
func NATSSubject(prefix string) string {
	return strings.TrimSuffix(prefix, ".") + ".broadcast"
}

// NATSBus relays messages through a NATS server.
type NATSBus struct {
	relay
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string
}

// DialNATS connects to url with reconnects enabled.
func DialNATS(url, name string, log zerolog.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
}

// NewNATSBus subscribes conn to the broadcast subject under prefix.
func NewNATSBus(conn *nats.Conn, prefix string, log zerolog.Logger) (*NATSBus, error) {
	b := &NATSBus{relay: newRelay(log), conn: conn, subject: NATSSubject(prefix)}
	sub, err := conn.Subscribe(b.subject, func(m *nats.Msg) {
		b.receive(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", b.subject, err)
	}
	b.sub = sub
	return b, nil
}

// Publish delivers msg locally and forwards it to the server.
func (b *NATSBus) Publish(_ context.Context, msg Message) error {
	b.deliver(msg)
	payload, err := Encode(b.source, msg)
	if err != nil {
		return err
	}
	return b.conn.Publish(b.subject, payload)
}

// Close unsubscribes and closes local subscriptions. The connection is owned
// by the caller.
func (b *NATSBus) Close() error {
	err := b.sub.Unsubscribe()
	b.Local.Close()
	return err
}
