// Package stomp provides a STOMP transport, the protocol the bridge was
// originally deployed on (ActiveMQ, Apollo, RabbitMQ's STOMP plugin).
package stomp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-stomp/stomp/v3"

	"github.com/drblury/serialbridge/internal/runtime/ids"
	"github.com/drblury/serialbridge/internal/runtime/metadata"
	"github.com/drblury/serialbridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "stomp"

const (
	// DefaultHost is used when no broker host is configured.
	DefaultHost = "localhost"
	// DefaultPort is the standard STOMP port.
	DefaultPort = 61613

	heartBeat = 30 * time.Second
)

// ErrClosed is returned when publishing or subscribing on a closed transport.
var ErrClosed = errors.New("stomp: transport closed")

// Dialer allows overriding the broker connection for testing.
var Dialer = func(addr, user, password string) (Conn, error) {
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(heartBeat, heartBeat),
	}
	if user != "" {
		opts = append(opts, stomp.ConnOpt.Login(user, password))
	}
	conn, err := stomp.Dial("tcp", addr, opts...)
	if err != nil {
		return nil, err
	}
	return &stompConn{conn: conn}, nil
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.StompCapabilities)
}

// Build connects to the broker. The returned transport uses a single
// connection for both publishing and subscribing.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	addr := Address(cfg)
	logger.Info("Connecting to STOMP broker", watermill.LogFields{
		"addr": addr,
		"user": cfg.GetBrokerUser(),
	})

	conn, err := Dialer(addr, cfg.GetBrokerUser(), cfg.GetBrokerPassword())
	if err != nil {
		return transport.Transport{}, fmt.Errorf("stomp: connect %s: %w", addr, err)
	}

	pubSub := NewPubSub(conn, logger)
	return transport.Transport{
		Publisher:  pubSub,
		Subscriber: pubSub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.StompCapabilities
}

// Address returns host:port for the configured broker, applying defaults.
func Address(cfg transport.Config) string {
	host := cfg.GetBrokerHost()
	if host == "" {
		host = DefaultHost
	}
	port := cfg.GetBrokerPort()
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// PubSub is a watermill Publisher and Subscriber over one STOMP connection.
type PubSub struct {
	conn   Conn
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	closed  bool
	closing chan struct{}
	subs    []Subscription
	wg      sync.WaitGroup
}

// NewPubSub wraps an established connection.
func NewPubSub(conn Conn, logger watermill.LoggerAdapter) *PubSub {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &PubSub{conn: conn, logger: logger, closing: make(chan struct{})}
}

// Publish sends each message as a SEND frame to the destination named by topic.
// Message metadata travels as frame headers.
func (p *PubSub) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}

	for _, msg := range messages {
		headers := make(map[string]string, len(msg.Metadata)+1)
		for k, v := range msg.Metadata {
			headers[k] = v
		}
		headers[metadata.KeyMessageID] = msg.UUID

		if err := p.conn.Send(topic, msg.Payload, headers); err != nil {
			return fmt.Errorf("stomp: send to %s: %w", topic, err)
		}
	}
	return nil
}

// Subscribe registers on the destination named by topic. The returned channel
// is closed when ctx is cancelled, the transport is closed, or the broker
// connection fails.
func (p *PubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	sub, err := p.conn.Subscribe(topic)
	if err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("stomp: subscribe %s: %w", topic, err)
	}
	p.subs = append(p.subs, sub)
	p.wg.Add(1)
	p.mu.Unlock()

	out := make(chan *message.Message)
	go func() {
		defer p.wg.Done()
		defer close(out)
		p.consume(ctx, topic, sub, out)
	}()

	return out, nil
}

func (p *PubSub) consume(ctx context.Context, topic string, sub Subscription, out chan<- *message.Message) {
	for {
		select {
		case <-ctx.Done():
			_ = sub.Unsubscribe()
			return
		case f, ok := <-sub.Frames():
			if !ok {
				return
			}
			if f.Err != nil {
				p.logger.Error("STOMP subscription failed", f.Err, watermill.LogFields{"topic": topic})
				return
			}

			msg := toMessage(topic, f)
			select {
			case out <- msg:
			case <-ctx.Done():
				_ = sub.Unsubscribe()
				return
			case <-p.closing:
				return
			}

			select {
			case <-msg.Acked():
			case <-msg.Nacked():
				p.logger.Debug("Message nacked", watermill.LogFields{"uuid": msg.UUID, "topic": topic})
			case <-ctx.Done():
				_ = sub.Unsubscribe()
				return
			case <-p.closing:
				return
			}
		}
	}
}

func toMessage(topic string, f Frame) *message.Message {
	uuid := f.Headers[metadata.KeyMessageID]
	if uuid == "" {
		uuid = f.Headers["message-id"]
	}
	if uuid == "" {
		uuid = ids.CreateULID()
	}

	msg := message.NewMessage(uuid, f.Body)
	for k, v := range f.Headers {
		if k == metadata.KeyMessageID {
			continue
		}
		msg.Metadata.Set(k, v)
	}

	dest := f.Destination
	if dest == "" {
		dest = topic
	}
	msg.Metadata.Set(metadata.KeyTopic, dest)
	return msg
}

// Close unsubscribes every active subscription and disconnects from the broker.
func (p *PubSub) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closing)
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	p.wg.Wait()

	return p.conn.Disconnect()
}
