package stomp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/serialbridge/internal/runtime/metadata"
	"github.com/drblury/serialbridge/transport"
	"github.com/drblury/serialbridge/transport/transporttest"
)

type sentFrame struct {
	destination string
	body        []byte
	headers     map[string]string
}

type fakeSubscription struct {
	frames chan Frame
	once   sync.Once
}

func (s *fakeSubscription) Frames() <-chan Frame { return s.frames }

func (s *fakeSubscription) Unsubscribe() error {
	s.once.Do(func() { close(s.frames) })
	return nil
}

type fakeConn struct {
	mu           sync.Mutex
	sent         []sentFrame
	subs         map[string]*fakeSubscription
	sendErr      error
	disconnected bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{subs: map[string]*fakeSubscription{}}
}

func (c *fakeConn) Send(destination string, body []byte, headers map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, sentFrame{destination: destination, body: body, headers: headers})
	return nil
}

func (c *fakeConn) Subscribe(destination string) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := &fakeSubscription{frames: make(chan Frame, 4)}
	c.subs[destination] = sub
	return sub, nil
}

func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *fakeConn) subscription(dest string) *fakeSubscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[dest]
}

func TestRegister(t *testing.T) {
	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "stomp", caps.Name)
	assert.True(t, caps.CrossesProcesses())
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.StompCapabilities, Capabilities())
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "localhost:61613", Address(&transporttest.Config{}))
	assert.Equal(t, "broker:1234", Address(&transporttest.Config{BrokerHost: "broker", BrokerPort: 1234}))
}

func TestBuild(t *testing.T) {
	t.Run("dials with configured credentials", func(t *testing.T) {
		original := Dialer
		defer func() { Dialer = original }()

		conn := newFakeConn()
		var gotAddr, gotUser, gotPass string
		Dialer = func(addr, user, password string) (Conn, error) {
			gotAddr, gotUser, gotPass = addr, user, password
			return conn, nil
		}

		cfg := &transporttest.Config{BrokerHost: "mq", BrokerPort: 61613, BrokerUser: "pi", BrokerPassword: "raspberry"}
		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)

		assert.Equal(t, "mq:61613", gotAddr)
		assert.Equal(t, "pi", gotUser)
		assert.Equal(t, "raspberry", gotPass)
		assert.Same(t, tr.Publisher, tr.Subscriber)

		require.NoError(t, tr.Close())
		assert.True(t, conn.disconnected)
	})

	t.Run("wraps dial errors", func(t *testing.T) {
		original := Dialer
		defer func() { Dialer = original }()

		Dialer = func(addr, user, password string) (Conn, error) {
			return nil, errors.New("connection refused")
		}

		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
		assert.Contains(t, err.Error(), "localhost:61613")
	})
}

func TestPublishSendsMetadataAsHeaders(t *testing.T) {
	conn := newFakeConn()
	ps := NewPubSub(conn, nil)

	msg := message.NewMessage("01HX", []byte(`{"Watts":"00345"}`))
	msg.Metadata.Set(metadata.KeyRule, "ccost")

	require.NoError(t, ps.Publish("/topic/ccost", msg))
	require.Len(t, conn.sent, 1)

	sent := conn.sent[0]
	assert.Equal(t, "/topic/ccost", sent.destination)
	assert.Equal(t, `{"Watts":"00345"}`, string(sent.body))
	assert.Equal(t, "ccost", sent.headers[metadata.KeyRule])
	assert.Equal(t, "01HX", sent.headers[metadata.KeyMessageID])
}

func TestPublishErrors(t *testing.T) {
	conn := newFakeConn()
	conn.sendErr = errors.New("broken pipe")
	ps := NewPubSub(conn, nil)

	err := ps.Publish("/topic/a", message.NewMessage("1", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")

	require.NoError(t, ps.Close())
	assert.ErrorIs(t, ps.Publish("/topic/a", message.NewMessage("2", nil)), ErrClosed)
	_, err = ps.Subscribe(context.Background(), "/topic/a")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubscribeDeliversFrames(t *testing.T) {
	conn := newFakeConn()
	ps := NewPubSub(conn, nil)
	defer ps.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := ps.Subscribe(ctx, "/topic/ccost")
	require.NoError(t, err)

	sub := conn.subscription("/topic/ccost")
	require.NotNil(t, sub)
	sub.frames <- Frame{
		Destination: "/topic/ccost",
		Body:        []byte(`{"a":"1"}`),
		Headers:     map[string]string{metadata.KeyMessageID: "abc", "x": "y"},
	}

	select {
	case msg := <-msgs:
		assert.Equal(t, "abc", msg.UUID)
		assert.Equal(t, `{"a":"1"}`, string(msg.Payload))
		assert.Equal(t, "/topic/ccost", msg.Metadata.Get(metadata.KeyTopic))
		assert.Equal(t, "y", msg.Metadata.Get("x"))
		assert.Empty(t, msg.Metadata.Get(metadata.KeyMessageID))
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSubscribeClosesOnFrameError(t *testing.T) {
	conn := newFakeConn()
	ps := NewPubSub(conn, nil)
	defer ps.Close()

	msgs, err := ps.Subscribe(context.Background(), "/topic/a")
	require.NoError(t, err)

	conn.subscription("/topic/a").frames <- Frame{Err: errors.New("connection lost")}

	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}
}

func TestSubscribeClosesOnContextCancel(t *testing.T) {
	conn := newFakeConn()
	ps := NewPubSub(conn, nil)
	defer ps.Close()

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := ps.Subscribe(ctx, "/topic/a")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}
}

func TestToMessageGeneratesIDWhenMissing(t *testing.T) {
	msg := toMessage("/topic/a", Frame{Body: []byte("x")})
	assert.NotEmpty(t, msg.UUID)
	assert.Equal(t, "/topic/a", msg.Metadata.Get(metadata.KeyTopic))

	msg = toMessage("/topic/a", Frame{Headers: map[string]string{"message-id": "m-1"}})
	assert.Equal(t, "m-1", msg.UUID)
}
