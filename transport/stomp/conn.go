package stomp

import (
	"sync"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"

	"github.com/drblury/serialbridge/internal/runtime/metadata"
)

// Frame is one MESSAGE frame received from the broker.
type Frame struct {
	Destination string
	Headers     map[string]string
	Body        []byte
	Err         error
}

// Conn is the subset of a STOMP connection the transport needs.
type Conn interface {
	Send(destination string, body []byte, headers map[string]string) error
	Subscribe(destination string) (Subscription, error)
	Disconnect() error
}

// Subscription delivers frames for one destination until Unsubscribe.
type Subscription interface {
	Frames() <-chan Frame
	Unsubscribe() error
}

type stompConn struct {
	conn *stomp.Conn
}

func (c *stompConn) Send(destination string, body []byte, headers map[string]string) error {
	opts := make([]func(*frame.Frame) error, 0, len(headers))
	for k, v := range headers {
		opts = append(opts, stomp.SendOpt.Header(k, v))
	}
	return c.conn.Send(destination, metadata.ContentTypeJSON, body, opts...)
}

func (c *stompConn) Subscribe(destination string) (Subscription, error) {
	sub, err := c.conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, err
	}

	s := &stompSubscription{
		sub:    sub,
		frames: make(chan Frame),
		done:   make(chan struct{}),
	}
	go s.forward()
	return s, nil
}

func (c *stompConn) Disconnect() error {
	return c.conn.Disconnect()
}

type stompSubscription struct {
	sub    *stomp.Subscription
	frames chan Frame
	done   chan struct{}
	once   sync.Once
}

func (s *stompSubscription) Frames() <-chan Frame {
	return s.frames
}

func (s *stompSubscription) forward() {
	defer close(s.frames)
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-s.sub.C:
			if !ok {
				return
			}
			f := toFrame(m)
			select {
			case s.frames <- f:
			case <-s.done:
				return
			}
			if f.Err != nil {
				return
			}
		}
	}
}

func (s *stompSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.sub.Unsubscribe()
	})
	return err
}

func toFrame(m *stomp.Message) Frame {
	if m.Err != nil {
		return Frame{Err: m.Err}
	}
	f := Frame{
		Destination: m.Destination,
		Body:        m.Body,
		Headers:     map[string]string{},
	}
	if m.Header != nil {
		for i := 0; i < m.Header.Len(); i++ {
			k, v := m.Header.GetAt(i)
			f.Headers[k] = v
		}
	}
	return f
}
