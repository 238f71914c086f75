package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/serialbridge/transport/transporttest"
)

func okBuilder(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return Transport{
		Publisher:  &mockPublisher{},
		Subscriber: &mockSubscriber{},
	}, nil
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.NotNil(t, reg)
	assert.Empty(t, reg.Names())
}

func TestRegistry_RegisterWithCapabilities(t *testing.T) {
	reg := NewRegistry()

	reg.RegisterWithCapabilities("test-transport", okBuilder, Capabilities{
		Name:        "test-transport",
		SupportsAck: true,
		Durable:     true,
	})

	assert.True(t, reg.Has("test-transport"))
	caps := reg.GetCapabilities("test-transport")
	assert.Equal(t, "test-transport", caps.Name)
	assert.True(t, caps.SupportsAck)
	assert.True(t, caps.Durable)
}

func TestRegistry_GetCapabilities_Unknown(t *testing.T) {
	caps := NewRegistry().GetCapabilities("unknown")
	assert.Equal(t, "unknown", caps.Name)
	assert.False(t, caps.SupportsAck)
}

func TestRegistry_Build(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test-transport", okBuilder)

	tr, err := reg.Build(context.Background(), &transporttest.Config{PubSubSystem: "test-transport"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
}

func TestRegistry_Build_NilConfig(t *testing.T) {
	_, err := NewRegistry().Build(context.Background(), nil, nil)
	assert.ErrorContains(t, err, "config is required")
}

func TestRegistry_Build_UnknownTransport(t *testing.T) {
	reg := NewRegistry()
	reg.Register("stomp", okBuilder)

	_, err := reg.Build(context.Background(), &transporttest.Config{PubSubSystem: "mqtt"}, nil)
	assert.ErrorIs(t, err, ErrUnknownTransport)
	assert.ErrorContains(t, err, `"mqtt"`)
	assert.ErrorContains(t, err, "stomp")
}

func TestRegistry_Build_BuilderError(t *testing.T) {
	reg := NewRegistry()
	expectedErr := errors.New("builder error")
	reg.Register("failing", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, expectedErr
	})

	_, err := reg.Build(context.Background(), &transporttest.Config{PubSubSystem: "failing"}, nil)
	assert.ErrorIs(t, err, expectedErr)
	assert.ErrorContains(t, err, "failing: ")
}

func TestRegistry_RegisterKeepsCapabilities(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("stomp", okBuilder, Capabilities{Name: "stomp", SupportsAck: true})
	reg.Register("stomp", okBuilder)

	assert.True(t, reg.GetCapabilities("stomp").SupportsAck)
}

func TestRegistry_BuildPassesNamedLogger(t *testing.T) {
	reg := NewRegistry()
	var got watermill.LoggerAdapter
	reg.Register("stomp", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		got = logger
		return Transport{}, nil
	})

	_, err := reg.Build(context.Background(), &transporttest.Config{PubSubSystem: "stomp"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("stomp", okBuilder)
	reg.Register("channel", okBuilder)
	reg.Register("nats", okBuilder)

	assert.Equal(t, []string{"channel", "nats", "stomp"}, reg.Names())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				reg.Register("transport", okBuilder)
				reg.Has("transport")
				reg.Names()
				reg.GetCapabilities("transport")
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.True(t, reg.Has("transport"))
}

func TestPackageLevelRegisterWithCapabilities(t *testing.T) {
	RegisterWithCapabilities("test-pkg-caps-transport", okBuilder, Capabilities{Name: "test-pkg-caps-transport", Durable: true})

	assert.True(t, DefaultRegistry.Has("test-pkg-caps-transport"))
	assert.True(t, GetCapabilities("test-pkg-caps-transport").Durable)
}

func TestBuildWithDefaultRegistryUnknown(t *testing.T) {
	_, err := Build(context.Background(), &transporttest.Config{PubSubSystem: "nonexistent"}, nil)
	assert.Error(t, err)
}
