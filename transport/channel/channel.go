// Package channel is an in-process transport on top of Watermill's gochannel.
// Publisher and subscriber only meet inside one process, so it serves tests
// and running both sides of the bridge in one binary.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/serialbridge/transport"
)

const TransportName = "channel"

var (
	// BufferSize is the per-subscription output buffer.
	BufferSize int64 = 64

	// Replay keeps every published message and hands it to subscriptions
	// made later. Off by default: records published with no subscriber are
	// dropped, as on a broker topic.
	Replay = false

	// Factory creates the pub/sub pair. Tests replace it.
	Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		bus := gochannel.NewGoChannel(cfg, logger)
		return bus, bus
	}
)

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build ignores cfg; every call returns a fresh, unconnected bus.
func Build(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{
		OutputChannelBuffer: BufferSize,
		Persistent:          Replay,
	}, logger)
	return transport.Transport{Publisher: pub, Subscriber: sub}, nil
}

func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
