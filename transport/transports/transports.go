// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/drblury/serialbridge/transport/aws"
	_ "github.com/drblury/serialbridge/transport/channel"
	_ "github.com/drblury/serialbridge/transport/http"
	_ "github.com/drblury/serialbridge/transport/io"
	_ "github.com/drblury/serialbridge/transport/kafka"
	_ "github.com/drblury/serialbridge/transport/nats"
	_ "github.com/drblury/serialbridge/transport/rabbitmq"
	_ "github.com/drblury/serialbridge/transport/stomp"
)
