package metadata

import (
	"maps"

	"github.com/ThreeDotsLabs/watermill/message"
)

func FromWatermill(md message.Metadata) Metadata {
	return Metadata(maps.Clone(md))
}

// Watermill returns a copy usable as message headers.
func (m Metadata) Watermill() message.Metadata {
	return message.Metadata(maps.Clone(m))
}
