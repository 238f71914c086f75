package serialbridge

import (
	"github.com/drblury/serialbridge/internal/coerce"
	"github.com/drblury/serialbridge/internal/pipeline"
	"github.com/drblury/serialbridge/internal/routing"
	runtimepkg "github.com/drblury/serialbridge/internal/runtime"
	configpkg "github.com/drblury/serialbridge/internal/runtime/config"
	errspkg "github.com/drblury/serialbridge/internal/runtime/errors"
	idspkg "github.com/drblury/serialbridge/internal/runtime/ids"
	jsoncodec "github.com/drblury/serialbridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/serialbridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/serialbridge/internal/runtime/metadata"
	"github.com/drblury/serialbridge/internal/source"
	"github.com/drblury/serialbridge/storage"
	"github.com/drblury/serialbridge/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Status              = runtimepkg.Status

	// Ingest pipeline
	Record          = pipeline.Record
	Field           = pipeline.Field
	ExtractionRule  = pipeline.ExtractionRule
	Chain           = pipeline.Chain
	Stage           = pipeline.Stage
	ExclusionFilter = pipeline.ExclusionFilter

	// Egress routing and coercion
	Destination     = routing.Destination
	Binding         = routing.Binding
	BindingTable    = routing.Table
	DuplicatePolicy = routing.DuplicatePolicy
	Document        = coerce.Document
	Entry           = coerce.Entry
	Value           = coerce.Value

	// Line sources
	LineSource = source.LineSource
	LineOpener = source.Opener
	Reconnect  = source.Reconnect

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigError    = errspkg.ConfigError
	TransportError = errspkg.TransportError
	StoreError     = errspkg.StoreError
	SourceError    = errspkg.SourceError

	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities

	Store         = storage.Store
	StoreBuilder  = storage.Builder
	StoreConfig   = storage.Config
	StoreRegistry = storage.Registry
)

var (
	NewService     = runtimepkg.NewService
	ValidateConfig = configpkg.ValidateConfig
	NewViper       = configpkg.NewViper
	LoadConfig     = configpkg.Load

	BuiltinRules      = pipeline.BuiltinRules
	BuiltinExclusions = pipeline.BuiltinExclusions
	LoadRuleFile      = pipeline.LoadRuleFile
	ChainForRule      = pipeline.ChainForRule

	ParseDestination = routing.ParseDestination
	NewBindingTable  = routing.NewTable
	LoadBindingsFile = routing.LoadFile

	Coerce             = coerce.Coerce
	DecodePayload      = coerce.Decode
	DocumentFromRecord = coerce.Record

	OpenSerial = source.OpenSerial
	OpenFile   = source.OpenFile

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build

	DefaultStoreRegistry = storage.DefaultRegistry
	RegisterStore        = storage.Register
	BuildStore           = storage.Build

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal

	ErrPublisherRequired  = errspkg.ErrPublisherRequired
	ErrSubscriberRequired = errspkg.ErrSubscriberRequired
	ErrStoreRequired      = errspkg.ErrStoreRequired
	ErrTopicRequired      = errspkg.ErrTopicRequired
	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrSourceRequired     = errspkg.ErrSourceRequired
	ErrExcludedLine       = errspkg.ErrExcludedLine
	ErrUnmatchedLine      = errspkg.ErrUnmatchedLine
	ErrUnknownTopic       = errspkg.ErrUnknownTopic
	ErrRuleNotFound       = errspkg.ErrRuleNotFound
	ErrGroupCountMismatch = errspkg.ErrGroupCountMismatch
	ErrDuplicateBinding   = errspkg.ErrDuplicateBinding
	ErrInvalidDestination = errspkg.ErrInvalidDestination

	IsFatal       = errspkg.IsFatal
	IsRecoverable = errspkg.IsRecoverable

	NewLogger            = loggingpkg.New
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger

	RecordMetadata = metadatapkg.ForRecord

	CreateULID = idspkg.CreateULID
	ULIDTime   = idspkg.Time
)

// Metadata keys set on every published record.
const (
	MetadataKeyMessageID   = metadatapkg.KeyMessageID
	MetadataKeyRule        = metadatapkg.KeyRule
	MetadataKeyTopic       = metadatapkg.KeyTopic
	MetadataKeyContentType = metadatapkg.KeyContentType
	MetadataKeyReadAt      = metadatapkg.KeyReadAt
)

// Duplicate binding policies.
const (
	DuplicatesWarn   = routing.DuplicatesWarn
	DuplicatesReject = routing.DuplicatesReject
)
