package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/ini.v1"

	errspkg "github.com/drblury/serialbridge/internal/runtime/errors"
)

// EnvPrefix prefixes environment overrides: SERIALBRIDGE_STOMP_HOST sets stomp.host.
const EnvPrefix = "SERIALBRIDGE"

// DefaultConfigFile is read when no --config flag is given. A missing default
// file is not an error.
const DefaultConfigFile = "config.ini"

// Configuration keys. The section names follow the legacy config.ini layout.
const (
	KeyPubSubSystem       = "pubsub.system"
	KeyKafkaBrokers       = "pubsub.kafka_brokers"
	KeyKafkaConsumerGroup = "pubsub.kafka_group"
	KeyRabbitMQURL        = "pubsub.rabbitmq_url"
	KeyNATSURL            = "pubsub.nats_url"
	KeyHTTPServerAddress  = "pubsub.http_addr"
	KeyHTTPPublisherURL   = "pubsub.http_url"
	KeyIOFile             = "pubsub.io_file"

	KeyAWSRegion          = "aws.region"
	KeyAWSAccountID       = "aws.account_id"
	KeyAWSAccessKeyID     = "aws.access_key_id"
	KeyAWSSecretAccessKey = "aws.secret_access_key"
	KeyAWSEndpoint        = "aws.endpoint"

	KeyStompHost = "stomp.host"
	KeyStompPort = "stomp.port"
	KeyStompUser = "stomp.user"
	KeyStompPass = "stomp.pass"

	KeyDeviceKind              = "device.kind"
	KeyDevicePath              = "device.path"
	KeyDeviceBaud              = "device.baud"
	KeyDeviceReconnectAttempts = "device.reconnect_attempts"
	KeyDeviceReconnectMin      = "device.reconnect_min"
	KeyDeviceReconnectMax      = "device.reconnect_max"
	KeyDeviceReconnectFactor   = "device.reconnect_factor"

	KeyPublishTopic   = "publish.topic"
	KeyPublishLog     = "publish.log"
	KeyPublishLogDir  = "publish.logdir"
	KeyPublishRules   = "publish.rules"
	KeyPublishRule    = "publish.rule"
	KeyPublishExclude = "publish.exclude"

	KeySubscribeList       = "subscribe.list"
	KeySubscribeDuplicates = "subscribe.duplicates"
	KeySubscribeBackend    = "subscribe.backend"
	KeySubscribeURL        = "subscribe.url"
	KeySubscribeHost       = "subscribe.host"
	KeySubscribePort       = "subscribe.port"
	KeySubscribePath       = "subscribe.path"

	KeyMetricsPort = "metrics.port"
	KeyVerbosity   = "verbosity"
)

// Legacy defaults.
const (
	DefaultDevicePath = "/dev/serial/by-id/usb-Prolific_Technology_Inc._USB-Serial_Controller-if00-port0"
	DefaultDeviceBaud = 57600
	DefaultTopic      = "/topic/ccost"
	DefaultLogDir     = "/var/log/"
	DefaultRuleName   = "ccost"
)

// NewViper returns a viper instance carrying every default and the
// environment binding. Command-line flags are bound into it by the caller.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyPubSubSystem, "stomp")
	v.SetDefault(KeyKafkaBrokers, "")
	v.SetDefault(KeyKafkaConsumerGroup, "serialbridge")
	v.SetDefault(KeyRabbitMQURL, "")
	v.SetDefault(KeyNATSURL, "")
	v.SetDefault(KeyHTTPServerAddress, "")
	v.SetDefault(KeyHTTPPublisherURL, "")
	v.SetDefault(KeyIOFile, "")

	v.SetDefault(KeyAWSRegion, "")
	v.SetDefault(KeyAWSAccountID, "")
	v.SetDefault(KeyAWSAccessKeyID, "")
	v.SetDefault(KeyAWSSecretAccessKey, "")
	v.SetDefault(KeyAWSEndpoint, "")

	v.SetDefault(KeyStompHost, "localhost")
	v.SetDefault(KeyStompPort, 61613)
	v.SetDefault(KeyStompUser, "pi")
	v.SetDefault(KeyStompPass, "raspberry")

	v.SetDefault(KeyDeviceKind, SourceSerial)
	v.SetDefault(KeyDevicePath, DefaultDevicePath)
	v.SetDefault(KeyDeviceBaud, DefaultDeviceBaud)
	v.SetDefault(KeyDeviceReconnectAttempts, 0)
	v.SetDefault(KeyDeviceReconnectMin, time.Second)
	v.SetDefault(KeyDeviceReconnectMax, 30*time.Second)
	v.SetDefault(KeyDeviceReconnectFactor, 2.0)

	v.SetDefault(KeyPublishTopic, DefaultTopic)
	v.SetDefault(KeyPublishLog, false)
	v.SetDefault(KeyPublishLogDir, DefaultLogDir)
	v.SetDefault(KeyPublishRules, "")
	v.SetDefault(KeyPublishRule, DefaultRuleName)
	v.SetDefault(KeyPublishExclude, nil)

	v.SetDefault(KeySubscribeList, "")
	v.SetDefault(KeySubscribeDuplicates, DuplicatesWarn)
	v.SetDefault(KeySubscribeBackend, "mongo")
	v.SetDefault(KeySubscribeURL, "")
	v.SetDefault(KeySubscribeHost, "localhost")
	v.SetDefault(KeySubscribePort, 27017)
	v.SetDefault(KeySubscribePath, "")

	v.SetDefault(KeyMetricsPort, 0)
	v.SetDefault(KeyVerbosity, 0)
	return v
}

// Load reads path into v and builds the Config. INI files are parsed with
// the legacy section layout; YAML, TOML, and JSON go through viper directly.
// An empty path or a missing default file leaves the defaults in place.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = NewViper()
	}
	if err := readFile(v, path); err != nil {
		return nil, err
	}
	return FromViper(v), nil
}

func readFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultConfigFile {
			return nil
		}
		return errspkg.NewConfigError("config", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".ini") {
		return mergeINI(v, path)
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errspkg.NewConfigError("config", err)
	}
	return nil
}

// mergeINI loads an INI file section by section. Keys outside a section are
// ignored, matching the legacy parser.
func mergeINI(v *viper.Viper, path string) error {
	file, err := ini.Load(path)
	if err != nil {
		return errspkg.NewConfigError("config", fmt.Errorf("parse %s: %w", path, err))
	}

	settings := map[string]any{}
	for _, section := range file.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		values := map[string]any{}
		for _, key := range section.Keys() {
			values[strings.ToLower(key.Name())] = key.String()
		}
		settings[strings.ToLower(section.Name())] = values
	}

	if err := v.MergeConfigMap(settings); err != nil {
		return errspkg.NewConfigError("config", err)
	}
	return nil
}

// FromViper builds a Config from resolved viper values.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		PubSubSystem:       strings.ToLower(strings.TrimSpace(v.GetString(KeyPubSubSystem))),
		BrokerHost:         v.GetString(KeyStompHost),
		BrokerPort:         v.GetInt(KeyStompPort),
		BrokerUser:         v.GetString(KeyStompUser),
		BrokerPassword:     v.GetString(KeyStompPass),
		KafkaBrokers:       stringList(v.Get(KeyKafkaBrokers), ","),
		KafkaConsumerGroup: v.GetString(KeyKafkaConsumerGroup),
		RabbitMQURL:        v.GetString(KeyRabbitMQURL),
		NATSURL:            v.GetString(KeyNATSURL),
		HTTPServerAddress:  v.GetString(KeyHTTPServerAddress),
		HTTPPublisherURL:   v.GetString(KeyHTTPPublisherURL),
		IOFile:             v.GetString(KeyIOFile),

		AWSRegion:          v.GetString(KeyAWSRegion),
		AWSAccountID:       v.GetString(KeyAWSAccountID),
		AWSAccessKeyID:     v.GetString(KeyAWSAccessKeyID),
		AWSSecretAccessKey: v.GetString(KeyAWSSecretAccessKey),
		AWSEndpoint:        v.GetString(KeyAWSEndpoint),

		SourceKind:        strings.ToLower(v.GetString(KeyDeviceKind)),
		DevicePath:        v.GetString(KeyDevicePath),
		DeviceBaud:        v.GetInt(KeyDeviceBaud),
		ReconnectAttempts: v.GetInt(KeyDeviceReconnectAttempts),
		ReconnectMin:      v.GetDuration(KeyDeviceReconnectMin),
		ReconnectMax:      v.GetDuration(KeyDeviceReconnectMax),
		ReconnectFactor:   v.GetFloat64(KeyDeviceReconnectFactor),

		PublishTopic:    v.GetString(KeyPublishTopic),
		RawLog:          v.GetBool(KeyPublishLog),
		RawLogDir:       v.GetString(KeyPublishLogDir),
		RulesFile:       v.GetString(KeyPublishRules),
		RuleName:        v.GetString(KeyPublishRule),
		ExcludePatterns: stringList(v.Get(KeyPublishExclude), ""),

		BindingsFile:      v.GetString(KeySubscribeList),
		DuplicateBindings: strings.ToLower(v.GetString(KeySubscribeDuplicates)),
		StoreBackend:      strings.ToLower(v.GetString(KeySubscribeBackend)),
		StoreURL:          v.GetString(KeySubscribeURL),
		StoreHost:         v.GetString(KeySubscribeHost),
		StorePort:         v.GetInt(KeySubscribePort),
		StorePath:         v.GetString(KeySubscribePath),

		MetricsPort: v.GetInt(KeyMetricsPort),
		Verbosity:   v.GetInt(KeyVerbosity),
	}
}

// stringList accepts a list or a scalar. A scalar is split on sep when sep is
// non-empty; otherwise it is a single element, so a regex containing commas
// survives intact.
func stringList(raw any, sep string) []string {
	var items []string
	switch val := raw.(type) {
	case nil:
		return nil
	case []string:
		items = val
	case []any:
		for _, item := range val {
			items = append(items, fmt.Sprint(item))
		}
	case string:
		if sep == "" {
			items = []string{val}
		} else {
			items = strings.Split(val, sep)
		}
	default:
		items = []string{fmt.Sprint(val)}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
