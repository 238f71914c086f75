// Package aws publishes records to SNS and consumes them through SQS. Topic
// names are mapped to SNS-safe names, so "/topic/ccost" publishes to the SNS
// topic "topic-ccost" and is consumed through an SQS queue of the same name.
package aws

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/serialbridge/transport"
)

const TransportName = "aws"

// LocalStack accepts any twelve digit account; this is the one it documents.
const localstackAccountID = "000000000000"

// Factories replaced in tests.
var (
	DefaultConfigLoader  = awsconfig.LoadDefaultConfig
	TopicResolverFactory = sns.NewGenerateArnTopicResolver

	PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return sns.NewPublisher(cfg, logger)
	}
	SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return sns.NewSubscriber(cfg, sqsCfg, logger)
	}
)

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.AWSCapabilities)
}

// account is everything both sides need, resolved once per Build.
type account struct {
	aws      aws.Config
	id       string
	region   string
	endpoint *url.URL
	resolver sns.TopicResolver
}

// Build loads the AWS configuration and connects an SNS publisher and an
// SNS-to-SQS subscriber. A configured endpoint (LocalStack) overrides the
// service endpoints of both.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	acct, err := resolveAccount(ctx, cfg, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	logger.Info("Resolved AWS account", watermill.LogFields{
		"account_id":      acct.id,
		"region":          acct.region,
		"custom_endpoint": acct.endpoint != nil,
	})

	publisher, err := PublisherFactory(acct.publisherConfig(), logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("aws: sns publisher: %w", err)
	}

	snsCfg, sqsCfg := acct.subscriberConfig()
	subscriber, err := SubscriberFactory(snsCfg, sqsCfg, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, fmt.Errorf("aws: sqs subscriber: %w", err)
	}

	return transport.Transport{Publisher: publisher, Subscriber: subscriber}, nil
}

func Capabilities() transport.Capabilities {
	return transport.AWSCapabilities
}

func resolveAccount(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (*account, error) {
	endpoint, err := awsEndpointURL(cfg)
	if err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region := cfg.GetAWSRegion(); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if key, secret := cfg.GetAWSAccessKeyID(), cfg.GetAWSSecretAccessKey(); key != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentials(key, secret)))
	}

	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws: load config: %w", err)
	}
	// Some loaders ignore the options.
	if region := cfg.GetAWSRegion(); region != "" {
		awsCfg.Region = region
	}
	if endpoint != nil {
		awsCfg.BaseEndpoint = aws.String(endpoint.String())
	}

	id, region := resolveAccountAndRegion(cfg, logger, awsCfg.Region)
	resolver, err := TopicResolverFactory(id, region)
	if err != nil {
		return nil, fmt.Errorf("aws: topic resolver for account %q in %q: %w", id, region, err)
	}

	return &account{
		aws:      awsCfg,
		id:       id,
		region:   region,
		endpoint: endpoint,
		resolver: sanitizingResolver{inner: resolver},
	}, nil
}

// resolveAccountAndRegion falls back to the LocalStack account when an
// endpoint is configured and the account id is missing or malformed.
func resolveAccountAndRegion(cfg transport.Config, logger watermill.LoggerAdapter, fallbackRegion string) (string, string) {
	if cfg == nil {
		return "", fallbackRegion
	}

	id := strings.Trim(cfg.GetAWSAccountID(), "\"' ")
	region := cfg.GetAWSRegion()
	if region == "" {
		region = fallbackRegion
	}

	if cfg.GetAWSEndpoint() != "" && len(id) != len(localstackAccountID) {
		logger.Info("Using LocalStack account id", watermill.LogFields{"configured": id})
		id = localstackAccountID
	}
	return id, region
}

func (a *account) publisherConfig() sns.PublisherConfig {
	pc := sns.PublisherConfig{
		TopicResolver: a.resolver,
		AWSConfig:     a.aws,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}
	if a.endpoint != nil {
		pc.OptFns = []func(*amazonsns.Options){
			amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{
				Endpoint: smithyendpoints.Endpoint{URI: *a.endpoint},
			}),
		}
	}
	return pc
}

func (a *account) subscriberConfig() (sns.SubscriberConfig, sqs.SubscriberConfig) {
	snsCfg := sns.SubscriberConfig{
		AWSConfig:            a.aws,
		TopicResolver:        a.resolver,
		GenerateSqsQueueName: queueName,
	}
	sqsCfg := sqs.SubscriberConfig{AWSConfig: a.aws}
	if a.endpoint != nil {
		snsCfg.OptFns = []func(*amazonsns.Options){
			amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{
				Endpoint: smithyendpoints.Endpoint{URI: *a.endpoint},
			}),
		}
		sqsCfg.OptFns = []func(*amazonsqs.Options){
			amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{
				Endpoint: smithyendpoints.Endpoint{URI: *a.endpoint},
			}),
		}
	}
	return snsCfg, sqsCfg
}

// queueName names the SQS queue after the SNS topic it drains.
func queueName(_ context.Context, topicArn sns.TopicArn) (string, error) {
	topic, err := sns.ExtractTopicNameFromTopicArn(topicArn)
	if err != nil {
		return "", err
	}
	return string(topic), nil
}

var invalidTopicChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// TopicName maps a bridge topic to a valid SNS topic name: runs of characters
// outside [A-Za-z0-9_-] collapse to one "-" and leading or trailing dashes
// are dropped.
func TopicName(topic string) string {
	return strings.Trim(invalidTopicChars.ReplaceAllString(topic, "-"), "-")
}

type sanitizingResolver struct {
	inner sns.TopicResolver
}

func (r sanitizingResolver) ResolveTopic(ctx context.Context, topic string) (sns.TopicArn, error) {
	name := TopicName(topic)
	if name == "" {
		return "", fmt.Errorf("aws: topic %q has no valid SNS name", topic)
	}
	return r.inner.ResolveTopic(ctx, name)
}

func awsEndpointURL(cfg transport.Config) (*url.URL, error) {
	if cfg == nil || cfg.GetAWSEndpoint() == "" {
		return nil, nil
	}
	parsed, err := url.Parse(cfg.GetAWSEndpoint())
	if err != nil {
		return nil, fmt.Errorf("aws: endpoint: %w", err)
	}
	return parsed, nil
}

func staticCredentials(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{AccessKeyID: accessKeyID, SecretAccessKey: secretAccessKey}, nil
	})
}
