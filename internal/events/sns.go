package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"serviceloader/internal/config"
)

type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSink publishes each event as one message on an SNS topic. The state
// and session id are copied into message attributes for subscription
// filter policies.
type SNSSink struct {
	client   snsPublisher
	topicARN string
	mu       sync.RWMutex
	closed   bool
}

// NewSNSSink creates an SNS sink. Credentials come from the default AWS
// chain unless AccessKeyID is set.
func NewSNSSink(cfg config.SNSConfig) (*SNSSink, error) {
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("SNS TopicARN is required")
	}

	awsCfg, err := newAWSConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}
	return newSNSSink(sns.NewFromConfig(awsCfg), cfg.TopicARN), nil
}

func newSNSSink(client snsPublisher, topicARN string) *SNSSink {
	return &SNSSink{client: client, topicARN: topicARN}
}

func newAWSConfig(cfg config.SNSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:           endpoint,
					SigningRegion: region,
				}, nil
			})))
	}
	return awsconfig.LoadDefaultConfig(context.Background(), opts...)
}

// Send publishes one event.
func (s *SNSSink) Send(ctx context.Context, ev *Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("sink is closed")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(string(data)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"state":      stringAttribute(ev.State),
			"session_id": stringAttribute(ev.SessionID),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish event to SNS: %w", err)
	}
	return nil
}

// Close marks the sink closed. The SNS client holds no connections of
// its own.
func (s *SNSSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func stringAttribute(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}
