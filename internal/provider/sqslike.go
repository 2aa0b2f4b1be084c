// Copyright 2025 James Ross
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jamesross/polyqueue/internal/queue"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
)

// SQSLikeConfig configures an SQSLike provider. Endpoint lets this point at
// a local SQS-compatible emulator instead of real AWS.
type SQSLikeConfig struct {
	Region   string
	Endpoint string
	QueueURL map[string]string // queue name -> full queue URL
}

// SQSLike implements Provider over Amazon SQS (or an SQS-compatible
// endpoint). Unlike the other providers, a consumer here only ever holds an
// opaque ReceiptHandle, not a stable message identity — Ack/Nack below
// therefore key off Metadata.ReceiptHandle rather than msg.ID.
type SQSLike struct {
	name     string
	client   *sqs.SQS
	queueURL map[string]string
}

// SQSLikeFactory constructs SQSLike providers from a config map unmarshaled
// from providers[i].config.
type SQSLikeFactory struct{}

func (SQSLikeFactory) Create(name string, config map[string]interface{}) (Provider, error) {
	region, _ := config["region"].(string)
	if region == "" {
		return nil, NewConfigError("region", "sqs-like provider requires a region")
	}
	endpoint, _ := config["endpoint"].(string)

	urls := make(map[string]string)
	if raw, ok := config["queue_url"].(map[string]interface{}); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				urls[k] = s
			}
		}
	}

	cfg := aws.NewConfig().WithRegion(region)
	if endpoint != "" {
		cfg = cfg.WithEndpoint(endpoint)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return &SQSLike{name: name, client: sqs.New(sess), queueURL: urls}, nil
}

func (p *SQSLike) Name() string { return p.name }
func (p *SQSLike) Type() string { return TypeSQSLike }

func (p *SQSLike) urlFor(queueName string) (string, error) {
	url, ok := p.queueURL[queueName]
	if !ok {
		return "", fmt.Errorf("%w: no queue_url configured for %q", ErrInvalidConfiguration, queueName)
	}
	return url, nil
}

func (p *SQSLike) Send(ctx context.Context, queueName string, msg queue.Message) error {
	url, err := p.urlFor(queueName)
	if err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(body)),
	}
	if msg.Metadata.Delay > 0 {
		delaySeconds := int64(msg.Metadata.Delay.Seconds())
		if delaySeconds > 900 {
			delaySeconds = 900 // SQS caps DelaySeconds at 15 minutes
		}
		input.DelaySeconds = aws.Int64(delaySeconds)
	}

	_, err = p.client.SendMessageWithContext(ctx, input)
	if err != nil {
		return NewProviderError(p.name, "send", err)
	}
	return nil
}

func (p *SQSLike) Receive(ctx context.Context, queueName string, timeout time.Duration) (*queue.Message, error) {
	url, err := p.urlFor(queueName)
	if err != nil {
		return nil, err
	}

	waitSeconds := int64(timeout.Seconds())
	if waitSeconds > 20 {
		waitSeconds = 20 // SQS long-poll cap
	}
	if waitSeconds < 0 {
		waitSeconds = 0
	}

	out, err := p.client.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(url),
		MaxNumberOfMessages:  aws.Int64(1),
		WaitTimeSeconds:      aws.Int64(waitSeconds),
	})
	if err != nil {
		return nil, NewProviderError(p.name, "receive", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	raw := out.Messages[0]
	var msg queue.Message
	if err := json.Unmarshal([]byte(aws.StringValue(raw.Body)), &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	msg.Metadata.ReceiptHandle = aws.StringValue(raw.ReceiptHandle)
	return &msg, nil
}

func (p *SQSLike) Ack(ctx context.Context, queueName string, msg queue.Message) error {
	url, err := p.urlFor(queueName)
	if err != nil {
		return err
	}
	if msg.Metadata.ReceiptHandle == "" {
		return fmt.Errorf("%w: message %s has no receipt handle to ack", ErrOperationNotSupported, msg.ID)
	}
	_, err = p.client.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(msg.Metadata.ReceiptHandle),
	})
	if err != nil {
		return NewProviderError(p.name, "ack", err)
	}
	return nil
}

// Nack with requeue=true simply lets SQS's visibility timeout expire
// naturally by doing nothing; requeue=false deletes the message like Ack,
// since SQS has no separate "dead, don't retry" signal short of deletion.
func (p *SQSLike) Nack(ctx context.Context, queueName string, msg queue.Message, requeue bool) error {
	if requeue {
		return nil
	}
	return p.Ack(ctx, queueName, msg)
}

func (p *SQSLike) QueueInfo(ctx context.Context, queueName string) (QueueInfo, error) {
	url, err := p.urlFor(queueName)
	if err != nil {
		return QueueInfo{}, err
	}
	out, err := p.client.GetQueueAttributesWithContext(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(url),
		AttributeNames: []*string{aws.String(sqs.QueueAttributeNameApproximateNumberOfMessages)},
	})
	if err != nil {
		return QueueInfo{}, NewProviderError(p.name, "queue_info", err)
	}
	var length int64
	if v, ok := out.Attributes[sqs.QueueAttributeNameApproximateNumberOfMessages]; ok && v != nil {
		fmt.Sscanf(aws.StringValue(v), "%d", &length)
	}
	return QueueInfo{Name: queueName, Length: length}, nil
}

func (p *SQSLike) Capabilities() Capabilities {
	return Capabilities{
		AtomicAck:      true,
		Persistence:    true,
		Prioritization: false,
		Delay:          true,
		TTL:            false,
	}
}

func (p *SQSLike) Health(ctx context.Context) HealthStatus {
	for queueName := range p.queueURL {
		if _, err := p.QueueInfo(ctx, queueName); err != nil {
			return HealthStatus{Status: HealthUnhealthy, Message: err.Error(), CheckedAt: time.Now()}
		}
		break
	}
	return HealthStatus{Status: HealthHealthy, CheckedAt: time.Now()}
}

func (p *SQSLike) Close() error { return nil }

func init() {
	defaultRegistry.Register(TypeSQSLike, SQSLikeFactory{})
}
