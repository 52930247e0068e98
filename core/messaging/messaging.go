// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package messaging

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/goccy/go-json"

	"github.com/relabs-tech/jobcard/core/logger"
)

// Message is a rendered customer message ready for the SMS gateway
type Message struct {
	Phone string `json:"phone"`
	Body  string `json:"body"`
}

// Dispatcher delivers rendered messages to the SMS gateway
type Dispatcher interface {
	Send(ctx context.Context, message Message) error
}

// SQSConfiguration contains the configuration for the SQS dispatcher
type SQSConfiguration struct {
	QueueURL  string
	AWSRegion string
	AccessID  string
	AccessKey string
}

// SQSDispatcher queues messages on AWS SQS
type SQSDispatcher struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSDispatcher returns a new SQSDispatcher
func NewSQSDispatcher(sqsConfig SQSConfiguration) (*SQSDispatcher, error) {
	if sqsConfig.QueueURL == "" {
		return nil, fmt.Errorf("QueueURL must not be empty")
	}
	cfg, err := config.LoadDefaultConfig(
		context.TODO(),
		config.WithRegion(sqsConfig.AWSRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(sqsConfig.AccessID, sqsConfig.AccessKey, "")),
	)
	if err != nil {
		return nil, err
	}
	logger.Default().Debugln("SQS messaging enabled")
	return &SQSDispatcher{client: sqs.NewFromConfig(cfg), queueURL: sqsConfig.QueueURL}, nil
}

// Send queues a single message
func (d *SQSDispatcher) Send(ctx context.Context, message Message) error {
	body, err := json.MarshalWithOption(message, json.DisableHTMLEscape())
	if err != nil {
		return err
	}
	_, err = d.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to queue message, %v", err)
	}
	return nil
}

// LogDispatcher writes messages to the log only. It is the fallback when
// no queue is configured.
type LogDispatcher struct{}

// Send logs a single message
func (d LogDispatcher) Send(ctx context.Context, message Message) error {
	logger.FromContext(ctx).Infof("message to %s: %s", message.Phone, message.Body)
	return nil
}
