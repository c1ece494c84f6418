package notify

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/pkg/errors"
)

// SNSPublisher is the part of *sns.Client the gateway uses.
type SNSPublisher interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSGateway fans notifications out through an SNS topic. kind and
// recipient_id go to message attributes so subscribers can filter.
type SNSGateway struct {
	client   SNSPublisher
	topicARN string
}

func NewSNSGateway(client SNSPublisher, topicARN string) *SNSGateway {
	return &SNSGateway{client: client, topicARN: topicARN}
}

// NewSNSClient loads the default AWS credential chain. endpoint is for
// localstack and may be empty.
func NewSNSClient(ctx context.Context, region, endpoint string) (*sns.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return sns.NewFromConfig(cfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func (g *SNSGateway) Notify(ctx context.Context, recipientID, kind string, payload map[string]any) error {
	if g.topicARN == "" {
		return errors.New("sns topic arn is not configured")
	}
	b, err := encode(recipientID, kind, payload, nowUTC())
	if err != nil {
		return err
	}
	_, err = g.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(g.topicARN),
		Message:  aws.String(string(b)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind":         {DataType: aws.String("String"), StringValue: aws.String(kind)},
			"recipient_id": {DataType: aws.String("String"), StringValue: aws.String(recipientID)},
		},
	})
	return errors.Wrapf(err, "sns publish to %s", g.topicARN)
}
