package cmd

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/annexlab/annex/internal/config"
	"github.com/annexlab/annex/internal/observability"
	"github.com/annexlab/annex/pkg/queue"
)

// runtime bundles the immutable configuration, the logger, and one client
// per managed service. Built once at process start and passed into
// components explicitly; nothing here is a package-level singleton.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger

	s3       *s3.Client
	sqs      *sqs.Client
	sns      *sns.Client
	dynamodb *dynamodb.Client
	glacier  *glacier.Client
	ses      *sesv2.Client
}

// buildRuntime loads configuration and constructs the shared clients.
func buildRuntime(ctx context.Context) (*runtime, error) {
	var overrides []map[string]any
	if logLevel != "" {
		overrides = append(overrides, map[string]any{
			"logging": map[string]any{"level": logLevel},
		})
	}

	cfg, err := config.Load(ctx, overrides...)
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}

	endpoint := cfg.AWS.Endpoint
	return &runtime{
		cfg:    cfg,
		logger: logger,
		s3: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			}
		}),
		sqs: sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
		sns: sns.NewFromConfig(awsCfg, func(o *sns.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
		dynamodb: dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
		glacier: glacier.NewFromConfig(awsCfg, func(o *glacier.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
		ses: sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
	}, nil
}

// loadAWSConfig builds the SDK configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// queueConfig builds the consumer config for the named queue.
func (rt *runtime) queueConfig(queueURL string) queue.Config {
	q := rt.cfg.Queues
	return queue.Config{
		QueueURL:      queueURL,
		DeadLetterURL: q.DeadLetter,
		MaxMessages:   q.MaxMessages,
		WaitSeconds:   q.WaitSeconds,
		MaxReceives:   q.MaxReceives,
		RateLimit:     q.RateLimit,
	}
}
