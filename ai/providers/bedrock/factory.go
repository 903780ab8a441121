package bedrock

import (
	"context"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/neuralmesh/mesh/ai"
	"github.com/neuralmesh/mesh/core"
)

func init() {
	ai.MustRegisterFactory(&Factory{})
}

// Factory creates Bedrock adapters for the custom backend family.
type Factory struct{}

func (f *Factory) Backend() ai.BackendID {
	return ai.BackendCustom
}

func (f *Factory) Description() string {
	return "Self-hosted model family served through AWS Bedrock Converse"
}

// Create creates a new adapter. When the credential chain cannot be
// resolved the returned adapter fails on first use rather than at startup.
func (f *Factory) Create(config *ai.AdapterConfig) ai.Adapter {
	ctx := context.Background()

	region := config.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(region))
	if accessKey, secretKey := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"); accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, os.Getenv("AWS_SESSION_TOKEN"))))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		logger.Warn("Bedrock credential chain unavailable", map[string]interface{}{
			"operation": "backend_factory_create",
			"backend":   "custom",
			"error":     err.Error(),
		})
		return &errorAdapter{err: err}
	}

	client := NewClient(awsCfg, region, logger)
	if config.MaxRetries > 0 {
		client.MaxRetries = config.MaxRetries
	}
	return client
}

// DetectEnvironment reports whether AWS credentials appear configured.
func (f *Factory) DetectEnvironment() bool {
	return os.Getenv("AWS_ACCESS_KEY_ID") != "" || os.Getenv("AWS_PROFILE") != ""
}

// errorAdapter defers a construction failure to call time.
type errorAdapter struct {
	err error
}

func (e *errorAdapter) Complete(ctx context.Context, model string, prompt string, opts *ai.Options) (*ai.Completion, error) {
	return nil, fmt.Errorf("%w: bedrock not configured: %v", core.ErrUpstreamUnavailable, e.err)
}
