// Package bedrock implements the "custom" backend family through AWS
// Bedrock's Converse API.
package bedrock

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/neuralmesh/mesh/ai"
	"github.com/neuralmesh/mesh/ai/providers"
	"github.com/neuralmesh/mesh/core"
)

// Client implements ai.Adapter for AWS Bedrock.
type Client struct {
	*providers.BaseClient
	bedrockClient *bedrockruntime.Client
	region        string
}

// NewClient creates a Bedrock adapter from an AWS config.
func NewClient(cfg aws.Config, region string, logger core.Logger) *Client {
	return &Client{
		BaseClient:    providers.NewBaseClient(30*time.Second, logger),
		bedrockClient: bedrockruntime.NewFromConfig(cfg),
		region:        region,
	}
}

// LoadAWSConfig resolves the default AWS credential chain for a region.
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
}

// Complete generates a completion through the Converse API.
func (c *Client) Complete(ctx context.Context, model string, prompt string, opts *ai.Options) (*ai.Completion, error) {
	opts = c.ApplyDefaults(opts)

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(model),
		Messages: []types.Message{
			{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: prompt},
				},
			},
		},
	}

	if opts.SystemPrompt != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: opts.SystemPrompt},
		}
	}

	inference := &types.InferenceConfiguration{}
	if opts.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(int32(opts.MaxTokens)) // #nosec G115 - bounded by model limits
	}
	if opts.Temperature > 0 {
		inference.Temperature = aws.Float32(opts.Temperature)
	}
	input.InferenceConfig = inference

	output, err := c.bedrockClient.Converse(ctx, input)
	if err != nil {
		c.Logger.Error("Bedrock request failed", map[string]interface{}{
			"operation": "backend_request_error",
			"backend":   "custom",
			"model":     model,
			"region":    c.region,
			"error":     err.Error(),
		})
		return nil, fmt.Errorf("%w: bedrock converse: %v", core.ErrUpstreamUnavailable, err)
	}

	if output.Output == nil {
		return nil, fmt.Errorf("no output in bedrock response")
	}

	var text string
	switch v := output.Output.(type) {
	case *types.ConverseOutputMemberMessage:
		for _, block := range v.Value.Content {
			if tb, ok := block.(*types.ContentBlockMemberText); ok {
				text += tb.Value
			}
		}
	default:
		return nil, fmt.Errorf("unexpected output type from bedrock")
	}
	if text == "" {
		return nil, fmt.Errorf("no text content in bedrock response")
	}

	completion := &ai.Completion{Content: text}
	if output.Usage != nil {
		if output.Usage.InputTokens != nil {
			completion.InputTokens = int(*output.Usage.InputTokens)
		}
		if output.Usage.OutputTokens != nil {
			completion.OutputTokens = int(*output.Usage.OutputTokens)
		}
	}
	return completion, nil
}
