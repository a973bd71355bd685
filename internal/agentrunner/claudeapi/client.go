// Package claudeapi implements core.AgentRunner and merge.Resolver
// directly against the Anthropic Messages API, as an alternative to
// spawning the CLI agent as a subprocess (internal/agentrunner/cli).
// Grounded on the teacher's direct-API client: same SDK, same
// optional AWS Bedrock transport, generalized to the orchestration
// core's own request/result shapes instead of a worktree-spawning
// ClaudeProcess.
package claudeapi

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Model is the Claude model id. Empty uses DefaultModel.
	Model string
	// APIKey is the Anthropic API key. Empty uses ANTHROPIC_API_KEY.
	APIKey string
	// UseAWSBedrock routes requests through AWS Bedrock instead of the
	// direct Anthropic API.
	UseAWSBedrock bool
	AWSRegion     string
	AWSProfile    string
}

// DefaultModel is used when ClientConfig.Model is empty.
const DefaultModel = "claude-sonnet-4-20250514"

// Client wraps the Anthropic SDK client with the model this session is
// pinned to.
type Client struct {
	inner anthropic.Client
	model string
	bedrock bool
}

// NewClient builds a Client per cfg.
func NewClient(cfg ClientConfig) (*Client, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("claudeapi: ANTHROPIC_API_KEY is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	if cfg.UseAWSBedrock {
		model = translateModelForBedrock(model)
	}

	return &Client{inner: anthropic.NewClient(opts...), model: model, bedrock: cfg.UseAWSBedrock}, nil
}

// bedrockModels maps standard model ids to Bedrock cross-region
// inference profiles.
var bedrockModels = map[string]string{
	"claude-sonnet-4-20250514":   "us.anthropic.claude-sonnet-4-20250514-v1:0",
	"claude-sonnet-4-5-20250929": "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
	"claude-haiku-4-5-20251001":  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
	"claude-opus-4-1-20250805":   "us.anthropic.claude-opus-4-1-20250805-v1:0",
}

func translateModelForBedrock(model string) string {
	if translated, ok := bedrockModels[model]; ok {
		return translated
	}
	return model
}

// sdk exposes the underlying SDK client to this package only.
func (c *Client) sdk() *anthropic.Client {
	return &c.inner
}

// Model returns the configured model id, translated for Bedrock if
// this client uses it, unless overridden is non-empty.
func (c *Client) Model(overridden string) string {
	if overridden == "" {
		return c.model
	}
	if c.bedrock {
		return translateModelForBedrock(overridden)
	}
	return overridden
}

func textContent(blocks []anthropic.ContentBlockUnion) string {
	var b strings.Builder
	for _, block := range blocks {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(variant.Text)
		}
	}
	return b.String()
}
