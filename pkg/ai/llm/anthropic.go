package llm

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	pipelineerrors "github.com/opsmail/emailpipeline/pkg/shared/errors"
	"github.com/opsmail/emailpipeline/pkg/shared/logging"
)

// AnthropicClient implements Client over the Anthropic Messages API, used
// as model.primary_id for Phase-2 (spec.md §6).
type AnthropicClient struct {
	sdk    anthropic.Client
	model  string
	logger *logrus.Logger
}

// NewAnthropicClient builds an AnthropicClient for modelID, authenticating
// with apiKey.
func NewAnthropicClient(apiKey, modelID string, logger *logrus.Logger) *AnthropicClient {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)
	}
	return &AnthropicClient{
		sdk:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  modelID,
		logger: logger,
	}
}

func (c *AnthropicClient) ModelID() string { return c.model }

// Generate sends prompt as a single user message and returns the
// concatenated text of the response.
func (c *AnthropicClient) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	if len(opts.Stop) > 0 {
		params.StopSequences = opts.Stop
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		c.logger.WithFields(logging.AIFields("generate", c.model).Error(err).ToLogrus()).
			Warn("anthropic generate failed")
		return "", pipelineerrors.NetworkError("generate", "anthropic", err)
	}

	var out string
	for _, block := range resp.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}
