package llm

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/sirupsen/logrus"

	pipelineerrors "github.com/opsmail/emailpipeline/pkg/shared/errors"
	"github.com/opsmail/emailpipeline/pkg/shared/logging"
)

// BedrockClient implements Client over AWS Bedrock Runtime, used as
// model.critical_id for Phase-3 (spec.md §6). Anthropic-family models on
// Bedrock share the Messages-API request/response shape.
type BedrockClient struct {
	sdk    *bedrockruntime.Client
	model  string
	logger *logrus.Logger
}

// NewBedrockClient builds a BedrockClient for modelID in region, loading
// AWS credentials the standard SDK way (environment, shared config, or
// instance role).
func NewBedrockClient(ctx context.Context, region, modelID string, logger *logrus.Logger) (*BedrockClient, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, pipelineerrors.FailedToWithDetails("load AWS config", "bedrock", region, err)
	}
	return &BedrockClient{
		sdk:    bedrockruntime.NewFromConfig(cfg),
		model:  modelID,
		logger: logger,
	}, nil
}

func (c *BedrockClient) ModelID() string { return c.model }

type bedrockMessagesRequest struct {
	AnthropicVersion string                   `json:"anthropic_version"`
	MaxTokens        int                      `json:"max_tokens"`
	Temperature      float64                  `json:"temperature,omitempty"`
	StopSequences    []string                 `json:"stop_sequences,omitempty"`
	Messages         []bedrockMessagesContent `json:"messages"`
}

type bedrockMessagesContent struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockMessagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Generate invokes the configured Bedrock model with the Anthropic
// Messages request shape and returns the concatenated response text.
func (c *BedrockClient) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	reqBody := bedrockMessagesRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Temperature:      opts.Temperature,
		StopSequences:    opts.Stop,
		Messages: []bedrockMessagesContent{
			{Role: "user", Content: prompt},
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", pipelineerrors.ParseError("bedrock request", "JSON", err)
	}

	out, err := c.sdk.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		c.logger.WithFields(logging.AIFields("generate", c.model).Error(err).ToLogrus()).
			Warn("bedrock generate failed")
		return "", pipelineerrors.NetworkError("generate", "bedrock", err)
	}

	var resp bedrockMessagesResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", pipelineerrors.ParseError("bedrock response", "JSON", err)
	}

	var buf bytes.Buffer
	for _, block := range resp.Content {
		if block.Type == "text" {
			buf.WriteString(block.Text)
		}
	}
	return buf.String(), nil
}
