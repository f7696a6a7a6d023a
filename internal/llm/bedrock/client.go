package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"grocery-backend/internal/llm"
)

const (
	defaultModelID   = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	anthropicVersion = "bedrock-2023-05-31"
	maxTokens        = 300
)

// Client implements llm.Client using AWS Bedrock runtime with an Anthropic
// messages-format model.
type Client struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewClient constructs a Bedrock-backed inference client.
func NewClient(ctx context.Context, region, modelID string) (*Client, error) {
	if strings.TrimSpace(modelID) == "" {
		modelID = defaultModelID
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Client{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

type messagesRequest struct {
	Messages         []message `json:"messages"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	TopP             float64   `json:"top_p"`
	AnthropicVersion string    `json:"anthropic_version"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// Infer invokes the model with the prompt as a single user message.
func (c *Client) Infer(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Messages:         []message{{Role: "user", Content: prompt}},
		MaxTokens:        maxTokens,
		Temperature:      0.7,
		TopP:             0.9,
		AnthropicVersion: anthropicVersion,
	})
	if err != nil {
		return "", fmt.Errorf("encode bedrock request: %w", err)
	}

	out, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock invoke model %s: %w", c.modelID, err)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return "", fmt.Errorf("decode bedrock response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("bedrock response has no content")
	}
	return parsed.Content[0].Text, nil
}

var _ llm.Client = (*Client)(nil)
