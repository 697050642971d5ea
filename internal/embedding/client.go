package embedding

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// describePrompt asks the vision model for a description that embeds well
// against citizen-written report text.
const describePrompt = "Describe the municipal infrastructure problem shown in this photo in two or three plain sentences. " +
	"Mention the type of asset, visible damage, and surroundings. Do not speculate about causes."

// Client is the remote model API the provider calls on a cache miss
type Client interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
	DescribeImage(ctx context.Context, model, mimeType string, data []byte) (string, error)
}

// OpenAIClient talks to an OpenAI-compatible endpoint
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a client; an empty baseURL uses the public API
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(config)}
}

// Embed returns the embedding vector for text
func (c *OpenAIClient) Embed(ctx context.Context, model, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	}
	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embedding data")
	}
	return resp.Data[0].Embedding, nil
}

// DescribeImage asks the vision model for a short text description of the image
func (c *OpenAIClient) DescribeImage(ctx context.Context, model, mimeType string, data []byte) (string, error) {
	dataURI := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	req := openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: 300,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: describePrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURI,
							Detail: openai.ImageURLDetailLow,
						},
					},
				},
			},
		},
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	desc := strings.TrimSpace(resp.Choices[0].Message.Content)
	if desc == "" {
		return "", fmt.Errorf("empty image description")
	}
	return desc, nil
}
