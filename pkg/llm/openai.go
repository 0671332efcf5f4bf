package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// OpenAIClient wraps the official OpenAI Go client using the Responses
// API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates an OpenAI client for the given model.
func NewOpenAIClient(apiKey, model string) Client {
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Complete implements the Client interface.
func (o *OpenAIClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	// The Responses API takes a single input string, so roles are
	// rendered inline.
	var input string
	for i := range in.Messages {
		switch in.Messages[i].Role {
		case RoleSystem:
			input += fmt.Sprintf("System: %s\n\n", in.Messages[i].Content)
		case RoleAssistant:
			input += fmt.Sprintf("Assistant: %s\n\n", in.Messages[i].Content)
		case RoleUser:
			input += in.Messages[i].Content + "\n\n"
		}
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(in.MaxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return CompletionResponse{}, classifyError(err, "openai")
	}
	if resp == nil {
		return CompletionResponse{}, NewError(ErrorTypeEmptyResponse, "empty response from OpenAI API")
	}

	content := resp.OutputText()
	if content == "" {
		return CompletionResponse{}, NewError(ErrorTypeEmptyResponse, "no text output from OpenAI API")
	}

	return CompletionResponse{Content: content}, nil
}

// Stream implements the Client interface.
func (o *OpenAIClient) Stream(ctx context.Context, in CompletionRequest) (<-chan StreamChunk, error) {
	return streamViaComplete(ctx, o, in)
}

// ModelName returns the configured model.
func (o *OpenAIClient) ModelName() string {
	return o.model
}
