package llm

import (
	"context"

	"google.golang.org/genai"
)

// GeminiClient wraps the Google GenAI client. Client creation needs a
// context, so it is deferred to the first Complete call.
type GeminiClient struct {
	client *genai.Client
	apiKey string
	model  string
}

// NewGeminiClient creates a Gemini client for the given model.
func NewGeminiClient(apiKey, model string) Client {
	return &GeminiClient{
		apiKey: apiKey,
		model:  model,
	}
}

// Complete implements the Client interface.
func (g *GeminiClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	if g.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return CompletionResponse{}, classifyError(err, "gemini")
		}
		g.client = client
	}

	systemPrompt, alternating, err := splitSystemPrompt(in.Messages)
	if err != nil {
		return CompletionResponse{}, NewErrorWithCause(ErrorTypeBadPrompt, err, "message alternation error")
	}

	contents := make([]*genai.Content, 0, len(alternating))
	for i := range alternating {
		role := genai.RoleUser
		if alternating[i].Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: alternating[i].Content}},
		})
	}

	//nolint:gosec // MaxTokens validated at the config layer
	maxTokens := int32(in.MaxTokens)
	config := &genai.GenerateContentConfig{
		Temperature:     &in.Temperature,
		MaxOutputTokens: maxTokens,
	}
	if systemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return CompletionResponse{}, classifyError(err, "gemini")
	}
	if result == nil || result.Text() == "" {
		return CompletionResponse{}, NewError(ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	return CompletionResponse{Content: result.Text()}, nil
}

// Stream implements the Client interface.
func (g *GeminiClient) Stream(ctx context.Context, in CompletionRequest) (<-chan StreamChunk, error) {
	return streamViaComplete(ctx, g, in)
}

// ModelName returns the configured model.
func (g *GeminiClient) ModelName() string {
	return g.model
}
