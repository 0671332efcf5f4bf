package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// splitSystemPrompt extracts system messages into a single prompt and
// merges consecutive user messages so the remainder strictly alternates
// user/assistant, starting and ending with user. Anthropic and Gemini
// both require this shape.
func splitSystemPrompt(messages []CompletionMessage) (systemPrompt string, alternating []CompletionMessage, err error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var rest []CompletionMessage
	for i := range messages {
		if messages[i].Role == RoleSystem {
			systemParts = append(systemParts, messages[i].Content)
		} else {
			rest = append(rest, messages[i])
		}
	}
	systemPrompt = strings.Join(systemParts, "\n\n")

	if len(rest) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}

	var userParts []string
	for i := range rest {
		if rest[i].Role == RoleAssistant {
			if len(userParts) > 0 {
				alternating = append(alternating, CompletionMessage{
					Role:    RoleUser,
					Content: strings.Join(userParts, "\n\n"),
				})
				userParts = nil
			}
			alternating = append(alternating, rest[i])
		} else {
			userParts = append(userParts, rest[i].Content)
		}
	}
	if len(userParts) > 0 {
		alternating = append(alternating, CompletionMessage{
			Role:    RoleUser,
			Content: strings.Join(userParts, "\n\n"),
		})
	}

	if alternating[0].Role != RoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got %s", alternating[0].Role)
	}
	if last := alternating[len(alternating)-1]; last.Role != RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got %s", last.Role)
	}
	return systemPrompt, alternating, nil
}

// classifyError maps a provider error onto our error types using the
// context state and common message patterns.
func classifyError(err error, provider string) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewErrorWithCause(ErrorTypeTransient, err, provider+" request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return NewErrorWithCause(ErrorTypeTransient, err, provider+" request canceled")
	}

	lowered := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowered, "429") || strings.Contains(lowered, "rate") || strings.Contains(lowered, "quota"):
		return NewErrorWithCause(ErrorTypeRateLimit, err, provider+" rate limit")
	case strings.Contains(lowered, "401") || strings.Contains(lowered, "403") ||
		strings.Contains(lowered, "unauthorized") || strings.Contains(lowered, "api key"):
		return NewErrorWithCause(ErrorTypeAuth, err, provider+" authentication failed")
	case strings.Contains(lowered, "timeout") || strings.Contains(lowered, "connection") ||
		strings.Contains(lowered, "eof") || strings.Contains(lowered, "reset") ||
		strings.Contains(lowered, "500") || strings.Contains(lowered, "502") ||
		strings.Contains(lowered, "503") || strings.Contains(lowered, "504"):
		return NewErrorWithCause(ErrorTypeTransient, err, provider+" transient failure")
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "too large") ||
		strings.Contains(lowered, "malformed"):
		return NewErrorWithCause(ErrorTypeBadPrompt, err, provider+" rejected request")
	default:
		return NewErrorWithCause(ErrorTypeUnknown, err, provider+" request failed")
	}
}

// streamViaComplete adapts a synchronous Complete into the Stream
// interface for providers where true streaming is not wired yet.
func streamViaComplete(ctx context.Context, c Client, in CompletionRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 2)
	go func() {
		defer close(ch)
		resp, err := c.Complete(ctx, in)
		if err != nil {
			ch <- StreamChunk{Error: err}
			return
		}
		ch <- StreamChunk{Content: resp.Content}
		ch <- StreamChunk{Done: true}
	}()
	return ch, nil
}
