package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// OpenAIRequest represents the request body for the chat completions API
type OpenAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream,omitempty"`
}

// OpenAIResponse represents a non-streaming chat completion
type OpenAIResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage map[string]interface{} `json:"usage"`
}

// OpenAIStreamChunk represents one SSE payload of a streamed completion
type OpenAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// OpenAIProvider talks to the OpenAI chat completions API
type OpenAIProvider struct {
	httpBase
}

var _ Provider = (*OpenAIProvider)(nil)

func (p *OpenAIProvider) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}

// Invoke calls the OpenAI API
func (p *OpenAIProvider) Invoke(ctx context.Context, messages []Message) (string, error) {
	ctx, span := p.startSpan(ctx, false)
	defer span.End()

	start := time.Now()
	defer p.inst.record(ctx, p.name, false, start)

	reqBody := OpenAIRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: Temperature,
	}

	var apiResp OpenAIResponse
	if err := p.postJSON(ctx, p.baseURL+"/chat/completions", reqBody, p.headers(), &apiResp); err != nil {
		return "", p.inst.fail(span, p.name, err)
	}

	if len(apiResp.Choices) > 0 {
		return apiResp.Choices[0].Message.Content, nil
	}
	return "", p.inst.fail(span, p.name, fmt.Errorf("%w from OpenAI", ErrEmptyResponse))
}

// Stream calls the OpenAI API with server-sent events
func (p *OpenAIProvider) Stream(ctx context.Context, messages []Message) (<-chan Fragment, error) {
	ctx, span := p.startSpan(ctx, true)
	start := time.Now()

	reqBody := OpenAIRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: Temperature,
		Stream:      true,
	}

	resp, err := p.post(ctx, p.baseURL+"/chat/completions", reqBody, p.headers())
	if err != nil {
		err = p.inst.fail(span, p.name, err)
		span.End()
		return nil, err
	}

	events := newSSEReader(resp.Body)
	read := func() (string, bool, error) {
		for {
			_, data, err := events.next()
			if err != nil {
				return "", false, err
			}
			if string(data) == "[DONE]" {
				return "", true, nil
			}

			var chunk OpenAIStreamChunk
			if err := json.Unmarshal(data, &chunk); err != nil {
				// Skip malformed events
				continue
			}
			if chunk.Error != nil {
				return "", false, fmt.Errorf("stream error: %s", chunk.Error.Message)
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			return chunk.Choices[0].Delta.Content, false, nil
		}
	}

	return p.pump(ctx, span, start, resp.Body, read), nil
}
