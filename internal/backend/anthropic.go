package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 4096
)

// AnthropicRequest represents the request body for the Anthropic messages API
type AnthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []AnthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	Stream      bool               `json:"stream,omitempty"`
}

// AnthropicMessage represents a message in the conversation
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicContent represents a content block of a response
type AnthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// AnthropicResponse represents the response from the Anthropic API
type AnthropicResponse struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Role         string                 `json:"role"`
	Content      []AnthropicContent     `json:"content"`
	Model        string                 `json:"model"`
	StopReason   string                 `json:"stop_reason"`
	StopSequence string                 `json:"stop_sequence"`
	Usage        map[string]interface{} `json:"usage"`
}

// AnthropicStreamEvent represents one SSE payload of a streamed message
type AnthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// AnthropicProvider talks to the Anthropic messages API
type AnthropicProvider struct {
	httpBase
}

var _ Provider = (*AnthropicProvider)(nil)

func (p *AnthropicProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicVersion,
	}
}

func (p *AnthropicProvider) request(messages []Message, stream bool) AnthropicRequest {
	system, turns := splitSystem(messages)
	reqMessages := make([]AnthropicMessage, len(turns))
	for i, msg := range turns {
		reqMessages[i] = AnthropicMessage{Role: msg.Role, Content: msg.Content}
	}
	return AnthropicRequest{
		Model:       p.model,
		MaxTokens:   anthropicMaxTokens,
		System:      system,
		Messages:    reqMessages,
		Temperature: Temperature,
		Stream:      stream,
	}
}

// Invoke calls the Anthropic API
func (p *AnthropicProvider) Invoke(ctx context.Context, messages []Message) (string, error) {
	ctx, span := p.startSpan(ctx, false)
	defer span.End()

	start := time.Now()
	defer p.inst.record(ctx, p.name, false, start)

	var apiResp AnthropicResponse
	if err := p.postJSON(ctx, p.baseURL+"/messages", p.request(messages, false), p.headers(), &apiResp); err != nil {
		return "", p.inst.fail(span, p.name, err)
	}

	var text strings.Builder
	for _, content := range apiResp.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}
	if text.Len() == 0 {
		return "", p.inst.fail(span, p.name, fmt.Errorf("%w from Anthropic", ErrEmptyResponse))
	}
	return text.String(), nil
}

// Stream calls the Anthropic API with server-sent events
func (p *AnthropicProvider) Stream(ctx context.Context, messages []Message) (<-chan Fragment, error) {
	ctx, span := p.startSpan(ctx, true)
	start := time.Now()

	resp, err := p.post(ctx, p.baseURL+"/messages", p.request(messages, true), p.headers())
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

			var event AnthropicStreamEvent
			if err := json.Unmarshal(data, &event); err != nil {
				continue
			}
			switch event.Type {
			case "content_block_delta":
				if event.Delta.Type == "text_delta" || event.Delta.Text != "" {
					return event.Delta.Text, false, nil
				}
			case "message_stop":
				return "", true, nil
			case "error":
				msg := "unknown error"
				if event.Error != nil {
					msg = event.Error.Type + ": " + event.Error.Message
				}
				return "", false, fmt.Errorf("stream error: %s", msg)
			}
			// message_start, content_block_start/stop, message_delta and ping carry no text
		}
	}

	return p.pump(ctx, span, start, resp.Body, read), nil
}
