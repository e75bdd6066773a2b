package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// OllamaRequest represents the request body for the Ollama chat API
type OllamaRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  OllamaOptions `json:"options"`
}

// OllamaOptions carries sampling parameters
type OllamaOptions struct {
	Temperature float64 `json:"temperature"`
}

// OllamaResponse represents a response object, or one NDJSON line when streaming
type OllamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// OllamaProvider talks to a local or self-hosted Ollama server
type OllamaProvider struct {
	httpBase
}

var _ Provider = (*OllamaProvider)(nil)

func (p *OllamaProvider) request(messages []Message, stream bool) OllamaRequest {
	return OllamaRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   stream,
		Options:  OllamaOptions{Temperature: Temperature},
	}
}

// Invoke calls the Ollama API
func (p *OllamaProvider) Invoke(ctx context.Context, messages []Message) (string, error) {
	ctx, span := p.startSpan(ctx, false)
	defer span.End()

	start := time.Now()
	defer p.inst.record(ctx, p.name, false, start)

	var apiResp OllamaResponse
	if err := p.postJSON(ctx, p.baseURL+"/api/chat", p.request(messages, false), nil, &apiResp); err != nil {
		return "", p.inst.fail(span, p.name, err)
	}
	if apiResp.Error != "" {
		return "", p.inst.fail(span, p.name, fmt.Errorf("API error: %s", apiResp.Error))
	}

	return apiResp.Message.Content, nil
}

// Stream calls the Ollama API and reads its newline-delimited JSON stream
func (p *OllamaProvider) Stream(ctx context.Context, messages []Message) (<-chan Fragment, error) {
	ctx, span := p.startSpan(ctx, true)
	start := time.Now()

	resp, err := p.post(ctx, p.baseURL+"/api/chat", p.request(messages, true), nil)
	if err != nil {
		err = p.inst.fail(span, p.name, err)
		span.End()
		return nil, err
	}

	reader := bufio.NewReader(resp.Body)
	read := func() (string, bool, error) {
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil && (err != io.EOF || len(line) == 0) {
				return "", false, err
			}
			if len(line) == 0 {
				continue
			}

			var chunk OllamaResponse
			if jsonErr := json.Unmarshal(line, &chunk); jsonErr != nil {
				// Skip malformed lines
				if err == io.EOF {
					return "", false, io.EOF
				}
				continue
			}
			if chunk.Error != "" {
				return "", false, fmt.Errorf("stream error: %s", chunk.Error)
			}
			return chunk.Message.Content, chunk.Done || err == io.EOF, nil
		}
	}

	return p.pump(ctx, span, start, resp.Body, read), nil
}
