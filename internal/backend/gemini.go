package backend

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GeminiProvider talks to the Gemini API through the genai SDK
type GeminiProvider struct {
	httpBase
}

var _ Provider = (*GeminiProvider)(nil)

// newClient builds an SDK client per call; the credential arrives with each request
func (p *GeminiProvider) newClient(ctx context.Context) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		APIKey:     p.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.client,
	}
	if p.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	return client, nil
}

// contents converts the normalized context into Gemini contents plus generation config
func (p *GeminiProvider) contents(messages []Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, turns := splitSystem(messages)

	contents := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	temp := float32(Temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature: &temp,
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return contents, cfg
}

// Invoke calls the Gemini generateContent endpoint
func (p *GeminiProvider) Invoke(ctx context.Context, messages []Message) (string, error) {
	ctx, span := p.startSpan(ctx, false)
	defer span.End()

	start := time.Now()
	defer p.inst.record(ctx, p.name, false, start)

	client, err := p.newClient(ctx)
	if err != nil {
		return "", p.inst.fail(span, p.name, err)
	}

	contents, cfg := p.contents(messages)
	res, err := client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return "", p.inst.fail(span, p.name, fmt.Errorf("gemini generate content: %w", err))
	}

	text := res.Text()
	if text == "" {
		return "", p.inst.fail(span, p.name, fmt.Errorf("%w from Gemini", ErrEmptyResponse))
	}
	return text, nil
}

// Stream calls the Gemini streamGenerateContent endpoint
func (p *GeminiProvider) Stream(ctx context.Context, messages []Message) (<-chan Fragment, error) {
	ctx, span := p.startSpan(ctx, true)
	start := time.Now()

	client, err := p.newClient(ctx)
	if err != nil {
		err = p.inst.fail(span, p.name, err)
		span.End()
		return nil, err
	}

	contents, cfg := p.contents(messages)
	out := make(chan Fragment, streamBuffer)

	go func() {
		defer close(out)
		defer span.End()
		defer p.inst.record(ctx, p.name, true, start)

		for res, err := range client.Models.GenerateContentStream(ctx, p.model, contents, cfg) {
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				}
				select {
				case out <- Fragment{Err: p.inst.fail(span, p.name, err)}:
				case <-ctx.Done():
				}
				return
			}

			text := res.Text()
			if text == "" {
				continue
			}
			select {
			case out <- Fragment{Content: text}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
