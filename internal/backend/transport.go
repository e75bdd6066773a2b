package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// streamBuffer bounds the fragments queued between a provider and its consumer
const streamBuffer = 16

// maxErrorBody caps how much of a failed response body ends up in an error
const maxErrorBody = 4096

// instruments carries the tracing and metric handles shared by provider calls
type instruments struct {
	tracer   trace.Tracer
	duration metric.Float64Histogram
	logger   *slog.Logger
}

func newInstruments(tracer trace.Tracer, meter metric.Meter, logger *slog.Logger) *instruments {
	duration, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		logger.Warn("failed to create histogram", "error", err)
	}
	return &instruments{tracer: tracer, duration: duration, logger: logger}
}

func (i *instruments) record(ctx context.Context, provider string, streaming bool, start time.Time) {
	if i.duration == nil {
		return
	}
	// The caller context may already be done; metrics are recorded regardless
	i.duration.Record(context.WithoutCancel(ctx), float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.Bool("streaming", streaming),
		),
	)
}

// fail marks the span, logs, and classifies err
func (i *instruments) fail(span trace.Span, provider string, err error) error {
	err = WrapError(provider, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	i.logger.Warn("provider call failed", "provider", provider, "error", err)
	return err
}

// httpBase holds the connection parameters common to every variant
type httpBase struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	inst    *instruments
}

// Name returns the provider identifier
func (b *httpBase) Name() string { return b.name }

// Model returns the resolved model name
func (b *httpBase) Model() string { return b.model }

// startSpan opens the per-call span named after the provider
func (b *httpBase) startSpan(ctx context.Context, streaming bool) (context.Context, trace.Span) {
	return b.inst.tracer.Start(ctx, b.name+"_api_call",
		trace.WithAttributes(
			attribute.String("llm.provider", b.name),
			attribute.String("llm.model", b.model),
			attribute.Bool("llm.streaming", streaming),
		),
	)
}

// post sends a JSON request and returns the response when the status is 2xx.
// The caller closes the body.
func (b *httpBase) post(ctx context.Context, url string, payload any, headers map[string]string) (*http.Response, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &statusError{Status: resp.Status, Body: string(body)}
	}
	return resp, nil
}

// postJSON sends a request and decodes the whole response body into out
func (b *httpBase) postJSON(ctx context.Context, url string, payload any, headers map[string]string, out any) error {
	resp, err := b.post(ctx, url, payload, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// chunkReader yields the next piece of streamed text. io.EOF or done ends the stream cleanly.
type chunkReader func() (content string, done bool, err error)

// pump forwards chunks from read to a bounded channel until the stream ends or ctx is done.
// It owns body and span and releases both when it returns.
func (b *httpBase) pump(ctx context.Context, span trace.Span, start time.Time, body io.Closer, read chunkReader) <-chan Fragment {
	out := make(chan Fragment, streamBuffer)

	go func() {
		defer close(out)
		defer span.End()
		defer body.Close()
		defer b.inst.record(ctx, b.name, true, start)

		send := func(f Fragment) bool {
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			content, done, err := read()
			if err != nil {
				if err == io.EOF && ctx.Err() == nil {
					return
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				}
				send(Fragment{Err: b.inst.fail(span, b.name, err)})
				return
			}
			if content != "" && !send(Fragment{Content: content}) {
				return
			}
			if done {
				return
			}
		}
	}()

	return out
}

// splitSystem separates system text from the conversational turns and makes sure the
// turns open with a user message, as required by providers without a system role.
func splitSystem(messages []Message) (string, []Message) {
	var system string
	turns := make([]Message, 0, len(messages)+1)
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) == 0 || turns[0].Role != RoleUser {
		turns = append([]Message{{Role: RoleUser, Content: kickoffPrompt}}, turns...)
	}
	return system, turns
}
