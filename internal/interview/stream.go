package interview

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"InterviewPrep/internal/backend"
	"InterviewPrep/internal/session"
)

// fragmentBuffer bounds the tokens queued between the engine and the transport
const fragmentBuffer = 16

// TurnStream delivers an interviewer reply as it is generated.
// Fragments is closed when the reply ends; Wait reports the committed turn or the failure.
// The caller must drain Fragments, call Wait, or cancel the request context.
type TurnStream struct {
	Fragments <-chan string

	done chan struct{}
	turn *Turn
	err  error
}

// Wait drains any unread fragments and blocks until the turn has been committed or abandoned
func (s *TurnStream) Wait() (*Turn, error) {
	for range s.Fragments {
	}
	<-s.done
	return s.turn, s.err
}

// StartStream is the streaming form of Start
func (e *Engine) StartStream(ctx context.Context, id string, cfg backend.Config) (*TurnStream, error) {
	ctx, span := e.tracer.Start(ctx, "interview.start_stream", trace.WithAttributes(attribute.String("session_id", id)))

	p, sess, release, err := e.begin(ctx, id, cfg, startGuard)
	if err != nil {
		err = e.spanError(span, err)
		span.End()
		return nil, err
	}

	return e.stream(ctx, span, p, sess, release, e.startContext(sess), false)
}

// SubmitStream is the streaming form of Submit. The candidate reply is recorded before the
// provider is contacted; the interviewer reply is recorded only once the stream ends cleanly.
func (e *Engine) SubmitStream(ctx context.Context, id, text string, cfg backend.Config) (*TurnStream, error) {
	ctx, span := e.tracer.Start(ctx, "interview.submit_stream", trace.WithAttributes(attribute.String("session_id", id)))

	if strings.TrimSpace(text) == "" {
		err := e.spanError(span, fmt.Errorf("%w: message is empty", ErrInvalidRequest))
		span.End()
		return nil, err
	}

	p, sess, release, err := e.begin(ctx, id, cfg, submitGuard)
	if err != nil {
		err = e.spanError(span, err)
		span.End()
		return nil, err
	}

	sess.Append(session.RoleCandidate, text, e.now())

	return e.stream(ctx, span, p, sess, release, conversation(sess), true)
}

// stream opens the provider stream and forwards fragments until the reply ends.
// It takes ownership of span and release.
func (e *Engine) stream(ctx context.Context, span trace.Span, p backend.Provider, sess *session.Session,
	release func(), msgs []backend.Message, detect bool) (*TurnStream, error) {

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)

	upstream, err := p.Stream(callCtx, msgs)
	if err != nil {
		cancel()
		release()
		err = e.spanError(span, e.providerFailed(ctx, p, sess.ID, backend.WrapError(p.Name(), err)))
		span.End()
		return nil, err
	}

	out := make(chan string, fragmentBuffer)
	ts := &TurnStream{Fragments: out, done: make(chan struct{})}

	go func() {
		defer close(ts.done)
		defer span.End()
		defer release()
		defer cancel()

		var reply strings.Builder
		var streamErr error
		forwarding := true

		for f := range upstream {
			if f.Err != nil {
				streamErr = f.Err
				continue
			}
			reply.WriteString(f.Content)
			if !forwarding {
				continue
			}
			select {
			case out <- f.Content:
			case <-ctx.Done():
				// Consumer went away; keep draining so the provider goroutine can exit
				forwarding = false
				cancel()
			}
		}
		close(out)

		if streamErr == nil {
			if ctxErr := callCtx.Err(); ctxErr != nil {
				streamErr = ctxErr
			}
		}
		// a clean stream without text fails like an empty Invoke reply
		if streamErr == nil && reply.Len() == 0 {
			streamErr = backend.ErrEmptyResponse
		}
		if streamErr != nil {
			ts.err = e.spanError(span, e.providerFailed(ctx, p, sess.ID, backend.WrapError(p.Name(), streamErr)))
			e.logger.InfoContext(ctx, "stream abandoned, partial reply discarded",
				"session_id", sess.ID, "partial_len", reply.Len())
			return
		}

		ts.turn = e.commit(ctx, p, sess, reply.String(), detect)
	}()

	return ts, nil
}
