package interview

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"InterviewPrep/internal/backend"
	"InterviewPrep/internal/evaluation"
	"InterviewPrep/internal/prompt"
	"InterviewPrep/internal/session"
)

const (
	DefaultDifficulty   = "medium"
	DefaultNumQuestions = 5
	MinQuestions        = 1
	MaxQuestions        = 15

	// DefaultProviderTimeout bounds every provider call
	DefaultProviderTimeout = 120 * time.Second
)

// Resolver turns a per-request provider config into a provider
type Resolver interface {
	New(ctx context.Context, cfg backend.Config) (backend.Provider, error)
}

// Turn is the outcome of one interviewer reply
type Turn struct {
	SessionID string
	Reply     string
	Status    session.Status
	Provider  string
	Model     string
}

// Engine runs mock interviews: it owns the session lifecycle and orchestrates
// prompt building, provider calls and completion detection for every turn.
type Engine struct {
	store     *session.Store
	resolver  Resolver
	content   prompt.Source
	evaluator *evaluation.Evaluator

	logger  *slog.Logger
	tracer  trace.Tracer
	timeout time.Duration
	now     func() time.Time

	turns            metric.Int64Counter
	completions      metric.Int64Counter
	providerFailures metric.Int64Counter
	evalFallbacks    metric.Int64Counter
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the tracer used for operation spans
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithMeter sets the meter used for interview counters
func WithMeter(m metric.Meter) Option {
	return func(e *Engine) { e.initMetrics(m) }
}

// WithProviderTimeout sets the deadline applied to each provider call
func WithProviderTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEvaluator sets the evaluator
func WithEvaluator(ev *evaluation.Evaluator) Option {
	return func(e *Engine) { e.evaluator = ev }
}

// NewEngine creates an interview engine over store
func NewEngine(store *session.Store, resolver Resolver, src prompt.Source, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		resolver: resolver,
		content:  src,
		logger:   slog.Default(),
		tracer:   tracenoop.NewTracerProvider().Tracer("interview"),
		timeout:  DefaultProviderTimeout,
		now:      time.Now,
	}
	e.initMetrics(metricnoop.NewMeterProvider().Meter("interview"))
	for _, opt := range opts {
		opt(e)
	}
	if e.evaluator == nil {
		e.evaluator = evaluation.New(e.logger)
	}
	return e
}

func (e *Engine) initMetrics(m metric.Meter) {
	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			slog.Warn("failed to create counter", "name", name, "error", err)
			c, _ = metricnoop.NewMeterProvider().Meter("interview").Int64Counter(name)
		}
		return c
	}
	e.turns = counter("interview.turns", "Interviewer replies committed to a session")
	e.completions = counter("interview.completions", "Sessions that reached the completion marker")
	e.providerFailures = counter("interview.provider_failures", "Provider calls that failed during a turn")
	e.evalFallbacks = counter("interview.evaluation_fallbacks", "Evaluations replaced by the fallback report")
}

// CreateSession allocates a new session whose first message is the interviewer system prompt
func (e *Engine) CreateSession(ctx context.Context, interviewType, difficulty string, numQuestions int) (*session.Session, error) {
	if difficulty == "" {
		difficulty = DefaultDifficulty
	}
	if numQuestions == 0 {
		numQuestions = DefaultNumQuestions
	}
	if !prompt.ValidType(interviewType) {
		return nil, fmt.Errorf("%w: unknown interview type %q", ErrInvalidRequest, interviewType)
	}
	if !prompt.ValidDifficulty(difficulty) {
		return nil, fmt.Errorf("%w: unknown difficulty %q", ErrInvalidRequest, difficulty)
	}
	if numQuestions < MinQuestions || numQuestions > MaxQuestions {
		return nil, fmt.Errorf("%w: num_questions must be between %d and %d", ErrInvalidRequest, MinQuestions, MaxQuestions)
	}

	systemPrompt := prompt.Build(e.content, interviewType, difficulty, numQuestions)
	sess := session.New(interviewType, difficulty, numQuestions, systemPrompt, e.now())
	if err := e.store.Put(sess); err != nil {
		return nil, fmt.Errorf("failed to register session: %w", err)
	}

	e.logger.InfoContext(ctx, "created interview session",
		"session_id", sess.ID, "interview_type", interviewType, "difficulty", difficulty, "num_questions", numQuestions)
	return sess.Clone(), nil
}

// Start asks the provider for the opening message using only the system prompt as context
func (e *Engine) Start(ctx context.Context, id string, cfg backend.Config) (*Turn, error) {
	ctx, span := e.tracer.Start(ctx, "interview.start", trace.WithAttributes(attribute.String("session_id", id)))
	defer span.End()

	p, sess, release, err := e.begin(ctx, id, cfg, startGuard)
	if err != nil {
		return nil, e.spanError(span, err)
	}
	defer release()

	reply, err := e.invoke(ctx, p, e.startContext(sess))
	if err != nil {
		return nil, e.spanError(span, e.providerFailed(ctx, p, sess.ID, err))
	}

	return e.commit(ctx, p, sess, reply, false), nil
}

// Submit records the candidate reply, then asks the provider for the next interviewer turn.
// The reply stays recorded when the provider call fails so the turn can be retried.
func (e *Engine) Submit(ctx context.Context, id, text string, cfg backend.Config) (*Turn, error) {
	ctx, span := e.tracer.Start(ctx, "interview.submit", trace.WithAttributes(attribute.String("session_id", id)))
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return nil, e.spanError(span, fmt.Errorf("%w: message is empty", ErrInvalidRequest))
	}

	p, sess, release, err := e.begin(ctx, id, cfg, submitGuard)
	if err != nil {
		return nil, e.spanError(span, err)
	}
	defer release()

	sess.Append(session.RoleCandidate, text, e.now())

	reply, err := e.invoke(ctx, p, conversation(sess))
	if err != nil {
		return nil, e.spanError(span, e.providerFailed(ctx, p, sess.ID, err))
	}

	return e.commit(ctx, p, sess, reply, true), nil
}

// Evaluate scores the transcript of a session. Unparseable provider output yields the
// fallback report; provider failures are returned.
func (e *Engine) Evaluate(ctx context.Context, id string, cfg backend.Config) (*evaluation.Result, error) {
	ctx, span := e.tracer.Start(ctx, "interview.evaluate", trace.WithAttributes(attribute.String("session_id", id)))
	defer span.End()

	p, err := e.resolver.New(ctx, cfg)
	if err != nil {
		return nil, e.spanError(span, err)
	}

	snapshot, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, e.spanError(span, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.evaluator.Evaluate(callCtx, p, snapshot)
	if err != nil {
		return nil, e.spanError(span, e.providerFailed(ctx, p, id, backend.WrapError(p.Name(), err)))
	}
	if res.Fallback {
		e.evalFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", p.Name())))
	}

	e.logger.InfoContext(ctx, "interview evaluated",
		"session_id", id, "overall_score", res.Report.OverallScore, "fallback", res.Fallback, "cached", res.Cached)
	return res, nil
}

// Get returns a snapshot of the session
func (e *Engine) Get(ctx context.Context, id string) (*session.Session, error) {
	return e.store.Get(ctx, id)
}

// Messages returns every non-system message of the session
func (e *Engine) Messages(ctx context.Context, id string) ([]session.Message, error) {
	sess, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.Transcript(), nil
}

// Cleanup removes a session and its cached evaluation. Unknown tokens are ignored.
func (e *Engine) Cleanup(id string) {
	e.store.Delete(id)
	e.evaluator.Forget(id)
	e.logger.Info("cleaned up interview session", "session_id", id)
}

// guard validates the session state before a turn mutates it
type guard func(sess *session.Session) error

func startGuard(sess *session.Session) error {
	switch sess.State() {
	case session.StateCompleted:
		return ErrSessionCompleted
	case session.StateActive:
		return ErrAlreadyStarted
	}
	return nil
}

func submitGuard(sess *session.Session) error {
	if sess.State() == session.StateCompleted {
		return ErrSessionCompleted
	}
	return nil
}

// begin resolves the provider before touching the session, then locks the session and checks its state.
// On success the caller owns release.
func (e *Engine) begin(ctx context.Context, id string, cfg backend.Config, check guard) (backend.Provider, *session.Session, func(), error) {
	p, err := e.resolver.New(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	sess, release, err := e.store.Acquire(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := check(sess); err != nil {
		release()
		return nil, nil, nil, err
	}
	return p, sess, release, nil
}

// invoke performs one provider call under the per-call deadline. A reply without text is a provider failure.
func (e *Engine) invoke(ctx context.Context, p backend.Provider, msgs []backend.Message) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reply, err := p.Invoke(callCtx, msgs)
	if err != nil {
		return "", backend.WrapError(p.Name(), err)
	}
	if reply == "" {
		return "", backend.WrapError(p.Name(), backend.ErrEmptyResponse)
	}
	return reply, nil
}

// commit appends a complete interviewer reply and, for candidate turns, checks for the completion marker.
// The session lock must be held.
func (e *Engine) commit(ctx context.Context, p backend.Provider, sess *session.Session, reply string, detect bool) *Turn {
	sess.Append(session.RoleInterviewer, reply, e.now())
	e.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", p.Name())))

	if detect && strings.Contains(reply, prompt.CompletionMarker) {
		sess.Complete()
		e.completions.Add(ctx, 1, metric.WithAttributes(attribute.String("interview_type", sess.InterviewType)))
		e.logger.InfoContext(ctx, "interview completed", "session_id", sess.ID, "messages", len(sess.Messages))
	}

	e.logger.DebugContext(ctx, "interviewer turn committed",
		"session_id", sess.ID, "provider", p.Name(), "model", p.Model(), "reply_len", len(reply))

	return &Turn{
		SessionID: sess.ID,
		Reply:     reply,
		Status:    sess.Status,
		Provider:  p.Name(),
		Model:     p.Model(),
	}
}

func (e *Engine) providerFailed(ctx context.Context, p backend.Provider, id string, err error) error {
	e.providerFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", p.Name())))
	e.logger.WarnContext(ctx, "provider call failed", "session_id", id, "provider", p.Name(), "error", err)
	return err
}

func (e *Engine) spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// startContext is the system prompt alone
func (e *Engine) startContext(sess *session.Session) []backend.Message {
	return []backend.Message{{Role: backend.RoleSystem, Content: sess.SystemPrompt()}}
}

// conversation maps the full log onto provider roles
func conversation(sess *session.Session) []backend.Message {
	msgs := make([]backend.Message, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		role := backend.RoleUser
		switch m.Role {
		case session.RoleSystem:
			role = backend.RoleSystem
		case session.RoleInterviewer:
			role = backend.RoleAssistant
		}
		msgs = append(msgs, backend.Message{Role: role, Content: m.Content})
	}
	return msgs
}
