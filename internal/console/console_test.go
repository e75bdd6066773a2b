package console

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InterviewPrep/internal/backend"
	"InterviewPrep/internal/content"
	"InterviewPrep/internal/interview"
	"InterviewPrep/internal/session"
	"InterviewPrep/internal/storage"
)

// queueProvider replies with the queued answers in order, repeating the last one
type queueProvider struct {
	mu      sync.Mutex
	replies []string
	err     error
}

func (p *queueProvider) Name() string  { return "ollama" }
func (p *queueProvider) Model() string { return "llama3.2" }

func (p *queueProvider) next() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	reply := p.replies[0]
	if len(p.replies) > 1 {
		p.replies = p.replies[1:]
	}
	return reply, nil
}

func (p *queueProvider) Invoke(context.Context, []backend.Message) (string, error) {
	return p.next()
}

func (p *queueProvider) Stream(context.Context, []backend.Message) (<-chan backend.Fragment, error) {
	reply, err := p.next()
	if err != nil {
		return nil, err
	}
	ch := make(chan backend.Fragment, 16)
	go func() {
		defer close(ch)
		for _, word := range strings.SplitAfter(reply, " ") {
			ch <- backend.Fragment{Content: word}
		}
	}()
	return ch, nil
}

type providerResolver struct {
	provider *queueProvider
	mu       sync.Mutex
	configs  []backend.Config
}

func (r *providerResolver) New(_ context.Context, cfg backend.Config) (backend.Provider, error) {
	r.mu.Lock()
	r.configs = append(r.configs, cfg)
	r.mu.Unlock()
	return r.provider, nil
}

func newConsole(t *testing.T, replies ...string) (*Console, *queueProvider, *providerResolver, *storage.Store) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "console.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	p := &queueProvider{replies: replies}
	res := &providerResolver{provider: p}
	engine := interview.NewEngine(session.NewStore(), res, content.Empty())

	c := New(engine, db, nil, nil, Options{
		InterviewType: "python",
		Difficulty:    "medium",
		Questions:     2,
		LLM:           backend.Config{Provider: "ollama"},
	})
	return c, p, res, db
}

func TestRun_InterviewToEvaluation(t *testing.T) {
	c, _, _, db := newConsole(t,
		"Question 1 of 2: what is a list comprehension?",
		"Thanks, that covers it. INTERVIEW_COMPLETE",
		`{"overall_score": 8, "correctness": 8, "depth": 7, "communication": 9, "strengths": ["concise"], "areas_to_improve": [], "recommendations": ["keep going"]}`,
	)

	in := strings.NewReader("A compact loop expression\nmore\n/evaluate\n/quit\n")
	var out bytes.Buffer
	require.NoError(t, c.Run(context.Background(), in, &out))

	text := out.String()
	assert.Contains(t, text, "Interviewer: Question 1 of 2: what is a list comprehension?")
	assert.Contains(t, text, "Interview complete.")
	assert.Contains(t, text, "the interview is complete")
	assert.Contains(t, text, "Overall:        8.0/10")
	assert.Contains(t, text, "  - concise")
	assert.Contains(t, text, "Goodbye!")

	recs, err := db.ListSessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "completed", recs[0].Status)
	require.NotNil(t, recs[0].Score)
	assert.InDelta(t, 8.0, *recs[0].Score, 1e-9)
	assert.Equal(t, "llama3.2", recs[0].Model)

	stored, err := db.GetSession(context.Background(), recs[0].SessionID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 3)
	assert.Equal(t, session.RoleCandidate, stored.Messages[1].Role)
}

func TestRun_EndsOnEOFAndCleansUp(t *testing.T) {
	c, _, _, _ := newConsole(t, "Question 1 of 2")
	var out bytes.Buffer
	require.NoError(t, c.Run(context.Background(), strings.NewReader(""), &out))

	assert.Contains(t, out.String(), "Goodbye!")
	assert.Empty(t, c.sessionID)
}

func TestRun_StartFailure(t *testing.T) {
	c, p, _, _ := newConsole(t, "unused")
	p.err = &backend.ProviderError{Provider: "ollama", Kind: backend.ErrProviderUnavailable, Cause: errors.New("connection refused")}

	var out bytes.Buffer
	err := c.Run(context.Background(), strings.NewReader("hello\n"), &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "provider is unavailable")
}

func TestRun_FailedStartLeavesNoHistory(t *testing.T) {
	c, p, _, db := newConsole(t, "")

	var out bytes.Buffer
	err := c.Run(context.Background(), strings.NewReader("hello\n"), &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrEmptyResponse)

	recs, err := db.ListSessions(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recs)

	p.err = errors.New("connection refused")
	require.Error(t, c.Run(context.Background(), strings.NewReader(""), &out))
	recs, err = db.ListSessions(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSwitch_SameProviderKeepsModel(t *testing.T) {
	c, _, res, _ := newConsole(t, "Question 1 of 2", "Next question")
	c.opts.LLM = backend.Config{Provider: "OpenAI", Model: "gpt-4o"}

	in := strings.NewReader("/switch openai\nmy answer\n/quit\n")
	var out bytes.Buffer
	require.NoError(t, c.Run(context.Background(), in, &out))

	assert.Contains(t, out.String(), "Switched to openai (gpt-4o)")
	res.mu.Lock()
	defer res.mu.Unlock()
	require.Len(t, res.configs, 2)
	assert.Equal(t, backend.Config{Provider: "openai", Model: "gpt-4o"}, res.configs[1])
}

func TestCommands(t *testing.T) {
	c, _, res, _ := newConsole(t, "Question 1 of 2", "Next question")

	in := strings.NewReader(strings.Join([]string{
		"/help",
		"/status",
		"/switch openai",
		"/model gpt-4o",
		"/switch mistral",
		"/bogus",
		"my answer",
		"/new",
		"/quit",
		"never read",
	}, "\n"))
	var out bytes.Buffer
	require.NoError(t, c.Run(context.Background(), in, &out))

	text := out.String()
	assert.Contains(t, text, "/switch <provider>")
	assert.Contains(t, text, "Type:       python (medium)")
	assert.Contains(t, text, "Switched to openai (gpt-4o-mini)")
	assert.Contains(t, text, "Model set to: gpt-4o")
	assert.Contains(t, text, "unsupported LLM provider")
	assert.Contains(t, text, "unknown command: /bogus")
	assert.Equal(t, 2, strings.Count(text, "Session: int_"))

	res.mu.Lock()
	defer res.mu.Unlock()
	require.Len(t, res.configs, 3)
	assert.Equal(t, "ollama", res.configs[0].Provider)
	assert.Equal(t, backend.Config{Provider: "openai", Model: "gpt-4o"}, res.configs[1])
}

func TestDescribe(t *testing.T) {
	err := describe(&backend.ProviderError{Provider: "gemini", Kind: backend.ErrProviderTimeout})
	assert.ErrorIs(t, err, backend.ErrProviderTimeout)
	assert.Contains(t, err.Error(), "did not answer in time")

	plain := errors.New("boom")
	assert.Equal(t, plain, describe(plain))
}
