package evaluation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InterviewPrep/internal/backend"
	"InterviewPrep/internal/session"
)

type stubProvider struct {
	reply    string
	err      error
	calls    int
	messages []backend.Message
}

func (s *stubProvider) Name() string  { return "stub" }
func (s *stubProvider) Model() string { return "stub-model" }

func (s *stubProvider) Invoke(_ context.Context, messages []backend.Message) (string, error) {
	s.calls++
	s.messages = messages
	return s.reply, s.err
}

func (s *stubProvider) Stream(context.Context, []backend.Message) (<-chan backend.Fragment, error) {
	return nil, errors.New("not implemented")
}

const validReport = `{
  "overall_score": 7.5,
  "correctness": 8,
  "depth": 6.5,
  "communication": 9,
  "strengths": ["clear"],
  "areas_to_improve": ["depth on tradeoffs"],
  "recommendations": ["practice system design"]
}`

func completedSession() *session.Session {
	now := time.Now()
	sess := session.New("genai", "hard", 2, "system prompt", now)
	sess.Append(session.RoleInterviewer, "Question 1 of 2: What is RAG?", now)
	sess.Append(session.RoleCandidate, "Retrieval augmented generation.", now)
	sess.Append(session.RoleInterviewer, "Good. INTERVIEW_COMPLETE", now)
	sess.Complete()
	return sess
}

func TestParse_RawAndFencedAreIdentical(t *testing.T) {
	raw, err := Parse(validReport)
	require.NoError(t, err)

	fenced, err := Parse("Here is the evaluation:\n```json\n" + validReport + "\n```\nGood luck!")
	require.NoError(t, err)

	untagged, err := Parse("```\n" + validReport + "\n```")
	require.NoError(t, err)

	assert.Equal(t, raw, fenced)
	assert.Equal(t, raw, untagged)
	assert.InDelta(t, 7.5, raw.OverallScore, 1e-9)
	assert.Equal(t, []string{"depth on tradeoffs"}, raw.Gaps)
}

func TestParse_Failures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"truncated", `{"overall_score": 7, "correctness": 8, "dep`},
		{"not json", "The candidate did great."},
		{"missing key", `{"overall_score": 7, "correctness": 8, "depth": 6, "communication": 9, "strengths": [], "recommendations": []}`},
		{"wrong type", `{"overall_score": "high", "correctness": 8, "depth": 6, "communication": 9, "strengths": [], "areas_to_improve": [], "recommendations": []}`},
		{"null list", `{"overall_score": 7, "correctness": 8, "depth": 6, "communication": 9, "strengths": null, "areas_to_improve": [], "recommendations": []}`},
		{"array", `[1, 2, 3]`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			assert.ErrorIs(t, err, ErrParse)
		})
	}
}

func TestParse_NumericStringsAndOutOfRange(t *testing.T) {
	r, err := Parse(`{"overall_score": "8.5", "correctness": 12, "depth": -1, "communication": 9,
		"strengths": [], "areas_to_improve": [], "recommendations": [], "extra": true}`)
	require.NoError(t, err)
	assert.InDelta(t, 8.5, r.OverallScore, 1e-9)
	assert.InDelta(t, 12, r.Correctness, 1e-9)
	assert.InDelta(t, -1, r.Depth, 1e-9)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSON("  {\"a\":1}\n"))
	assert.Equal(t, `{"a":1}`, ExtractJSON("```json{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, ExtractJSON("pre ```\n{\"a\":1}\n``` post"))
	assert.Equal(t, `{"a":1}`, ExtractJSON("```json\n{\"a\":1}"))
}

func TestTranscript(t *testing.T) {
	sess := completedSession()
	got := Transcript(sess.Messages)

	assert.Equal(t,
		"Interviewer: Question 1 of 2: What is RAG?\n\nCandidate: Retrieval augmented generation.\n\nInterviewer: Good. INTERVIEW_COMPLETE",
		got)
	assert.NotContains(t, got, "system prompt")
}

func TestEvaluate_Success(t *testing.T) {
	p := &stubProvider{reply: "```json\n" + validReport + "\n```"}
	e := New(nil)

	res, err := e.Evaluate(context.Background(), p, completedSession())
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.InDelta(t, 9, res.Report.Communication, 1e-9)

	require.Len(t, p.messages, 2)
	assert.Equal(t, backend.RoleSystem, p.messages[0].Role)
	assert.Equal(t, systemPrompt, p.messages[0].Content)
	assert.Contains(t, p.messages[1].Content, "Interview type: genai\nDifficulty: hard")
	assert.Contains(t, p.messages[1].Content, "Candidate: Retrieval augmented generation.")
}

func TestEvaluate_FallbackNeverErrors(t *testing.T) {
	p := &stubProvider{reply: `{"overall_score": 7, "correct`}
	e := New(nil)

	res, err := e.Evaluate(context.Background(), p, completedSession())
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Zero(t, res.Report.OverallScore)
	assert.Zero(t, res.Report.Correctness)
	assert.Zero(t, res.Report.Depth)
	assert.Zero(t, res.Report.Communication)
	assert.NotEmpty(t, res.Report.Strengths[0])
	assert.NotEmpty(t, res.Report.Gaps[0])
	assert.NotEmpty(t, res.Report.Recommendations[0])

	// fallbacks are not cached
	_, err = e.Evaluate(context.Background(), p, completedSession())
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls)
}

func TestEvaluate_ProviderErrorSurfaces(t *testing.T) {
	p := &stubProvider{err: &backend.ProviderError{Provider: "stub", Kind: backend.ErrProviderUnavailable}}
	_, err := New(nil).Evaluate(context.Background(), p, completedSession())
	assert.ErrorIs(t, err, backend.ErrProviderUnavailable)
}

func TestEvaluate_CachesByTranscript(t *testing.T) {
	p := &stubProvider{reply: validReport}
	e := New(nil)
	sess := completedSession()

	first, err := e.Evaluate(context.Background(), p, sess)
	require.NoError(t, err)
	second, err := e.Evaluate(context.Background(), p, sess)
	require.NoError(t, err)

	assert.Equal(t, 1, p.calls)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Report, second.Report)

	sess.Append(session.RoleCandidate, "one more thing", time.Now())
	_, err = e.Evaluate(context.Background(), p, sess)
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls)
}

func TestEvaluate_ForgetDropsSessionReports(t *testing.T) {
	p := &stubProvider{reply: validReport}
	e := New(nil)
	sess := completedSession()
	other := completedSession()
	other.Append(session.RoleCandidate, "a different transcript", time.Now())

	_, err := e.Evaluate(context.Background(), p, sess)
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), p, other)
	require.NoError(t, err)
	assert.Equal(t, 2, e.cache.Len())

	e.Forget(sess.ID)
	assert.Equal(t, 1, e.cache.Len())

	res, err := e.Evaluate(context.Background(), p, sess)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 3, p.calls)

	e.Forget("int_unknown")
	assert.Equal(t, 2, e.cache.Len())
}
