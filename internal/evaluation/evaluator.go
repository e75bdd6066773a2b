package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"InterviewPrep/internal/backend"
	"InterviewPrep/internal/cache"
	"InterviewPrep/internal/session"
)

// ErrParse is returned by Parse when the model output does not hold a complete report
var ErrParse = errors.New("failed to parse evaluation")

const systemPrompt = "You are a technical interview evaluator. Return only valid JSON."

const promptTemplate = `You are evaluating a mock technical interview for a Senior Python GenAI Engineer position.
Interview type: %s
Difficulty: %s

Transcript:
%s

Evaluate the candidate and return ONLY valid JSON with this exact structure:
{
    "overall_score": <float 0-10>,
    "correctness": <float 0-10>,
    "depth": <float 0-10>,
    "communication": <float 0-10>,
    "strengths": ["strength 1", "strength 2", ...],
    "areas_to_improve": ["area 1", "area 2", ...],
    "recommendations": ["recommendation 1", "recommendation 2", ...]
}
`

// Report is the structured post-interview score report
type Report struct {
	OverallScore    float64  `json:"overall_score"`
	Correctness     float64  `json:"correctness"`
	Depth           float64  `json:"depth"`
	Communication   float64  `json:"communication"`
	Strengths       []string `json:"strengths"`
	Gaps            []string `json:"areas_to_improve"`
	Recommendations []string `json:"recommendations"`
}

// Fallback is returned whenever the model output cannot be parsed
func Fallback() Report {
	return Report{
		Strengths:       []string{"Unable to parse evaluation"},
		Gaps:            []string{"Please try again"},
		Recommendations: []string{"Retry the evaluation"},
	}
}

// Result carries a report and how it was obtained
type Result struct {
	Report   Report
	Fallback bool
	Cached   bool
}

// ReportTTL bounds how long a parsed report is reused
const ReportTTL = time.Hour

// Evaluator scores transcripts with one provider call per distinct transcript
type Evaluator struct {
	logger *slog.Logger
	cache  *cache.Cache[Report]

	mu   sync.Mutex
	keys map[string][]string // session id -> cache keys
}

// New creates an evaluator. Parsed reports are cached by transcript, provider and model for ReportTTL.
func New(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		logger: logger,
		cache:  cache.New[Report](ReportTTL),
		keys:   make(map[string][]string),
	}
}

// Forget drops the cached reports of a session and sweeps expired ones
func (e *Evaluator) Forget(sessionID string) {
	e.mu.Lock()
	keys := e.keys[sessionID]
	delete(e.keys, sessionID)
	e.mu.Unlock()

	for _, k := range keys {
		e.cache.Delete(k)
	}
	e.cache.Prune()
}

func (e *Evaluator) remember(sessionID, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keys[sessionID] = append(e.keys[sessionID], key)
}

// Evaluate renders the transcript of sess and asks p for a report. Parse failures never
// surface: they produce the fallback report. Provider failures are returned.
func (e *Evaluator) Evaluate(ctx context.Context, p backend.Provider, sess *session.Session) (*Result, error) {
	messages := sess.Transcript()
	key := cache.GenerateCacheKey(messages, p.Name(), p.Model(), sess.InterviewType, sess.Difficulty)
	if report, ok := e.cache.Get(key); ok {
		e.logger.Info("evaluation cache hit", "session_id", sess.ID, "key", key[:16])
		return &Result{Report: report, Cached: true}, nil
	}

	reply, err := p.Invoke(ctx, []backend.Message{
		{Role: backend.RoleSystem, Content: systemPrompt},
		{Role: backend.RoleUser, Content: Prompt(sess.InterviewType, sess.Difficulty, Transcript(messages))},
	})
	if err != nil {
		return nil, err
	}

	report, err := Parse(reply)
	if err != nil {
		e.logger.Warn("evaluation parse failed, using fallback", "session_id", sess.ID, "error", err)
		return &Result{Report: Fallback(), Fallback: true}, nil
	}

	for name, v := range map[string]float64{
		"overall_score": report.OverallScore,
		"correctness":   report.Correctness,
		"depth":         report.Depth,
		"communication": report.Communication,
	} {
		if v < 0 || v > 10 {
			e.logger.Warn("evaluation score out of range", "session_id", sess.ID, "score", name, "value", v)
		}
	}

	e.cache.Put(key, report)
	e.remember(sess.ID, key)
	return &Result{Report: report}, nil
}

// Transcript renders messages as labeled lines separated by blank lines
func Transcript(messages []session.Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case session.RoleSystem:
			continue
		case session.RoleInterviewer:
			parts = append(parts, "Interviewer: "+m.Content)
		default:
			parts = append(parts, "Candidate: "+m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Prompt builds the evaluation request text
func Prompt(interviewType, difficulty, transcript string) string {
	return fmt.Sprintf(promptTemplate, interviewType, difficulty, transcript)
}

// ExtractJSON returns the fenced block of raw if there is one, otherwise raw itself, trimmed.
// A block tagged json wins over an untagged one.
func ExtractJSON(raw string) string {
	content := raw
	if i := strings.Index(content, "```json"); i >= 0 {
		content = content[i+len("```json"):]
		if j := strings.Index(content, "```"); j >= 0 {
			content = content[:j]
		}
	} else if i := strings.Index(content, "```"); i >= 0 {
		content = content[i+len("```"):]
		if j := strings.Index(content, "```"); j >= 0 {
			content = content[:j]
		}
	}
	return strings.TrimSpace(content)
}

// score accepts a JSON number or a numeric string
type score float64

func (s *score) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*s = score(f)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("score must be a number: %s", data)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
	if err != nil {
		return fmt.Errorf("score must be a number: %q", str)
	}
	*s = score(f)
	return nil
}

type wireReport struct {
	OverallScore    *score    `json:"overall_score"`
	Correctness     *score    `json:"correctness"`
	Depth           *score    `json:"depth"`
	Communication   *score    `json:"communication"`
	Strengths       *[]string `json:"strengths"`
	Gaps            *[]string `json:"areas_to_improve"`
	Recommendations *[]string `json:"recommendations"`
}

// Parse extracts and decodes a report. Every key is required.
func Parse(raw string) (Report, error) {
	var w wireReport
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &w); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	missing := []string{}
	if w.OverallScore == nil {
		missing = append(missing, "overall_score")
	}
	if w.Correctness == nil {
		missing = append(missing, "correctness")
	}
	if w.Depth == nil {
		missing = append(missing, "depth")
	}
	if w.Communication == nil {
		missing = append(missing, "communication")
	}
	if w.Strengths == nil {
		missing = append(missing, "strengths")
	}
	if w.Gaps == nil {
		missing = append(missing, "areas_to_improve")
	}
	if w.Recommendations == nil {
		missing = append(missing, "recommendations")
	}
	if len(missing) > 0 {
		return Report{}, fmt.Errorf("%w: missing %s", ErrParse, strings.Join(missing, ", "))
	}

	return Report{
		OverallScore:    float64(*w.OverallScore),
		Correctness:     float64(*w.Correctness),
		Depth:           float64(*w.Depth),
		Communication:   float64(*w.Communication),
		Strengths:       *w.Strengths,
		Gaps:            *w.Gaps,
		Recommendations: *w.Recommendations,
	}, nil
}
