package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"InterviewPrep/internal/backend"
	"InterviewPrep/internal/evaluation"
	"InterviewPrep/internal/interview"
	"InterviewPrep/internal/session"
	"InterviewPrep/internal/storage"
)

// Recorder keeps the durable history of console interviews
type Recorder interface {
	RecordStart(ctx context.Context, rec storage.SessionRecord) error
	RecordTranscript(ctx context.Context, id string, status session.Status, messages []session.Message) error
	RecordEvaluation(ctx context.Context, id string, score float64, evaluation any, messages []session.Message) error
}

// KeyResolver fills missing provider settings from stored ones
type KeyResolver interface {
	Resolve(ctx context.Context, cfg backend.Config) backend.Config
}

// Options holds the interview the console starts with
type Options struct {
	InterviewType string
	Difficulty    string
	Questions     int
	LLM           backend.Config
}

// Console runs one interview at a time in a terminal
type Console struct {
	engine   *interview.Engine
	recorder Recorder
	keys     KeyResolver
	logger   *slog.Logger
	opts     Options

	out       io.Writer
	sessionID string
	status    session.Status
}

// New creates a console. recorder and keys may be nil.
func New(engine *interview.Engine, recorder Recorder, keys KeyResolver, logger *slog.Logger, opts Options) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		engine:   engine,
		recorder: recorder,
		keys:     keys,
		logger:   logger,
		opts:     opts,
	}
}

func (c *Console) config(ctx context.Context) backend.Config {
	if c.keys == nil {
		return c.opts.LLM
	}
	return c.keys.Resolve(ctx, c.opts.LLM)
}

// Run reads candidate answers from in until EOF or /quit and streams interviewer replies to out
func (c *Console) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	c.out = out
	defer c.endSession()

	fmt.Fprintln(out, "=== Mock Interview ===")
	fmt.Fprintf(out, "Type: %s | Difficulty: %s | Questions: %d\n", c.opts.InterviewType, c.opts.Difficulty, c.opts.Questions)
	fmt.Fprintf(out, "Provider: %s\n", c.opts.LLM.Provider)
	fmt.Fprintln(out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(out)

	if err := c.startSession(ctx); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		if ctx.Err() != nil {
			break
		}
		fmt.Fprint(out, "You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := c.handleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				c.logger.Error("command error", "command", input, "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		if err := c.answer(ctx, input); err != nil {
			fmt.Fprintf(out, "Error: %v\n", describe(err))
			c.logger.Error("failed to send answer", "session_id", c.sessionID, "error", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	fmt.Fprintln(out, "Goodbye!")
	return nil
}

// startSession creates a session and streams the opening question
func (c *Console) startSession(ctx context.Context) error {
	cfg := c.config(ctx)
	name, err := backend.Normalize(cfg.Provider)
	if err != nil {
		return err
	}

	sess, err := c.engine.CreateSession(ctx, c.opts.InterviewType, c.opts.Difficulty, c.opts.Questions)
	if err != nil {
		return err
	}
	c.sessionID = sess.ID
	c.status = sess.Status

	fmt.Fprintf(c.out, "Session: %s\n\n", sess.ID)

	ts, err := c.engine.StartStream(ctx, sess.ID, cfg)
	if err != nil {
		c.engine.Cleanup(sess.ID)
		c.sessionID = ""
		return fmt.Errorf("failed to start interview: %w", describe(err))
	}

	if _, err := c.print(ts); err != nil {
		c.engine.Cleanup(sess.ID)
		c.sessionID = ""
		return fmt.Errorf("failed to start interview: %w", describe(err))
	}

	// history only holds sessions whose opening question was committed
	c.recordStart(ctx, storage.SessionRecord{
		SessionID:     sess.ID,
		InterviewType: sess.InterviewType,
		Difficulty:    sess.Difficulty,
		Provider:      name,
		Model:         backend.ResolveModel(name, cfg.Model),
		CreatedAt:     sess.StartTime,
	})
	c.recordTranscript(ctx)
	return nil
}

func (c *Console) recordStart(ctx context.Context, rec storage.SessionRecord) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordStart(ctx, rec); err != nil {
		c.logger.Warn("failed to record session start", "session_id", rec.SessionID, "error", err)
	}
}

func (c *Console) answer(ctx context.Context, text string) error {
	if c.sessionID == "" {
		return errors.New("no active interview, use /new to start one")
	}
	if c.status == session.StatusCompleted {
		return interview.ErrSessionCompleted
	}

	ts, err := c.engine.SubmitStream(ctx, c.sessionID, text, c.config(ctx))
	if err != nil {
		return err
	}
	turn, err := c.print(ts)
	if err != nil {
		return err
	}
	c.recordTranscript(ctx)
	if turn.Status == session.StatusCompleted {
		fmt.Fprintln(c.out, "Interview complete. Use /evaluate for your report or /new to start another.")
		fmt.Fprintln(c.out)
	}
	return nil
}

// print writes the reply as it streams and returns the committed turn
func (c *Console) print(ts *interview.TurnStream) (*interview.Turn, error) {
	fmt.Fprint(c.out, "Interviewer: ")
	for f := range ts.Fragments {
		fmt.Fprint(c.out, f)
	}
	fmt.Fprintln(c.out)

	turn, err := ts.Wait()
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(c.out)

	c.status = turn.Status
	return turn, nil
}

func (c *Console) recordTranscript(ctx context.Context) {
	if c.recorder == nil {
		return
	}
	msgs, err := c.engine.Messages(ctx, c.sessionID)
	if err != nil {
		c.logger.Warn("failed to read transcript", "session_id", c.sessionID, "error", err)
		return
	}
	if err := c.recorder.RecordTranscript(ctx, c.sessionID, c.status, msgs); err != nil {
		c.logger.Warn("failed to record transcript", "session_id", c.sessionID, "error", err)
	}
}

func (c *Console) endSession() {
	if c.sessionID != "" {
		c.engine.Cleanup(c.sessionID)
		c.sessionID = ""
	}
}

// handleCommand handles slash commands; it reports whether the console should exit
func (c *Console) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		c.endSession()
		if err := c.startSession(ctx); err != nil {
			return false, err
		}
		return false, nil

	case "/evaluate":
		return false, c.evaluate(ctx)

	case "/status":
		if c.sessionID == "" {
			fmt.Fprintln(c.out, "No active interview.")
			return false, nil
		}
		sess, err := c.engine.Get(ctx, c.sessionID)
		if err != nil {
			return false, err
		}
		cfg := c.config(ctx)
		fmt.Fprintf(c.out, "Session:    %s\n", sess.ID)
		fmt.Fprintf(c.out, "Type:       %s (%s)\n", sess.InterviewType, sess.Difficulty)
		fmt.Fprintf(c.out, "Status:     %s\n", sess.Status)
		fmt.Fprintf(c.out, "Messages:   %d\n", len(sess.Transcript()))
		fmt.Fprintf(c.out, "Provider:   %s (%s)\n", cfg.Provider, backend.ResolveModel(cfg.Provider, cfg.Model))
		fmt.Fprintln(c.out)
		return false, nil

	case "/switch":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /switch <provider> (%s)", strings.Join(backend.Providers(), "|"))
		}
		name, err := backend.Normalize(parts[1])
		if err != nil {
			return false, err
		}
		if cur, _ := backend.Normalize(c.opts.LLM.Provider); cur != name {
			c.opts.LLM = backend.Config{Provider: name}
		}
		c.opts.LLM.Provider = name
		fmt.Fprintf(c.out, "Switched to %s (%s)\n", name, backend.ResolveModel(name, c.opts.LLM.Model))
		return false, nil

	case "/model":
		if len(parts) < 2 {
			return false, errors.New("usage: /model <name>")
		}
		c.opts.LLM.Model = parts[1]
		fmt.Fprintf(c.out, "Model set to: %s\n", parts[1])
		return false, nil

	case "/help":
		fmt.Fprintln(c.out, "Available commands:")
		fmt.Fprintln(c.out, "  /quit, /exit        - End the interview and exit")
		fmt.Fprintln(c.out, "  /evaluate           - Score the interview so far")
		fmt.Fprintln(c.out, "  /status             - Show the current session")
		fmt.Fprintln(c.out, "  /new                - Start a new interview")
		fmt.Fprintf(c.out, "  /switch <provider>  - Switch provider (%s)\n", strings.Join(backend.Providers(), "|"))
		fmt.Fprintln(c.out, "  /model <name>       - Use a specific model")
		fmt.Fprintln(c.out, "  /help               - Show this help message")
		return false, nil
	}

	return false, fmt.Errorf("unknown command: %s (type /help)", parts[0])
}

func (c *Console) evaluate(ctx context.Context) error {
	if c.sessionID == "" {
		return errors.New("no active interview")
	}
	fmt.Fprintln(c.out, "Evaluating...")

	res, err := c.engine.Evaluate(ctx, c.sessionID, c.config(ctx))
	if err != nil {
		return describe(err)
	}

	if c.recorder != nil {
		msgs, err := c.engine.Messages(ctx, c.sessionID)
		if err != nil {
			c.logger.Warn("failed to read transcript", "session_id", c.sessionID, "error", err)
		}
		if err := c.recorder.RecordEvaluation(ctx, c.sessionID, res.Report.OverallScore, res.Report, msgs); err != nil {
			c.logger.Warn("failed to record evaluation", "session_id", c.sessionID, "error", err)
		}
	}

	printReport(c.out, res)
	return nil
}

func printReport(w io.Writer, res *evaluation.Result) {
	r := res.Report
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Evaluation ===")
	if res.Fallback {
		fmt.Fprintln(w, "(the evaluator reply could not be parsed)")
	}
	fmt.Fprintf(w, "Overall:        %.1f/10\n", r.OverallScore)
	fmt.Fprintf(w, "Correctness:    %.1f/10\n", r.Correctness)
	fmt.Fprintf(w, "Depth:          %.1f/10\n", r.Depth)
	fmt.Fprintf(w, "Communication:  %.1f/10\n", r.Communication)
	printList(w, "Strengths", r.Strengths)
	printList(w, "Areas to improve", r.Gaps)
	printList(w, "Recommendations", r.Recommendations)
	fmt.Fprintln(w)
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(w, "  - %s\n", item)
	}
}

// describe rewrites engine errors into terminal-friendly text
func describe(err error) error {
	switch {
	case errors.Is(err, interview.ErrSessionCompleted):
		return errors.New("the interview is complete, use /evaluate or /new")
	case errors.Is(err, backend.ErrProviderTimeout):
		return fmt.Errorf("the provider did not answer in time: %w", err)
	case errors.Is(err, backend.ErrProviderUnavailable):
		return fmt.Errorf("the provider is unavailable: %w", err)
	}
	return err
}
