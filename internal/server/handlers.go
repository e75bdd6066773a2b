package server

import (
	"context"
	"net/http"

	"InterviewPrep/internal/backend"
	"InterviewPrep/internal/evaluation"
	"InterviewPrep/internal/keystore"
	"InterviewPrep/internal/session"
	"InterviewPrep/internal/storage"
	"InterviewPrep/internal/telemetry"
)

type testConnectionRequest struct {
	LLMConfig backend.Config `json:"llm_config"`
}

type startRequest struct {
	InterviewType string         `json:"interview_type"`
	Difficulty    string         `json:"difficulty"`
	NumQuestions  int            `json:"num_questions"`
	LLMConfig     backend.Config `json:"llm_config"`
}

type startResponse struct {
	SessionID      string `json:"session_id"`
	InterviewType  string `json:"interview_type"`
	Status         string `json:"status"`
	OpeningMessage string `json:"opening_message"`
}

type messageRequest struct {
	SessionID string         `json:"session_id"`
	Message   string         `json:"message"`
	LLMConfig backend.Config `json:"llm_config"`
}

type messageResponse struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
	Status    string `json:"status"`
}

type evaluateRequest struct {
	SessionID string         `json:"session_id"`
	LLMConfig backend.Config `json:"llm_config"`
}

type evaluateResponse struct {
	SessionID  string            `json:"session_id"`
	Evaluation evaluation.Report `json:"evaluation"`
	Fallback   bool              `json:"fallback"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": telemetry.ServiceName,
		"version": telemetry.ServiceVersion,
	})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	var req testConnectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cfg := s.resolveConfig(r.Context(), req.LLMConfig)
	respondJSON(w, http.StatusOK, s.connector.TestConnection(r.Context(), cfg))
}

// createSession validates the provider before allocating anything, then creates the live session.
// Nothing reaches the history until the opening turn is committed.
func (s *Server) createSession(ctx context.Context, req startRequest) (*session.Session, backend.Config, error) {
	cfg := s.resolveConfig(ctx, req.LLMConfig)
	if _, err := backend.Normalize(cfg.Provider); err != nil {
		return nil, cfg, err
	}

	sess, err := s.engine.CreateSession(ctx, req.InterviewType, req.Difficulty, req.NumQuestions)
	if err != nil {
		return nil, cfg, err
	}
	return sess, cfg, nil
}

// recordOpening records a started session together with its first transcript
func (s *Server) recordOpening(ctx context.Context, sess *session.Session, cfg backend.Config, status session.Status) {
	name, _ := backend.Normalize(cfg.Provider)
	rec := storage.SessionRecord{
		SessionID:     sess.ID,
		InterviewType: sess.InterviewType,
		Difficulty:    sess.Difficulty,
		Provider:      name,
		Model:         backend.ResolveModel(name, cfg.Model),
		CreatedAt:     sess.StartTime,
	}
	if err := s.history.RecordStart(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "failed to record session start", "session_id", sess.ID, "error", err)
		return
	}
	s.recordTranscript(ctx, sess.ID, status)
}

// recordTranscript mirrors the live transcript into the history. Failures are logged only.
func (s *Server) recordTranscript(ctx context.Context, id string, status session.Status) {
	msgs, err := s.engine.Messages(ctx, id)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read transcript", "session_id", id, "error", err)
		return
	}
	if err := s.history.RecordTranscript(ctx, id, status, msgs); err != nil {
		s.logger.WarnContext(ctx, "failed to record transcript", "session_id", id, "error", err)
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()

	sess, cfg, err := s.createSession(ctx, req)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	turn, err := s.engine.Start(ctx, sess.ID, cfg)
	if err != nil {
		s.engine.Cleanup(sess.ID)
		s.handleError(w, r, err)
		return
	}
	s.recordOpening(ctx, sess, cfg, turn.Status)

	respondJSON(w, http.StatusOK, startResponse{
		SessionID:      sess.ID,
		InterviewType:  sess.InterviewType,
		Status:         string(turn.Status),
		OpeningMessage: turn.Reply,
	})
}

func (s *Server) handleStartStream(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()

	sess, cfg, err := s.createSession(ctx, req)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	ts, err := s.engine.StartStream(ctx, sess.ID, cfg)
	if err != nil {
		s.engine.Cleanup(sess.ID)
		s.handleError(w, r, err)
		return
	}

	sw, err := newSSEWriter(w)
	if err != nil {
		ts.Wait()
		s.handleError(w, r, err)
		return
	}

	sw.emit(event{Type: eventSessionID, Content: sess.ID})
	if turn, err := relay(ts, sw.emit); err == nil {
		s.recordOpening(context.WithoutCancel(ctx), sess, cfg, turn.Status)
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()

	cfg := s.resolveConfig(ctx, req.LLMConfig)
	turn, err := s.engine.Submit(ctx, req.SessionID, req.Message, cfg)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.recordTranscript(ctx, req.SessionID, turn.Status)

	respondJSON(w, http.StatusOK, messageResponse{
		SessionID: req.SessionID,
		Response:  turn.Reply,
		Status:    string(turn.Status),
	})
}

func (s *Server) handleMessageStream(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()

	cfg := s.resolveConfig(ctx, req.LLMConfig)
	ts, err := s.engine.SubmitStream(ctx, req.SessionID, req.Message, cfg)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	sw, err := newSSEWriter(w)
	if err != nil {
		ts.Wait()
		s.handleError(w, r, err)
		return
	}

	if turn, err := relay(ts, sw.emit); err == nil {
		s.recordTranscript(context.WithoutCancel(ctx), req.SessionID, turn.Status)
	}
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()

	res, err := s.evaluate(ctx, req.SessionID, req.LLMConfig)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, evaluateResponse{
		SessionID:  req.SessionID,
		Evaluation: res.Report,
		Fallback:   res.Fallback,
	})
}

// evaluate scores the session and stores the report in the history
func (s *Server) evaluate(ctx context.Context, id string, reqCfg backend.Config) (*evaluation.Result, error) {
	cfg := s.resolveConfig(ctx, reqCfg)
	res, err := s.engine.Evaluate(ctx, id, cfg)
	if err != nil {
		return nil, err
	}

	msgs, err := s.engine.Messages(ctx, id)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read transcript", "session_id", id, "error", err)
	}
	if err := s.history.RecordEvaluation(ctx, id, res.Report.OverallScore, res.Report, msgs); err != nil {
		s.logger.WarnContext(ctx, "failed to record evaluation", "session_id", id, "error", err)
	}
	return res, nil
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	recs, err := s.history.ListSessions(r.Context(), storage.DefaultListLimit)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	rec, err := s.history.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.engine.Cleanup(id)
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "session_id": id})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.Settings(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var u keystore.Update
	if !decodeJSON(w, r, &u) {
		return
	}
	settings, err := s.settings.Apply(r.Context(), u)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "updated",
		"preferred_provider": settings.PreferredProvider,
		"preferred_model":    settings.PreferredModel,
	})
}

func (s *Server) handleGetAPIKey(w http.ResponseWriter, r *http.Request) {
	preview, err := s.settings.Preview(r.Context(), r.PathValue("provider"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, preview)
}

func (s *Server) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	if err := s.settings.DeleteKey(r.Context(), provider); err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "provider": provider})
}
