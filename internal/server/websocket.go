package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"InterviewPrep/internal/backend"
)

const (
	actionStart    = "start"
	actionMessage  = "message"
	actionEvaluate = "evaluate"

	wsWriteWait = 10 * time.Second
)

// wsRequest is one client frame on the interview websocket
type wsRequest struct {
	Action        string         `json:"action"`
	SessionID     string         `json:"session_id"`
	InterviewType string         `json:"interview_type"`
	Difficulty    string         `json:"difficulty"`
	NumQuestions  int            `json:"num_questions"`
	Message       string         `json:"message"`
	LLMConfig     backend.Config `json:"llm_config"`
}

// wsConn writes events to the socket. Only the request loop writes.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) emit(ev event) error {
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(ev)
}

// handleWebSocket runs interview turns over one websocket. Requests are processed in order;
// closing the socket cancels the turn in flight.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	requests := make(chan wsRequest)
	go func() {
		defer cancel()
		defer close(requests)
		for {
			var req wsRequest
			if err := conn.ReadJSON(&req); err != nil {
				var syntaxErr *json.SyntaxError
				if errors.As(err, &syntaxErr) {
					continue
				}
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.DebugContext(ctx, "websocket read ended", "error", err)
				}
				return
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	wc := &wsConn{conn: conn}
	s.logger.InfoContext(ctx, "websocket connected", "client_ip", clientIP(r))

	for req := range requests {
		if err := s.serveWSRequest(ctx, wc, req); err != nil {
			s.logger.DebugContext(ctx, "websocket request failed", "action", req.Action, "error", err)
		}
	}

	wc.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	wc.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.logger.InfoContext(ctx, "websocket closed")
}

func (s *Server) serveWSRequest(ctx context.Context, wc *wsConn, req wsRequest) error {
	fail := func(err error) error {
		wc.emit(event{Type: eventError, Content: err.Error(), SessionID: req.SessionID})
		return err
	}

	switch req.Action {
	case actionStart:
		sess, cfg, err := s.createSession(ctx, startRequest{
			InterviewType: req.InterviewType,
			Difficulty:    req.Difficulty,
			NumQuestions:  req.NumQuestions,
			LLMConfig:     req.LLMConfig,
		})
		if err != nil {
			return fail(err)
		}
		ts, err := s.engine.StartStream(ctx, sess.ID, cfg)
		if err != nil {
			s.engine.Cleanup(sess.ID)
			return fail(err)
		}
		if err := wc.emit(event{Type: eventSessionID, Content: sess.ID}); err != nil {
			ts.Wait()
			return err
		}
		turn, err := relay(ts, wc.emit)
		if err != nil {
			return err
		}
		s.recordOpening(ctx, sess, cfg, turn.Status)
		return nil

	case actionMessage:
		cfg := s.resolveConfig(ctx, req.LLMConfig)
		ts, err := s.engine.SubmitStream(ctx, req.SessionID, req.Message, cfg)
		if err != nil {
			return fail(err)
		}
		turn, err := relay(ts, wc.emit)
		if err != nil {
			return err
		}
		s.recordTranscript(ctx, req.SessionID, turn.Status)
		return nil

	case actionEvaluate:
		res, err := s.evaluate(ctx, req.SessionID, req.LLMConfig)
		if err != nil {
			return fail(err)
		}
		report := res.Report
		return wc.emit(event{Type: eventEvaluation, SessionID: req.SessionID, Evaluation: &report})
	}

	return fail(errors.New("unknown action: " + req.Action))
}
