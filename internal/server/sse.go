package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"InterviewPrep/internal/evaluation"
	"InterviewPrep/internal/interview"
)

const (
	eventSessionID  = "session_id"
	eventToken      = "token"
	eventDone       = "done"
	eventError      = "error"
	eventEvaluation = "evaluation"
)

// event is one frame of a streamed interview turn, shared by SSE and websocket
type event struct {
	Type       string             `json:"type"`
	Content    string             `json:"content"`
	Status     string             `json:"status,omitempty"`
	SessionID  string             `json:"session_id,omitempty"`
	Evaluation *evaluation.Report `json:"evaluation,omitempty"`
}

type emitFunc func(event) error

var errStreamingUnsupported = errors.New("streaming not supported")

// sseWriter writes "data: <json>\n\n" frames and flushes each one
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) emit(ev event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// relay forwards the fragments of ts as token events, then reports the outcome as a done or error event.
// Once the client stops accepting events the remaining fragments are drained without being sent.
func relay(ts *interview.TurnStream, emit emitFunc) (*interview.Turn, error) {
	var emitErr error
	for f := range ts.Fragments {
		if emitErr != nil {
			continue
		}
		emitErr = emit(event{Type: eventToken, Content: f})
	}

	turn, err := ts.Wait()
	if emitErr != nil {
		if err != nil {
			return nil, err
		}
		return turn, emitErr
	}
	if err != nil {
		emit(event{Type: eventError, Content: err.Error()})
		return nil, err
	}
	emit(event{Type: eventDone, Content: "", Status: string(turn.Status)})
	return turn, nil
}
