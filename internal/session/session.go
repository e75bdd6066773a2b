package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message in an interview transcript
type Role string

const (
	RoleSystem      Role = "system"
	RoleInterviewer Role = "interviewer"
	RoleCandidate   Role = "candidate"
)

// Status is the externally visible lifecycle of a session
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// State is the conversation state machine position
type State string

const (
	StateCreated   State = "created"
	StateActive    State = "active"
	StateCompleted State = "completed"
)

// IDPrefix is prepended to every session token
const IDPrefix = "int_"

// Message represents a single interview message
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session represents one mock interview conversation
type Session struct {
	ID            string    `json:"id"`
	InterviewType string    `json:"interview_type"`
	Difficulty    string    `json:"difficulty"`
	NumQuestions  int       `json:"num_questions"`
	Status        Status    `json:"status"`
	StartTime     time.Time `json:"start_time"`
	Messages      []Message `json:"messages"`
}

// New creates a session whose first message is the system prompt.
func New(interviewType, difficulty string, numQuestions int, systemPrompt string, now time.Time) *Session {
	return &Session{
		ID:            NewID(),
		InterviewType: interviewType,
		Difficulty:    difficulty,
		NumQuestions:  numQuestions,
		Status:        StatusActive,
		StartTime:     now,
		Messages: []Message{{
			Role:      RoleSystem,
			Content:   systemPrompt,
			Timestamp: now,
		}},
	}
}

// NewID returns an opaque session token: the fixed prefix plus 12 random hex characters.
func NewID() string {
	return IDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// SystemPrompt returns the immutable first message.
func (s *Session) SystemPrompt() string {
	if len(s.Messages) == 0 {
		return ""
	}
	return s.Messages[0].Content
}

// State derives the state machine position from the log and status.
func (s *Session) State() State {
	if s.Status == StatusCompleted {
		return StateCompleted
	}
	for _, m := range s.Messages {
		if m.Role == RoleInterviewer {
			return StateActive
		}
	}
	return StateCreated
}

// Append adds a complete turn to the log. The system slot is never written here.
func (s *Session) Append(role Role, content string, now time.Time) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: now,
	})
}

// Complete moves the session to its terminal status.
func (s *Session) Complete() {
	s.Status = StatusCompleted
}

// Transcript returns every message except the system prompt.
func (s *Session) Transcript() []Message {
	out := make([]Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m.Role == RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Clone returns a deep copy safe to hand out of the store.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	return &cp
}
