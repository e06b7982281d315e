package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/deepresearch/internal/executor"
	"github.com/mohammad-safakhou/deepresearch/internal/session"
	"go.uber.org/zap"
)

// Messages shown to the user.
const (
	MsgEnterQuestion   = "Please enter a question to research."
	MsgStarting        = "🔍 Starting research... This may take a few moments."
	MsgQuestionPrefix  = "🤖 Agent Question: "
	MsgCompletePrefix  = "✅ Research Complete:\n\n"
	MsgErrorPrefix     = "❌ Error: "
	answerPlaceholder  = "Enter your answer here..."
	defaultPlaceholder = "Enter your research question..."
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Mode tells the front end whether the next input is a new question or an
// answer to the agent.
type Mode int

const (
	ModeQuestion Mode = iota
	ModeAnswer
)

// Placeholder is the input hint for the mode.
func (m Mode) Placeholder() string {
	if m == ModeAnswer {
		return answerPlaceholder
	}
	return defaultPlaceholder
}

// Backend is the session as seen by a front end: in process or over HTTP.
type Backend interface {
	Submit(ctx context.Context, question string) (string, error)
	Answer(ctx context.Context, text string) error
	State(ctx context.Context) (session.State, error)
	Poll(ctx context.Context) (session.Updates, error)
	Reset(ctx context.Context) error
}

// Conversation owns the chat history and turns session updates into messages.
// The session never reads the history.
type Conversation struct {
	backend Backend
	logger  *zap.Logger

	mu      sync.Mutex
	history []Message
	mode    Mode
}

func NewConversation(b Backend, logger *zap.Logger) *Conversation {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conversation{backend: b, logger: logger.Named("chat")}
}

// HandleInput routes text to the waiting question when one is outstanding,
// otherwise starts a new research run. It returns the messages it appended.
func (c *Conversation) HandleInput(ctx context.Context, text string) ([]Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return c.append(Message{Role: RoleAssistant, Content: MsgEnterQuestion}), nil
	}

	st, err := c.backend.State(ctx)
	if err != nil {
		return nil, fmt.Errorf("read session state: %w", err)
	}
	if st.Awaiting {
		added := c.append(Message{Role: RoleUser, Content: text})
		if err := c.backend.Answer(ctx, text); err != nil && !errors.Is(err, session.ErrNoQuestionOutstanding) {
			return added, fmt.Errorf("submit answer: %w", err)
		}
		c.setMode(ModeQuestion)
		return added, nil
	}

	if _, err := c.backend.Submit(ctx, text); err != nil {
		if errors.Is(err, executor.ErrEmptyQuestion) {
			return c.append(Message{Role: RoleAssistant, Content: MsgEnterQuestion}), nil
		}
		if errors.Is(err, executor.ErrRunActive) {
			return c.append(
				Message{Role: RoleUser, Content: text},
				Message{Role: RoleAssistant, Content: MsgErrorPrefix + err.Error()},
			), nil
		}
		return nil, fmt.Errorf("start research: %w", err)
	}
	return c.append(
		Message{Role: RoleUser, Content: text},
		Message{Role: RoleAssistant, Content: MsgStarting},
	), nil
}

// Tick polls the session once and appends what it finds.
func (c *Conversation) Tick(ctx context.Context) ([]Message, error) {
	u, err := c.backend.Poll(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case len(u.Progress) > 0:
		msgs := make([]Message, 0, len(u.Progress))
		for _, p := range u.Progress {
			msgs = append(msgs, Message{Role: RoleAssistant, Content: p})
		}
		return c.append(msgs...), nil
	case u.Question != "":
		c.setMode(ModeAnswer)
		return c.append(Message{Role: RoleAssistant, Content: MsgQuestionPrefix + u.Question}), nil
	case u.Completion != nil:
		c.setMode(ModeQuestion)
		if u.Completion.Kind == session.CompletionError {
			return c.append(Message{Role: RoleAssistant, Content: MsgErrorPrefix + u.Completion.Text}), nil
		}
		return c.append(Message{Role: RoleAssistant, Content: MsgCompletePrefix + u.Completion.Text}), nil
	}
	return nil, nil
}

// Clear empties the history and resets the session, cancelling any run.
func (c *Conversation) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.history = nil
	c.mode = ModeQuestion
	c.mu.Unlock()
	return c.backend.Reset(ctx)
}

// History returns a copy of the conversation so far.
func (c *Conversation) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.history...)
}

func (c *Conversation) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Conversation) append(msgs ...Message) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, msgs...)
	return msgs
}

func (c *Conversation) setMode(m Mode) {
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
}
