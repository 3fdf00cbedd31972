// Package orchestrator drives one conversation turn at a time on the client:
// seed a model session from stored history, stream the reply, then persist
// the completed turn through the chat API.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"promptly-backend/internal/models"
)

type State int

const (
	Idle State = iota
	SessionReady
	Streaming
	Persisting
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SessionReady:
		return "session_ready"
	case Streaming:
		return "streaming"
	case Persisting:
		return "persisting"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrBusy       = errors.New("a turn is already in flight")
	ErrNoSession  = errors.New("no conversation loaded")
	ErrEmptyInput = errors.New("input text is required")
	ErrClosed     = errors.New("orchestrator closed")

	// ErrFirstReplyPending rejects a question while the opening message is
	// still unanswered; AutoTrigger must succeed first.
	ErrFirstReplyPending = errors.New("the first reply has not been received yet")
)

// Image is an attachment already uploaded to the asset store. Data and
// MimeType go to the model; Ref is what gets persisted.
type Image struct {
	Ref      string
	MimeType string
	Data     []byte
}

// Stream yields reply chunks in arrival order and returns io.EOF when the
// reply is complete.
type Stream interface {
	Next() (string, error)
}

type ModelSession interface {
	SendStream(ctx context.Context, text string, img *Image) (Stream, error)
	// Rollback drops whatever the last SendStream added to the session, so a
	// failed turn can be retried on the history the store holds.
	Rollback()
}

// SessionFactory builds a model session seeded with prior turns.
type SessionFactory interface {
	StartSession(ctx context.Context, history []models.Turn) (ModelSession, error)
}

type Persister interface {
	AppendTurn(ctx context.Context, chatID uuid.UUID, req models.AppendTurnRequest) (*models.Chat, error)
}

// Invalidator drops any cached view of a chat.
type Invalidator interface {
	Invalidate(chatID uuid.UUID)
}

type Option func(*Orchestrator)

// WithChunkHandler registers a callback receiving the accumulated answer after
// every chunk.
func WithChunkHandler(fn func(answer string)) Option {
	return func(o *Orchestrator) { o.onChunk = fn }
}

// WithStateHandler registers a callback invoked on every state transition.
// It runs under the orchestrator's lock and must not call back into it.
func WithStateHandler(fn func(from, to State)) Option {
	return func(o *Orchestrator) { o.onState = fn }
}

func WithInvalidator(inv Invalidator) Option {
	return func(o *Orchestrator) { o.invalidator = inv }
}

type Orchestrator struct {
	factory     SessionFactory
	persister   Persister
	invalidator Invalidator
	onChunk     func(string)
	onState     func(from, to State)
	logger      *slog.Logger

	// lifetime is cancelled by Close; every stream derives from it.
	lifetime context.Context
	cancel   context.CancelFunc

	mu        sync.Mutex
	state     State
	chat      *models.Chat
	session   ModelSession
	triggered bool
	image     *Image
	answer    string
	closed    bool
}

func New(factory SessionFactory, persister Persister, opts ...Option) *Orchestrator {
	lifetime, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		factory:   factory,
		persister: persister,
		logger:    slog.Default().With("component", "orchestrator"),
		lifetime:  lifetime,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Answer returns the reply accumulated for the current or last turn.
func (o *Orchestrator) Answer() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.answer
}

func (o *Orchestrator) Chat() *models.Chat {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.chat
}

// Load seeds a model session with the chat's history. Loading the chat that
// is already loaded keeps the existing session and trigger latch.
//
// A chat whose only turn is the opening user message is seeded without it;
// AutoTrigger sends that message as the first model request.
func (o *Orchestrator) Load(ctx context.Context, chat *models.Chat) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.state == Streaming || o.state == Persisting {
		o.mu.Unlock()
		return ErrBusy
	}
	if o.chat != nil && o.chat.ID == chat.ID && o.session != nil {
		o.chat = chat
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	seed := chat.History
	if awaitsFirstReply(chat) {
		seed = nil
	}
	session, err := o.factory.StartSession(ctx, seed)
	if err != nil {
		return fmt.Errorf("start model session: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.chat = chat
	o.session = session
	o.triggered = false
	o.image = nil
	o.answer = ""
	o.setState(SessionReady)
	return nil
}

// AttachImage sets the image sent with the next submitted question.
func (o *Orchestrator) AttachImage(img Image) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == Streaming || o.state == Persisting {
		return ErrBusy
	}
	o.image = &img
	return nil
}

// AutoTrigger requests the first model reply for a chat holding only its
// opening message. It fires at most once per loaded chat and reports whether
// it ran.
func (o *Orchestrator) AutoTrigger(ctx context.Context) (bool, error) {
	o.mu.Lock()
	if o.chat == nil || o.triggered || !awaitsFirstReply(o.chat) {
		o.mu.Unlock()
		return false, nil
	}
	o.triggered = true
	text := o.chat.History[0].FirstText()
	o.mu.Unlock()

	_, err := o.run(ctx, text, false)
	if err != nil && !errors.Is(err, ErrClosed) {
		// The opening message is still unanswered; let the next call retry it.
		o.mu.Lock()
		o.triggered = false
		o.mu.Unlock()
	}
	return true, err
}

// Submit sends a user question and persists the completed turn.
func (o *Orchestrator) Submit(ctx context.Context, text string) (*models.Chat, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	return o.run(ctx, text, true)
}

// Close abandons any in-flight turn. Remaining chunks are dropped and the
// turn is not persisted.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()
}

func (o *Orchestrator) run(ctx context.Context, text string, isQuestion bool) (*models.Chat, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	if o.session == nil {
		o.mu.Unlock()
		return nil, ErrNoSession
	}
	if o.state != Idle && o.state != SessionReady {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	if isQuestion && awaitsFirstReply(o.chat) {
		o.mu.Unlock()
		return nil, ErrFirstReplyPending
	}
	session := o.session
	chatID := o.chat.ID
	img := o.image
	if !isQuestion {
		img = nil
	}
	o.answer = ""
	o.setState(Streaming)
	o.mu.Unlock()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(o.lifetime, cancel)
	defer stop()

	answer, err := o.consume(streamCtx, session, text, img)
	if err != nil {
		return nil, o.fail("stream", chatID, session, err)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		session.Rollback()
		return nil, ErrClosed
	}
	o.setState(Persisting)
	o.mu.Unlock()

	req := models.AppendTurnRequest{Answer: answer}
	if isQuestion {
		req.Question = &text
		if img != nil {
			req.Img = &img.Ref
		}
	}
	chat, err := o.persister.AppendTurn(ctx, chatID, req)
	if err != nil {
		return nil, o.fail("persist", chatID, session, err)
	}

	if o.invalidator != nil {
		o.invalidator.Invalidate(chatID)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if chat != nil {
		o.chat = chat
	}
	if isQuestion {
		o.image = nil
	}
	o.setState(Idle)
	return chat, nil
}

func (o *Orchestrator) consume(ctx context.Context, session ModelSession, text string, img *Image) (string, error) {
	stream, err := session.SendStream(ctx, text, img)
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return "", ErrClosed
		}
		buf.WriteString(chunk)
		o.answer = buf.String()
		answer := o.answer
		o.mu.Unlock()

		if o.onChunk != nil {
			o.onChunk(answer)
		}
	}

	if strings.TrimSpace(buf.String()) == "" {
		return "", errors.New("model returned an empty reply")
	}
	return buf.String(), nil
}

// fail rolls the session back, reports err through the Failed state and
// returns to Idle so the turn can be retried on the same session.
func (o *Orchestrator) fail(op string, chatID uuid.UUID, session ModelSession, err error) error {
	session.Rollback()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	o.logger.Error("turn failed", "op", op, "chat_id", chatID, "error", err)
	o.setState(Failed)
	o.setState(Idle)
	return fmt.Errorf("%s: %w", op, err)
}

// setState must be called with mu held.
func (o *Orchestrator) setState(to State) {
	from := o.state
	o.state = to
	if o.onState != nil && from != to {
		o.onState(from, to)
	}
}

func awaitsFirstReply(chat *models.Chat) bool {
	return len(chat.History) == 1 && chat.History[0].Role == models.RoleUser
}
