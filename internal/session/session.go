// Package session holds the active conversation: the message list being shown,
// the selected stored conversation, the pending input and the exchange in
// flight. Exchanges are sequenced by a stateless FSM; the Store is injected.
package session

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/qmuntal/stateless"

	"github.com/comigor/lana-go/internal/gateway"
	"github.com/comigor/lana-go/internal/history"
	"github.com/comigor/lana-go/internal/logger"
)

// newConversationThreshold is the size of the list sent to the gateway below
// which, with nothing selected, the exchange starts a new conversation.
const newConversationThreshold = 3

var (
	// ErrBusy is returned when an operation needs the session to be idle.
	ErrBusy = errors.New("session is waiting for a reply")
	// ErrEmptyInput is returned when the submitted text is blank.
	ErrEmptyInput = errors.New("message is empty")
	// ErrNotFound is returned when selecting a conversation that does not exist.
	ErrNotFound = errors.New("conversation not found")
)

// Active is a point-in-time copy of the session state.
type Active struct {
	State        string
	SelectedID   string
	Title        string
	Messages     []history.Message
	PendingInput string
	Busy         bool
}

// Session is safe for concurrent use. Gateway calls are made without holding
// the session lock, so a second Submit during an exchange gets ErrBusy.
type Session struct {
	mu      sync.Mutex
	fsm     *stateless.StateMachine
	gateway gateway.Gateway
	store   *history.Store

	selectedID   string
	title        string
	messages     []history.Message
	pendingInput string

	pendingDelete *DeleteToken
	deleteWindow  time.Duration
}

// New creates an idle session with nothing selected.
func New(gw gateway.Gateway, store *history.Store) *Session {
	return &Session{
		fsm:          newMachine(),
		gateway:      gw,
		store:        store,
		deleteWindow: DeleteConfirmWindow,
	}
}

// State returns the current FSM state name.
func (s *Session) State() string {
	return stateName(s.fsm.MustState())
}

func (s *Session) busy() bool {
	return s.State() != StateIdle
}

func (s *Session) fire(trigger string) {
	if err := s.fsm.Fire(trigger); err != nil {
		logger.L.Error().Err(err).Str("trigger", trigger).Msg("FSM fire error")
	}
}

// Snapshot copies the session state.
func (s *Session) Snapshot() Active {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Active{
		State:        s.State(),
		SelectedID:   s.selectedID,
		Title:        s.title,
		Messages:     slices.Clone(s.messages),
		PendingInput: s.pendingInput,
		Busy:         s.busy(),
	}
}

// Conversations lists stored conversations newest first, the order used by
// the display index of SelectIndex, ConfirmDelete and RemoveConversation.
func (s *Session) Conversations() []history.Conversation {
	return s.store.Newest()
}

// SetPendingInput records the text being typed.
func (s *Session) SetPendingInput(text string) {
	s.mu.Lock()
	s.pendingInput = text
	s.mu.Unlock()
}

// SubmitPending submits the pending input.
func (s *Session) SubmitPending(ctx context.Context) (history.Message, error) {
	s.mu.Lock()
	text := s.pendingInput
	s.mu.Unlock()
	return s.Submit(ctx, text)
}

// Submit sends text as a user message and waits for the assistant reply.
//
// On gateway failure the user message stays in the list and the error (a
// *gateway.Failure) is returned. After the first exchange of a new
// conversation a title is requested and the conversation is stored; if that
// fails the reply is returned together with a *TitleError. Later exchanges
// update the selected conversation.
func (s *Session) Submit(ctx context.Context, text string) (history.Message, error) {
	if strings.TrimSpace(text) == "" {
		return history.Message{}, ErrEmptyInput
	}

	s.mu.Lock()
	if err := s.fsm.Fire(triggerSubmit); err != nil {
		s.mu.Unlock()
		return history.Message{}, ErrBusy
	}
	s.messages = append(s.messages, history.UserMessage(text))
	s.pendingInput = ""
	sent := slices.Clone(s.messages)
	selected := s.selectedID
	s.mu.Unlock()

	reply, err := s.gateway.Complete(ctx, sent)

	s.mu.Lock()
	if err != nil {
		s.fire(triggerReplyFailed)
		s.mu.Unlock()
		logger.L.Warn().Err(err).Msg("exchange failed")
		return history.Message{}, err
	}
	s.messages = append(s.messages, reply)
	exchange := slices.Clone(s.messages)

	if len(sent) >= newConversationThreshold || selected != "" {
		defer s.mu.Unlock()
		err := s.store.Update(selected, exchange)
		s.fire(triggerReplied)
		if err != nil {
			return reply, errors.Wrap(err, "save conversation")
		}
		return reply, nil
	}

	s.fire(triggerNeedsTitle)
	s.mu.Unlock()

	title, err := s.synthesizeTitle(ctx, exchange)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.fire(triggerTitleFailed)
		logger.L.Warn().Err(err).Msg("title synthesis failed; conversation not saved")
		return reply, &TitleError{Err: err}
	}

	conv, err := s.store.Create(exchange, title)
	s.selectedID = conv.ID
	s.title = conv.Title
	s.fire(triggerTitled)
	if err != nil {
		return reply, errors.Wrap(err, "save conversation")
	}
	logger.L.Info().Str("id", conv.ID).Str("title", conv.Title).Msg("conversation created")
	return reply, nil
}

// Select replaces the active messages, title and id with the stored
// conversation's. It is only allowed while idle.
func (s *Session) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fsm.Fire(triggerSelect); err != nil {
		return ErrBusy
	}
	conv, ok := s.store.Get(id)
	if !ok {
		return errors.Wrapf(ErrNotFound, "id %s", id)
	}
	s.selectedID = conv.ID
	s.title = conv.Title
	s.messages = conv.Messages
	return nil
}

// SelectIndex selects by newest-first display index.
func (s *Session) SelectIndex(index int) error {
	list := s.store.Newest()
	if index < 0 || index >= len(list) {
		return errors.Wrapf(ErrNotFound, "index %d", index)
	}
	return s.Select(list[index].ID)
}

// NewConversation clears the selection and the message list.
func (s *Session) NewConversation() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fsm.Fire(triggerNewThread); err != nil {
		return ErrBusy
	}
	s.clearActiveLocked()
	return nil
}

func (s *Session) clearActiveLocked() {
	s.selectedID = ""
	s.title = ""
	s.messages = nil
}
