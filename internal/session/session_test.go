package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/comigor/lana-go/internal/gateway"
	"github.com/comigor/lana-go/internal/history"
)

type step struct {
	content string
	err     error
}

// mockGateway answers with the configured steps in order and records every request.
type mockGateway struct {
	mu       sync.Mutex
	steps    []step
	requests [][]history.Message
	block    chan struct{} // when set, Complete waits on it before answering
	entered  chan struct{}
}

func (m *mockGateway) Complete(ctx context.Context, msgs []history.Message) (history.Message, error) {
	m.mu.Lock()
	m.requests = append(m.requests, msgs)
	if len(m.steps) == 0 {
		m.mu.Unlock()
		panic("mockGateway: no more responses configured")
	}
	st := m.steps[0]
	m.steps = m.steps[1:]
	block, entered := m.block, m.entered
	m.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if st.err != nil {
		return history.Message{}, st.err
	}
	return history.AssistantMessage(st.content), nil
}

func (m *mockGateway) lastRequest() []history.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

func replies(contents ...string) *mockGateway {
	m := &mockGateway{}
	for _, c := range contents {
		m.steps = append(m.steps, step{content: c})
	}
	return m
}

func newSession(t *testing.T, gw gateway.Gateway) (*Session, *history.Store) {
	t.Helper()
	store := history.Open(history.NewMemoryBackend())
	return New(gw, store), store
}

var gatewayDown = &gateway.Failure{Op: "post /api/chat", Err: errors.New("connection refused")}

func TestSubmit_FirstExchangeCreatesConversation(t *testing.T) {
	gw := replies("Hi there!", "Greeting Exchange")
	s, store := newSession(t, gw)

	reply, err := s.Submit(context.Background(), "Hello")
	require.NoError(t, err)
	require.Equal(t, history.AssistantMessage("Hi there!"), reply)

	want := []history.Message{history.UserMessage("Hello"), history.AssistantMessage("Hi there!")}
	active := s.Snapshot()
	require.Equal(t, want, active.Messages)
	require.Equal(t, StateIdle, active.State)
	require.False(t, active.Busy)

	require.Equal(t, 1, store.Len())
	conv := store.List()[0]
	require.Equal(t, "Greeting Exchange", conv.Title)
	require.Equal(t, want, conv.Messages)
	require.Equal(t, conv.ID, active.SelectedID)
	require.Equal(t, "Greeting Exchange", active.Title)

	require.Len(t, gw.requests, 2)
	require.Equal(t, []history.Message{history.UserMessage("Hello")}, gw.requests[0])
	require.Equal(t, append(want, history.UserMessage(TitlePrompt)), gw.requests[1])
}

func TestSubmit_LaterExchangeUpdates(t *testing.T) {
	gw := replies("Hi there!", "Greeting Exchange", "Fine, thanks.")
	s, store := newSession(t, gw)

	_, err := s.Submit(context.Background(), "Hello")
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), "How are you?")
	require.NoError(t, err)

	require.Equal(t, 1, store.Len(), "the second exchange must not create a conversation")
	conv := store.List()[0]
	require.Len(t, conv.Messages, 4)
	require.Equal(t, history.AssistantMessage("Fine, thanks."), conv.Messages[3])
	require.Equal(t, "Greeting Exchange", conv.Title)
	require.Len(t, gw.requests, 3)
	require.Len(t, gw.lastRequest(), 3)
}

func TestSubmit_SelectedConversationUpdates(t *testing.T) {
	gw := replies("Sure.")
	s, store := newSession(t, gw)
	conv, err := store.Create([]history.Message{history.UserMessage("Hi"), history.AssistantMessage("Hello!")}, "Greeting")
	require.NoError(t, err)
	require.NoError(t, s.Select(conv.ID))

	_, err = s.Submit(context.Background(), "Tell me more")
	require.NoError(t, err)

	require.Equal(t, 1, store.Len())
	got, _ := store.Get(conv.ID)
	require.Len(t, got.Messages, 4)
}

func TestSubmit_GatewayFailure(t *testing.T) {
	gw := &mockGateway{steps: []step{{err: gatewayDown}}}
	s, store := newSession(t, gw)

	reply, err := s.Submit(context.Background(), "Hello")
	require.Error(t, err)
	require.True(t, gateway.IsFailure(err))
	require.Equal(t, history.Message{}, reply)

	active := s.Snapshot()
	require.Equal(t, []history.Message{history.UserMessage("Hello")}, active.Messages)
	require.Equal(t, StateIdle, active.State)
	require.Empty(t, active.SelectedID)
	require.Equal(t, 0, store.Len())
}

func TestSubmit_TitleFailure(t *testing.T) {
	gw := &mockGateway{steps: []step{{content: "Hi there!"}, {err: gatewayDown}}}
	s, store := newSession(t, gw)

	reply, err := s.Submit(context.Background(), "Hello")
	require.Equal(t, history.AssistantMessage("Hi there!"), reply)

	var titleErr *TitleError
	require.ErrorAs(t, err, &titleErr)
	require.True(t, gateway.IsFailure(err))

	active := s.Snapshot()
	require.Len(t, active.Messages, 2)
	require.Empty(t, active.SelectedID)
	require.Equal(t, StateIdle, active.State)
	require.Equal(t, 0, store.Len())
}

func TestSubmit_EmptyInput(t *testing.T) {
	gw := &mockGateway{}
	s, _ := newSession(t, gw)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := s.Submit(context.Background(), text)
		require.ErrorIs(t, err, ErrEmptyInput)
	}
	require.Empty(t, gw.requests)
	require.Empty(t, s.Snapshot().Messages)
}

func TestSubmit_BusyRejectsConcurrentOperations(t *testing.T) {
	gw := replies("Hi there!", "Greeting Exchange")
	gw.block = make(chan struct{})
	gw.entered = make(chan struct{}, 2)
	s, store := newSession(t, gw)
	other, err := store.Create([]history.Message{history.UserMessage("a"), history.AssistantMessage("b")}, "Other")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), "Hello")
		done <- err
	}()
	<-gw.entered

	active := s.Snapshot()
	require.True(t, active.Busy)
	require.Equal(t, StateAwaitingReply, active.State)

	_, err = s.Submit(context.Background(), "again")
	require.ErrorIs(t, err, ErrBusy)
	require.ErrorIs(t, s.Select(other.ID), ErrBusy)
	require.ErrorIs(t, s.NewConversation(), ErrBusy)

	gw.block <- struct{}{}
	<-gw.entered
	require.Equal(t, StateTitleSynthesis, s.State())
	gw.block <- struct{}{}

	require.NoError(t, <-done)
	require.Equal(t, StateIdle, s.State())
	require.Equal(t, 2, store.Len())
}

func TestSubmitPending(t *testing.T) {
	gw := replies("Hi there!", "Greeting Exchange")
	s, _ := newSession(t, gw)

	s.SetPendingInput("Hello")
	require.Equal(t, "Hello", s.Snapshot().PendingInput)

	_, err := s.SubmitPending(context.Background())
	require.NoError(t, err)
	require.Empty(t, s.Snapshot().PendingInput)
	require.Equal(t, history.UserMessage("Hello"), gw.requests[0][0])
}

func TestSelect(t *testing.T) {
	s, store := newSession(t, &mockGateway{})
	a, err := store.Create([]history.Message{history.UserMessage("a1"), history.AssistantMessage("a2")}, "A")
	require.NoError(t, err)
	b, err := store.Create([]history.Message{history.UserMessage("b1"), history.AssistantMessage("b2")}, "B")
	require.NoError(t, err)

	require.NoError(t, s.Select(a.ID))
	active := s.Snapshot()
	require.Equal(t, a.ID, active.SelectedID)
	require.Equal(t, "A", active.Title)
	require.Equal(t, a.Messages, active.Messages)

	require.NoError(t, s.SelectIndex(0))
	require.Equal(t, b.ID, s.Snapshot().SelectedID)

	require.ErrorIs(t, s.Select("missing"), ErrNotFound)
	require.ErrorIs(t, s.SelectIndex(2), ErrNotFound)
	require.Equal(t, b.ID, s.Snapshot().SelectedID)

	require.NoError(t, s.NewConversation())
	active = s.Snapshot()
	require.Empty(t, active.SelectedID)
	require.Empty(t, active.Title)
	require.Empty(t, active.Messages)
}

func TestCleanTitle(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Greeting Exchange", "Greeting Exchange"},
		{"  Greeting Exchange \n", "Greeting Exchange"},
		{`"Greeting Exchange"`, "Greeting Exchange"},
		{"'Go Generics'", "Go Generics"},
		{"“Smart Quotes”", "Smart Quotes"},
		{"`code`", "code"},
		{`"`, `"`},
		{`""`, untitled},
		{"   ", untitled},
		{`He said "hi"`, `He said "hi"`},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, cleanTitle(tt.in), "input %q", tt.in)
	}
}

func seeded(t *testing.T, titles ...string) (*Session, *history.Store) {
	t.Helper()
	s, store := newSession(t, &mockGateway{})
	for _, title := range titles {
		_, err := store.Create([]history.Message{history.UserMessage("q"), history.AssistantMessage("a")}, title)
		require.NoError(t, err)
	}
	return s, store
}

func titles(store *history.Store) []string {
	var out []string
	for _, c := range store.List() {
		out = append(out, c.Title)
	}
	return out
}

func TestRemoveConversation_WithinWindow(t *testing.T) {
	s, store := seeded(t, "A", "B", "C")

	tok := s.ConfirmDelete(0)
	require.Equal(t, 0, tok.Index())
	require.True(t, s.DeletePending(0))
	require.False(t, s.DeletePending(1))

	removed, err := s.RemoveConversation(0)
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, []string{"A", "B"}, titles(store))
	require.False(t, s.DeletePending(0))

	select {
	case <-tok.Done():
	default:
		t.Fatal("token should be disarmed after confirmation")
	}

	s.ConfirmDelete(1)
	removed, err = s.RemoveConversation(1)
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, []string{"B"}, titles(store))
}

func TestRemoveConversation_WithoutConfirmIsNoop(t *testing.T) {
	s, store := seeded(t, "A", "B")

	removed, err := s.RemoveConversation(0)
	require.NoError(t, err)
	require.False(t, removed)

	s.ConfirmDelete(1)
	removed, err = s.RemoveConversation(0)
	require.NoError(t, err)
	require.False(t, removed)
	require.Equal(t, []string{"A", "B"}, titles(store))
}

func TestConfirmDelete_Expires(t *testing.T) {
	s, store := seeded(t, "A")
	s.deleteWindow = 10 * time.Millisecond

	tok := s.ConfirmDelete(0)
	select {
	case <-tok.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("token did not expire")
	}

	require.Eventually(t, func() bool { return !s.DeletePending(0) }, time.Second, 5*time.Millisecond)
	removed, err := s.RemoveConversation(0)
	require.NoError(t, err)
	require.False(t, removed)
	require.Equal(t, 1, store.Len())
}

func TestConfirmDelete_RearmCancelsPrevious(t *testing.T) {
	s, _ := seeded(t, "A", "B")

	first := s.ConfirmDelete(0)
	second := s.ConfirmDelete(1)

	<-first.Done()
	require.False(t, s.DeletePending(0))
	require.True(t, s.DeletePending(1))

	second.Cancel()
	<-second.Done()
	require.False(t, s.DeletePending(1))

	removed, err := s.RemoveConversation(1)
	require.NoError(t, err)
	require.False(t, removed)

	// a stale token cancelling itself must not disarm a newer one
	third := s.ConfirmDelete(0)
	first.Cancel()
	require.True(t, s.DeletePending(0))
	third.Cancel()
}

func TestRemoveConversation_ClearsActiveSelection(t *testing.T) {
	s, store := seeded(t, "A", "B")
	b := store.List()[1]
	require.NoError(t, s.Select(b.ID))

	s.ConfirmDelete(0)
	removed, err := s.RemoveConversation(0)
	require.NoError(t, err)
	require.True(t, removed)

	active := s.Snapshot()
	require.Empty(t, active.SelectedID)
	require.Empty(t, active.Messages)
	require.Empty(t, active.Title)
}

func TestRemoveConversation_KeepsOtherSelection(t *testing.T) {
	s, store := seeded(t, "A", "B")
	a := store.List()[0]
	require.NoError(t, s.Select(a.ID))

	s.ConfirmDelete(0)
	removed, err := s.RemoveConversation(0)
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, a.ID, s.Snapshot().SelectedID)
}

func TestRemoveConversation_ActiveDuringExchange(t *testing.T) {
	gw := replies("more")
	gw.block = make(chan struct{})
	gw.entered = make(chan struct{}, 1)
	s, store := newSession(t, gw)
	conv, err := store.Create([]history.Message{history.UserMessage("q"), history.AssistantMessage("a")}, "A")
	require.NoError(t, err)
	require.NoError(t, s.Select(conv.ID))

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), "next")
		done <- err
	}()
	<-gw.entered

	tok := s.ConfirmDelete(0)
	removed, err := s.RemoveConversation(0)
	require.ErrorIs(t, err, ErrBusy)
	require.False(t, removed)
	require.True(t, s.DeletePending(0))

	close(gw.block)
	require.NoError(t, <-done)
	tok.Cancel()
	got, _ := store.Get(conv.ID)
	require.Len(t, got.Messages, 4)
}
