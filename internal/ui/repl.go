package ui

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/pkg/errors"

	"github.com/comigor/lana-go/internal/logger"
	"github.com/comigor/lana-go/internal/session"
)

const helpText = `Commands:
  /list        show conversations, newest first
  /open N      open conversation N
  /new         start a new conversation
  /delete N    arm deletion of conversation N; repeat within 5s to confirm
  /show        print the current conversation again
  /help        show this help
  /quit        exit`

// REPL drives a Session from typed lines.
type REPL struct {
	session  *session.Session
	renderer *Renderer
}

// NewREPL creates a REPL over s printing through r.
func NewREPL(s *session.Session, r *Renderer) *REPL {
	return &REPL{session: s, renderer: r}
}

// Handle processes one input line. It returns false when the user asked to quit.
func (r *REPL) Handle(ctx context.Context, input string) bool {
	input = strings.TrimSpace(input)
	if input == "" {
		return true
	}
	if !strings.HasPrefix(input, "/") {
		r.submit(ctx, input)
		return true
	}

	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/quit", "/exit":
		return false
	case "/help":
		r.renderer.Info(helpText)
	case "/list":
		active := r.session.Snapshot()
		r.renderer.List(r.session.Conversations(), active.SelectedID, r.session.DeletePending)
	case "/new":
		if err := r.session.NewConversation(); err != nil {
			r.renderer.Error(err)
			return true
		}
		r.renderer.Greeting()
	case "/show":
		active := r.session.Snapshot()
		r.renderer.Conversation(active.Title, active.Messages)
	case "/open":
		idx, err := indexArg(cmd, args)
		if err != nil {
			r.renderer.Error(err)
			return true
		}
		if err := r.session.SelectIndex(idx); err != nil {
			r.renderer.Error(err)
			return true
		}
		active := r.session.Snapshot()
		r.renderer.Conversation(active.Title, active.Messages)
	case "/delete":
		idx, err := indexArg(cmd, args)
		if err != nil {
			r.renderer.Error(err)
			return true
		}
		r.delete(idx)
	default:
		r.renderer.Error(errors.Errorf("unknown command %s; try /help", cmd))
	}
	return true
}

func (r *REPL) submit(ctx context.Context, text string) {
	r.session.SetPendingInput(text)
	r.renderer.Typing()

	reply, err := r.session.SubmitPending(ctx)
	var titleErr *session.TitleError
	switch {
	case err == nil:
		r.renderer.Message(reply)
		if active := r.session.Snapshot(); len(active.Messages) == 2 {
			r.renderer.Title(active.Title)
		}
	case errors.As(err, &titleErr):
		r.renderer.Message(reply)
		r.renderer.Error(err)
	default:
		r.renderer.Error(err)
	}
}

func (r *REPL) delete(idx int) {
	if r.session.DeletePending(idx) {
		removed, err := r.session.RemoveConversation(idx)
		if err != nil {
			r.renderer.Error(err)
			return
		}
		if removed {
			r.renderer.Info("Conversation " + strconv.Itoa(idx) + " deleted.")
			return
		}
	}
	if idx < 0 || idx >= len(r.session.Conversations()) {
		r.renderer.Error(errors.Wrapf(session.ErrNotFound, "index %d", idx))
		return
	}
	r.session.ConfirmDelete(idx)
	r.renderer.Info("Run /delete " + strconv.Itoa(idx) + " again within 5s to confirm.")
}

func indexArg(cmd string, args []string) (int, error) {
	if len(args) != 1 {
		return 0, errors.Errorf("usage: %s N", cmd)
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, errors.Errorf("usage: %s N (N is a number from /list)", cmd)
	}
	return idx, nil
}

// Run reads lines until /quit, EOF or Ctrl+C at the prompt. Ctrl+C while a
// reply is pending cancels that request only.
func (r *REPL) Run(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyFile := inputHistoryPath()
	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer saveInputHistory(line, historyFile)

	active := r.session.Snapshot()
	r.renderer.Conversation(active.Title, active.Messages)

	for {
		input, err := line.Prompt(r.renderer.Prompt())
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read input")
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}

		reqCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		more := r.Handle(reqCtx, input)
		stop()
		if !more || ctx.Err() != nil {
			return nil
		}
	}
}

func inputHistoryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "lana", "input_history")
}

func saveInputHistory(line *liner.State, path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		logger.L.Debug().Err(err).Msg("cannot save input history")
		return
	}
	defer f.Close()
	_, _ = line.WriteHistory(f)
}
