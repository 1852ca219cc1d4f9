package session

import (
	"context"
	"strings"

	"github.com/comigor/lana-go/internal/history"
)

// TitlePrompt is appended to the first exchange to have the model name the conversation.
const TitlePrompt = "What would be a short and relevant title for this conversation? You must strictly answer with only the title, no other text is allowed."

// untitled is used when the model answers with nothing but quotes or whitespace.
const untitled = "New conversation"

// TitleError reports that the reply arrived but naming the new conversation
// failed, so it was not stored.
type TitleError struct {
	Err error
}

func (e *TitleError) Error() string {
	return "generate conversation title: " + e.Err.Error()
}

func (e *TitleError) Unwrap() error { return e.Err }

func (s *Session) synthesizeTitle(ctx context.Context, exchange []history.Message) (string, error) {
	req := make([]history.Message, 0, len(exchange)+1)
	req = append(req, exchange...)
	req = append(req, history.UserMessage(TitlePrompt))

	msg, err := s.gateway.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return cleanTitle(msg.Content), nil
}

// cleanTitle strips whitespace and one layer of wrapping quotes, which models
// often add despite the instruction.
func cleanTitle(raw string) string {
	t := strings.TrimSpace(raw)
	for _, q := range []string{`"`, `'`, "`", "“"} {
		closing := q
		if q == "“" {
			closing = "”"
		}
		if len(t) >= len(q)+len(closing) && strings.HasPrefix(t, q) && strings.HasSuffix(t, closing) {
			t = strings.TrimSpace(t[len(q) : len(t)-len(closing)])
			break
		}
	}
	if t == "" {
		return untitled
	}
	return t
}
