// Package gateway forwards a conversation to the completion API and turns the
// first choice into an assistant message.
package gateway

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/lana-go/internal/history"
	"github.com/comigor/lana-go/internal/llm"
	"github.com/comigor/lana-go/internal/logger"
)

// Gateway completes a conversation with exactly one assistant message, or fails.
type Gateway interface {
	Complete(ctx context.Context, messages []history.Message) (history.Message, error)
}

// ErrNoMessages is returned when Complete is called with an empty conversation.
var ErrNoMessages = errors.New("no messages to complete")

// Failure is any error talking to the completion API: transport, status or
// response shape. It is never retried.
type Failure struct {
	Op  string
	Err error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("completion gateway: %s: %v", f.Op, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// IsFailure reports whether err is, or wraps, a *Failure.
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}

func validate(messages []history.Message) error {
	if len(messages) == 0 {
		return ErrNoMessages
	}
	return history.Validate(messages)
}

// ToOpenAI converts history messages into chat completion messages.
func ToOpenAI(messages []history.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

// FromOpenAI converts chat completion messages, rejecting roles outside {user, assistant}.
func FromOpenAI(messages []openai.ChatCompletionMessage) ([]history.Message, error) {
	out := make([]history.Message, len(messages))
	for i, m := range messages {
		out[i] = history.Message{Role: history.Role(m.Role), Content: m.Content}
	}
	if err := history.Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

func firstChoice(resp openai.ChatCompletionResponse) (history.Message, error) {
	if len(resp.Choices) == 0 {
		return history.Message{}, &Failure{Op: "decode response", Err: errors.New("response has no choices")}
	}
	return history.AssistantMessage(resp.Choices[0].Message.Content), nil
}

// Direct calls the completion API itself through an llm.Client. The credential
// lives in the client's configuration and never leaves it.
type Direct struct {
	client llm.Client
	model  string
}

// NewDirect creates a gateway calling client with the given model.
func NewDirect(client llm.Client, model string) *Direct {
	return &Direct{client: client, model: model}
}

func (d *Direct) Complete(ctx context.Context, messages []history.Message) (history.Message, error) {
	if err := validate(messages); err != nil {
		return history.Message{}, err
	}

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    d.model,
		Messages: ToOpenAI(messages),
	})
	if err != nil {
		logger.L.Error().Err(err).Msg("LLM call failed")
		return history.Message{}, &Failure{Op: "create chat completion", Err: err}
	}
	logger.L.Debug().Int("choices", len(resp.Choices)).Str("model", resp.Model).Msg("LLM response received")

	return firstChoice(resp)
}
