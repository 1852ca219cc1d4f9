package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/lana-go/internal/history"
	"github.com/comigor/lana-go/internal/logger"
)

// ChatPath is the proxy endpoint accepting a message list.
const ChatPath = "/api/chat"

// ChatRequest is the body accepted by the proxy.
type ChatRequest struct {
	Messages []history.Message `json:"messages"`
}

// HTTP calls a gateway proxy over HTTP. It holds no credential; the proxy adds it.
type HTTP struct {
	baseURL string
	client  *http.Client
}

// NewHTTP creates a gateway posting to baseURL + ChatPath.
func NewHTTP(baseURL string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTP{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (h *HTTP) Complete(ctx context.Context, messages []history.Message) (history.Message, error) {
	if err := validate(messages); err != nil {
		return history.Message{}, err
	}

	body, err := json.Marshal(ChatRequest{Messages: messages})
	if err != nil {
		return history.Message{}, errors.Wrap(err, "encode chat request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+ChatPath, bytes.NewReader(body))
	if err != nil {
		return history.Message{}, &Failure{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return history.Message{}, &Failure{Op: "post " + ChatPath, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return history.Message{}, &Failure{Op: "read response", Err: err}
	}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	_ = json.Unmarshal(raw, &envelope)
	if resp.StatusCode != http.StatusOK || hasError(envelope.Error) {
		logger.L.Warn().Int("status", resp.StatusCode).Msg("gateway proxy returned an error")
		return history.Message{}, &Failure{
			Op:  "post " + ChatPath,
			Err: errors.Errorf("status %d: %s", resp.StatusCode, errorText(envelope.Error)),
		}
	}

	var completion openai.ChatCompletionResponse
	if err := json.Unmarshal(raw, &completion); err != nil {
		return history.Message{}, &Failure{Op: "decode response", Err: err}
	}
	return firstChoice(completion)
}

func hasError(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}

// errorText flattens the proxy error field, which is a string or an upstream
// error object with a message.
func errorText(raw json.RawMessage) string {
	if !hasError(raw) {
		return "no error detail"
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}
