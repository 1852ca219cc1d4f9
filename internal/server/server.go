// Package server is the gateway proxy: it accepts a message list, attaches the
// upstream credential and returns the completion response.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/comigor/lana-go/internal/config"
	"github.com/comigor/lana-go/internal/gateway"
	"github.com/comigor/lana-go/internal/history"
	"github.com/comigor/lana-go/internal/llm"
	"github.com/comigor/lana-go/internal/logger"
)

// maxBodyBytes bounds the accepted request body.
const maxBodyBytes = 4 << 20

// Server forwards /api/chat requests to the completion API.
type Server struct {
	llmClient llm.Client
	model     string
	addr      string
	limiter   *rate.Limiter
}

// New creates a proxy calling llmClient. A missing credential is only warned
// about: each call will then fail upstream.
func New(llmClient llm.Client, cfg config.Config) *Server {
	if cfg.LLM.APIKey == "" {
		logger.L.Warn().Msg("OPENAI_API_KEY is not set; completion requests will be rejected upstream")
	}
	s := &Server{
		llmClient: llmClient,
		model:     cfg.LLM.Model,
		addr:      net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
	}
	if cfg.Server.RateLimit > 0 {
		burst := cfg.Server.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), burst)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(gateway.ChatPath, s.handleChat)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req gateway.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		logger.L.Warn().Err(err).Msg("read body error")
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, gateway.ErrNoMessages.Error())
		return
	}
	if err := history.Validate(req.Messages); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger.L.Info().Int("messages", len(req.Messages)).Msg("completion request")

	resp, err := s.llmClient.CreateChatCompletion(r.Context(), openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: gateway.ToOpenAI(req.Messages),
	})
	if err != nil {
		logger.L.Error().Err(err).Msg("upstream completion failed")
		writeError(w, http.StatusInternalServerError, upstreamMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// upstreamMessage exposes the API's own error text, which never carries the
// request credential, and hides transport details.
func upstreamMessage(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return "upstream completion request failed"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Error().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L.Info().Str("address", s.addr).Msg("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.L.Info().Msg("shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}
