package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mwiater/chorus/internal/catalog"
	"github.com/mwiater/chorus/internal/dispatch"
	"github.com/mwiater/chorus/internal/logging"
	"github.com/mwiater/chorus/internal/providers"
)

const (
	msgMissingFields = "Message and models are required"
	msgMissingKey    = "OpenRouter API key not configured"
)

// ChatRequest is the body accepted by the chat endpoints.
type ChatRequest struct {
	Message     string   `json:"message" binding:"required"`
	Models      []string `json:"models" binding:"required,min=1,dive,required"`
	MaxTokens   int      `json:"maxTokens" binding:"omitempty,min=1"`
	Temperature *float64 `json:"temperature" binding:"omitempty,min=0,max=2"`
}

// ModelResponse is the wire form of one model's result.
type ModelResponse struct {
	Model     string           `json:"model"`
	Content   string           `json:"content"`
	Usage     *providers.Usage `json:"usage,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorKind string           `json:"errorKind,omitempty"`
}

// ChatResponse is the body returned by the batch endpoint.
type ChatResponse struct {
	Responses []ModelResponse `json:"responses"`
	Timestamp time.Time       `json:"timestamp"`
}

// StreamEvent is the payload of each "result" event on the stream endpoint.
type StreamEvent struct {
	Slot int `json:"slot"`
	ModelResponse
}

// NewModelResponse converts a Result into its wire form.
func NewModelResponse(res providers.Result) ModelResponse {
	if res.OK() {
		return ModelResponse{Model: res.Model, Content: res.Content, Usage: res.Usage}
	}
	return ModelResponse{Model: res.Model, Error: res.ErrorMessage, ErrorKind: res.ErrorKind.String()}
}

// NewChatResponse converts a settled round into the batch response body.
func NewChatResponse(round *dispatch.Round) ChatResponse {
	out := ChatResponse{Responses: make([]ModelResponse, 0, len(round.Entries)), Timestamp: time.Now().UTC()}
	for _, res := range round.Results() {
		out.Responses = append(out.Responses, NewModelResponse(res))
	}
	return out
}

// prepare binds and checks a chat request. It writes the error response and returns false
// when the request cannot be dispatched.
func (s *Server) prepare(c *gin.Context) (dispatch.QueryRequest, *catalog.ConfigResolver, bool) {
	requestID := c.GetString(requestIDKey)

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logging.WithFields(logging.Fields{
			"request_id": requestID,
			"error":      err.Error(),
			"event":      "validation_failed",
		}).Warn("Request validation failed")

		msg := msgMissingFields
		if strings.TrimSpace(req.Message) != "" && len(req.Models) > 0 {
			msg = "Invalid request: " + err.Error()
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return dispatch.QueryRequest{}, nil, false
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgMissingFields})
		return dispatch.QueryRequest{}, nil, false
	}

	resolver := catalog.NewResolver(s.cfg)
	if resolver.HasHostedModels(req.Models) && !resolver.HostedCredentialConfigured() {
		logging.WithFields(logging.Fields{
			"request_id": requestID,
			"event":      "missing_credential",
		}).Error("Hosted models requested without an API key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgMissingKey})
		return dispatch.QueryRequest{}, nil, false
	}

	q := dispatch.QueryRequest{
		Message:     req.Message,
		ModelIDs:    req.Models,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	return q, resolver, true
}

// Chat handles POST /api/chat.
func (s *Server) Chat(c *gin.Context) {
	q, resolver, ok := s.prepare(c)
	if !ok {
		return
	}
	requestID := c.GetString(requestIDKey)

	round, err := s.dispatcher.Batch(c.Request.Context(), resolver, q)
	if err != nil {
		logging.WithFields(logging.Fields{
			"request_id": requestID,
			"error":      err.Error(),
			"event":      "dispatch_error",
		}).Error("Dispatch failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "details": err.Error()})
		return
	}

	logging.WithFields(logging.Fields{
		"request_id": requestID,
		"round":      round.ID,
		"models":     len(round.Entries),
		"failures":   len(round.Failures()),
		"latency_ms": round.Elapsed().Milliseconds(),
		"event":      "success",
	}).Info("Round settled")

	c.JSON(http.StatusOK, NewChatResponse(round))
}

// ChatStream handles POST /api/chat/stream. It emits one "result" event per model as it
// settles and a final "done" event carrying the whole round.
func (s *Server) ChatStream(c *gin.Context) {
	q, resolver, ok := s.prepare(c)
	if !ok {
		return
	}
	requestID := c.GetString(requestIDKey)

	updates := make(chan dispatch.Update, len(q.ModelIDs))
	h, err := s.dispatcher.Incremental(c.Request.Context(), resolver, q, func(u dispatch.Update) {
		updates <- u
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "details": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	received := 0
	c.Stream(func(w io.Writer) bool {
		if received == len(q.ModelIDs) {
			c.SSEvent("done", NewChatResponse(h.Round()))
			return false
		}
		select {
		case u := <-updates:
			received++
			c.SSEvent("result", StreamEvent{Slot: u.Slot, ModelResponse: NewModelResponse(u.Result)})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})

	logging.WithFields(logging.Fields{
		"request_id": requestID,
		"round":      h.ID(),
		"delivered":  received,
		"event":      "stream_complete",
	}).Info("Streaming complete")
}

// Models handles GET /api/models.
func (s *Server) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": catalog.Entries(s.cfg)})
}

// Metrics handles GET /api/metrics.
func (s *Server) Metrics(c *gin.Context) {
	if s.aggregator == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics are disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": s.aggregator.Snapshot()})
}

// Health handles GET /health.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
