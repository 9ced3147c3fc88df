// handlers.go
package main

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// hangLimit bounds the "timeout" failure so an abandoned request does not linger forever.
const hangLimit = 60 * time.Second

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// mockRequest accepts both the chat-completions and the Ollama request shapes.
type mockRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Prompt   string        `json:"prompt"`
}

func (r mockRequest) userText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return r.Prompt
}

// wireShape selects the response envelope of an endpoint.
type wireShape int

const (
	shapeCompletions wireShape = iota
	shapeOllamaChat
	shapeOllamaGenerate
)

func newRouter(cfg *Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// Chat completions endpoint (OpenAI-compatible and aggregator style)
	r.POST("/v1/chat/completions", mockHandler(cfg, shapeCompletions))
	r.POST("/api/v1/chat/completions", mockHandler(cfg, shapeCompletions))
	// Ollama-style endpoints
	r.POST("/api/chat", mockHandler(cfg, shapeOllamaChat))
	r.POST("/api/generate", mockHandler(cfg, shapeOllamaGenerate))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	return r
}

func mockHandler(cfg *Config, shape wireShape) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req mockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeFailure(c, shape, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		b := cfg.behaviorFor(c, req.Model)

		log.WithFields(log.Fields{
			"model": req.Model,
			"delay": b.DelayMS,
			"fail":  b.Fail,
			"path":  c.FullPath(),
		}).Info("Received request")

		if !wait(c, b.delay()) {
			return
		}
		if b.Fail != "" && b.Fail != "empty" {
			handleFailure(c, shape, b.Fail)
			return
		}

		reply := b.Reply
		if b.Fail == "empty" {
			reply = ""
		} else if reply == "" {
			reply = fmt.Sprintf("[%s] You said: %s", req.Model, req.userText())
		}
		writeReply(c, shape, req, reply)
	}
}

// wait sleeps for d unless the client goes away first.
func wait(c *gin.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-c.Request.Context().Done():
		log.Warn("Client went away during delay")
		return false
	}
}

func handleFailure(c *gin.Context, shape wireShape, failType string) {
	log.Warnf("Simulating failure: %s", failType)

	switch failType {
	case "429":
		writeFailure(c, shape, http.StatusTooManyRequests, "Rate limit exceeded. Please retry after some time.")
	case "500":
		writeFailure(c, shape, http.StatusInternalServerError, "Internal server error")
	case "502":
		writeFailure(c, shape, http.StatusBadGateway, "Bad gateway")
	case "503":
		writeFailure(c, shape, http.StatusServiceUnavailable, "Service temporarily unavailable")
	case "timeout":
		log.Info("Simulating timeout")
		if wait(c, hangLimit) {
			writeFailure(c, shape, http.StatusGatewayTimeout, "Gateway timeout")
		}
	default:
		code, err := strconv.Atoi(failType)
		if err == nil && code >= 400 && code < 600 {
			writeFailure(c, shape, code, fmt.Sprintf("Simulated error %d", code))
			return
		}
		writeFailure(c, shape, http.StatusInternalServerError, "Unknown failure type")
	}
}

func writeFailure(c *gin.Context, shape wireShape, status int, message string) {
	if shape == shapeCompletions {
		c.JSON(status, gin.H{
			"error": gin.H{
				"message": message,
				"type":    "simulated_error",
				"code":    status,
			},
		})
		return
	}
	c.JSON(status, gin.H{"error": message})
}

func writeReply(c *gin.Context, shape wireShape, req mockRequest, reply string) {
	promptTokens := len(strings.Fields(req.userText()))
	completionTokens := len(strings.Fields(reply))

	switch shape {
	case shapeOllamaChat:
		c.JSON(http.StatusOK, gin.H{
			"model":             req.Model,
			"message":           gin.H{"role": "assistant", "content": reply},
			"done":              true,
			"prompt_eval_count": promptTokens,
			"eval_count":        completionTokens,
		})
	case shapeOllamaGenerate:
		c.JSON(http.StatusOK, gin.H{
			"model":             req.Model,
			"response":          reply,
			"done":              true,
			"prompt_eval_count": promptTokens,
			"eval_count":        completionTokens,
		})
	default:
		choices := []gin.H{}
		if reply != "" {
			choices = append(choices, gin.H{
				"index":         0,
				"message":       gin.H{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"id":      "chatcmpl-" + uuid.NewString(),
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   req.Model,
			"choices": choices,
			"usage": gin.H{
				"prompt_tokens":     promptTokens,
				"completion_tokens": completionTokens,
				"total_tokens":      promptTokens + completionTokens,
			},
		})
	}
}
