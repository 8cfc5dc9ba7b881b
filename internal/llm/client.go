// Package llm wraps the text-generation provider behind a small interface so
// the deliberate reasoning paths (planning, System-2 extraction) can be
// tested with fakes.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"hivemind/internal/config"
	"hivemind/internal/logging"
)

// Client is the text->text contract used by planner and consolidation.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, system, prompt string) (string, error)
}

// GenAIClient talks to the Gemini API.
type GenAIClient struct {
	client     *genai.Client
	model      string
	maxTokens  int
	maxRetries int
}

// NewGenAIClient builds a client from config. The API key must already be
// resolved (config.Load applies the env override).
func NewGenAIClient(ctx context.Context, cfg config.LLMConfig) (*GenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &GenAIClient{
		client:     client,
		model:      model,
		maxTokens:  cfg.MaxTokens,
		maxRetries: maxRetries,
	}, nil
}

// Complete generates a response to a bare prompt.
func (c *GenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem generates a response with a system instruction.
// Transient failures are retried with exponential backoff.
func (c *GenAIClient) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	var genCfg *genai.GenerateContentConfig
	if system != "" || c.maxTokens > 0 {
		genCfg = &genai.GenerateContentConfig{}
		if system != "" {
			genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
		}
		if c.maxTokens > 0 {
			genCfg.MaxOutputTokens = int32(c.maxTokens)
		}
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			logging.LLM("retrying generation (attempt %d/%d) after: %v",
				attempt, c.maxRetries, lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		start := time.Now()
		result, err := c.client.Models.GenerateContent(ctx, c.model, contents, genCfg)
		if err != nil {
			lastErr = err
			if !isTransient(err) {
				return "", fmt.Errorf("generation failed: %w", err)
			}
			continue
		}

		text := result.Text()
		if text == "" {
			lastErr = fmt.Errorf("empty response")
			continue
		}
		logging.LLMDebug("generation ok (model=%s, %.1fs, %d chars)",
			c.model, time.Since(start).Seconds(), len(text))
		return text, nil
	}
	return "", fmt.Errorf("generation failed after %d retries: %w", c.maxRetries, lastErr)
}

// isTransient reports whether an error is worth retrying: rate limits,
// server errors, timeouts.
func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "500", "502", "503", "504",
		"rate limit", "quota", "timeout", "deadline exceeded",
		"connection reset", "temporarily unavailable", "overloaded",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
