// Package llmclient calls the local model server's OpenAI-style chat
// completions endpoint. It is a thin net/http wrapper rather than a
// generated SDK: the wire body carries llama.cpp-family sampler fields
// (top_k, min_p, repeat_penalty) that no OpenAI/Gemini client in the
// example pack exposes as typed fields.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"golang.org/x/time/rate"

	"github.com/daydemir/isomoira/internal/logging"
	"github.com/daydemir/isomoira/internal/profile"
)

// TransportFault means the request never reached the server or never came
// back — network failure, timeout, connection refused.
type TransportFault struct{ Err error }

func (e *TransportFault) Error() string { return fmt.Sprintf("transport fault: %v", e.Err) }
func (e *TransportFault) Unwrap() error { return e.Err }

// ProtocolFault means the server answered but the response didn't look
// like a chat completion — bad status code or unparseable body.
type ProtocolFault struct{ Err error }

func (e *ProtocolFault) Error() string { return fmt.Sprintf("protocol fault: %v", e.Err) }
func (e *ProtocolFault) Unwrap() error { return e.Err }

var retryDelays = []time.Duration{2 * time.Second, 8 * time.Second, 32 * time.Second}

const perAttemptTimeout = 300 * time.Second

var thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model         string        `json:"model"`
	Messages      []chatMessage `json:"messages"`
	Temperature   float64       `json:"temperature"`
	TopP          float64       `json:"top_p"`
	TopK          int           `json:"top_k"`
	MinP          float64       `json:"min_p"`
	RepeatPenalty float64       `json:"repeat_penalty"`
	MaxTokens     int           `json:"max_tokens"`
	Stream        bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Client calls the configured model server, one role (planner,
// implementer, or consultant) at a time, each rate-limited independently.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiters   map[string]*rate.Limiter
	log        *logging.Logger
}

// New builds a Client against baseURL. ratePerMinute and burst are not
// used here: each role's token-bucket limiter is created on that role's
// first Call, from the rate and burst passed to that Call.
func New(baseURL string, ratePerMinute, burst int, log *logging.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		limiters:   make(map[string]*rate.Limiter),
		log:        log,
	}
}

func (c *Client) limiterFor(role string, ratePerMinute, burst int) *rate.Limiter {
	if l, ok := c.limiters[role]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(float64(ratePerMinute)/60.0), burst)
	c.limiters[role] = l
	return l
}

// Call sends one blocking chat-completion request and returns the model's
// text content. role selects the rate limiter bucket and, for the
// consultant role, triggers <think>...</think> stripping. profile carries
// the sampling parameters.
func (c *Client) Call(ctx context.Context, modelID, systemText, userText, role string, p profile.Profile, ratePerMinute, burst int) (string, error) {
	limiter := c.limiterFor(role, ratePerMinute, burst)

	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelays[attempt-1]):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		if err := limiter.Wait(ctx); err != nil {
			return "", err
		}

		text, err := c.attempt(ctx, modelID, systemText, userText, p)
		if err == nil {
			if role == profile.Consultant {
				text = thinkBlockRe.ReplaceAllString(text, "")
			}
			return text, nil
		}

		lastErr = err
		if c.log != nil {
			c.log.Warn("model call attempt %d failed: %v", attempt+1, err)
		}

		var protoErr *ProtocolFault
		if errors.As(err, &protoErr) {
			// A malformed response won't be fixed by retrying.
			return "", err
		}
	}

	return "", lastErr
}

func (c *Client) attempt(ctx context.Context, modelID, systemText, userText string, p profile.Profile) (string, error) {
	inTokens := EstimateTokens(systemText) + EstimateTokens(userText)
	if c.log != nil {
		c.log.Info("-> calling %s (%d est. tokens in)", modelID, inTokens)
	}

	body := chatRequest{
		Model: modelID,
		Messages: []chatMessage{
			{Role: "system", Content: systemText},
			{Role: "user", Content: userText},
		},
		Temperature:   p.Temperature,
		TopP:          p.TopP,
		TopK:          p.TopK,
		MinP:          p.MinP,
		RepeatPenalty: p.RepeatPenalty,
		MaxTokens:     p.MaxOutputTokens,
		Stream:        false,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", &ProtocolFault{Err: err}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", &ProtocolFault{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransportFault{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportFault{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &ProtocolFault{Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &ProtocolFault{Err: err}
	}
	if len(parsed.Choices) == 0 {
		return "", &ProtocolFault{Err: errors.New("no choices in response")}
	}

	content := parsed.Choices[0].Message.Content
	if c.log != nil {
		c.log.Info("<- got %d est. tokens back", EstimateTokens(content))
	}
	return content, nil
}

// EstimateTokens is a rough token count, ⌊chars/3⌋ per the orchestrator's
// budget accounting (stricter than the common chars/4 rule of thumb).
func EstimateTokens(text string) int {
	return len(text) / 3
}
