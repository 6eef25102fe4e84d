package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"eco-counselor/internal/config"
)

const defaultTimeout = 30 * time.Second

var (
	// ErrEmptyCompletion is returned when the model answers with no text.
	ErrEmptyCompletion = errors.New("completion service returned no content")
	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("completion service unavailable")
)

// Client calls a hosted chat-completion model with a fixed model id and
// temperature. Every call is bounded by a timeout and guarded by a circuit
// breaker.
type Client struct {
	llm         llms.Model
	modelID     string
	temperature float64
	timeout     time.Duration
	breaker     *gobreaker.CircuitBreaker
}

// New creates a client for an OpenAI-compatible endpoint (Groq by default).
func New(llmConfig *config.LLMConfig) (*Client, error) {
	if strings.TrimSpace(llmConfig.Key) == "" {
		return nil, errors.New("completion API key is required")
	}
	log.Debug().Str("base_url", llmConfig.BaseURL).Str("model", llmConfig.Model).Msg("Creating completion client")
	llm, err := openai.New(
		openai.WithBaseURL(llmConfig.BaseURL),
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithModel(llmConfig.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion client: %w", err)
	}
	return NewWithModel(llm, llmConfig), nil
}

// NewWithModel wraps an existing langchaingo model.
func NewWithModel(llm llms.Model, llmConfig *config.LLMConfig) *Client {
	timeout := llmConfig.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "completion:" + llmConfig.Model,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// caller cancellation is not a service failure; the per-call
		// timeout (DeadlineExceeded) is
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})
	return &Client{
		llm:         llm,
		modelID:     llmConfig.Model,
		temperature: llmConfig.Temperature,
		timeout:     timeout,
		breaker:     breaker,
	}
}

func (c *Client) ModelID() string {
	return c.modelID
}

// GenerateContent sends messages to the model and returns the first choice verbatim.
func (c *Client) GenerateContent(ctx context.Context, messages []llms.MessageContent) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.llm.GenerateContent(ctx, messages,
			llms.WithModel(c.modelID),
			llms.WithTemperature(c.temperature),
		)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
			return nil, ErrEmptyCompletion
		}
		return resp.Choices[0].Content, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("completion timed out after %s: %w", c.timeout, err)
		}
		return "", fmt.Errorf("completion failed: %w", err)
	}

	log.Debug().Str("model", c.modelID).Dur("latency", time.Since(start)).Msg("Completion received")
	return out.(string), nil
}
