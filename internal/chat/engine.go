// Package chat runs grounded chat turns against the configured model.
// Every turn rebuilds the system instruction from the session's leaflet
// text, so the model can only answer from the leaflet in effect when the
// turn started.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/aluque/prospecto/internal/log"
	"github.com/aluque/prospecto/internal/session"
)

// Sentinel errors for turn execution.
var (
	ErrEngineConfigNil = errors.New("chat: config is nil")
	ErrGenkitNil       = errors.New("chat: genkit instance is required")
	ErrLoggerNil       = errors.New("chat: logger is required")
	ErrModelNameEmpty  = errors.New("chat: model name is required")
	ErrEmptyResponse   = errors.New("chat: model returned an empty response")
	ErrTurnFailed      = errors.New("chat: turn failed")
)

const systemPromptHeader = "Eres un farmacéutico experto y amable. " +
	"Responde a las preguntas basándote EXCLUSIVAMENTE en el prospecto " +
	"proporcionado a continuación. Si la información no está en el texto, " +
	"indícalo. Mantén el contexto de la conversación."

// Config holds the dependencies and tuning parameters of the turn engine.
type Config struct {
	Genkit        *genkit.Genkit
	Logger        log.Logger
	ModelName     string
	Temperature   float32
	HistoryWindow int           // messages sent to the model per turn
	TurnTimeout   time.Duration // wall-clock budget for one turn
	Retry         RetryConfig
	RateLimiter   *rate.Limiter // optional, applied per attempt
}

func (c *Config) validate() error {
	if c == nil {
		return ErrEngineConfigNil
	}
	if c.Genkit == nil {
		return ErrGenkitNil
	}
	if c.Logger == nil {
		return ErrLoggerNil
	}
	if c.ModelName == "" {
		return ErrModelNameEmpty
	}
	return nil
}

// Engine produces one assistant reply per call. It implements
// session.TurnEngine.
type Engine struct {
	g           *genkit.Genkit
	logger      log.Logger
	modelName   string
	temperature float32
	window      int
	timeout     time.Duration
	retry       RetryConfig
	limiter     *rate.Limiter
}

// New creates a turn engine. Zero HistoryWindow and TurnTimeout fall back
// to 10 messages and one minute.
func New(cfg *Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	window := cfg.HistoryWindow
	if window <= 0 {
		window = 10
	}
	timeout := cfg.TurnTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.InitialInterval == 0 {
		retry = DefaultRetryConfig()
	}

	return &Engine{
		g:           cfg.Genkit,
		logger:      cfg.Logger,
		modelName:   cfg.ModelName,
		temperature: cfg.Temperature,
		window:      window,
		timeout:     timeout,
		retry:       retry,
		limiter:     cfg.RateLimiter,
	}, nil
}

// RunTurn generates one reply grounded in leaflet. history must end with
// the pending user message; only the trailing window of it is sent to the
// model. Fragments are forwarded to cb in arrival order and the complete
// reply is returned once the stream ends.
func (e *Engine) RunTurn(ctx context.Context, leaflet string, history []session.Message, cb session.StreamCallback) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	messages := toModelMessages(windowTail(history, e.window))

	opts := []ai.GenerateOption{
		ai.WithModelName(e.modelName),
		ai.WithSystem(systemPrompt(leaflet)),
		ai.WithMessages(messages...),
		ai.WithConfig(&genai.GenerateContentConfig{
			Temperature: genai.Ptr(e.temperature),
		}),
	}

	// streamed flips once the first fragment reaches the caller; from that
	// point a failed attempt must not be retried, or the caller would see
	// the opening fragments twice.
	var streamed bool
	if cb != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			text := chunk.Text()
			if text == "" {
				return nil
			}
			streamed = true
			return cb(ctx, text)
		}))
	}

	resp, err := e.generateWithRetry(ctx, opts, &streamed)
	if err != nil {
		e.logger.Error("chat turn failed",
			"model", e.modelName,
			"elapsed", time.Since(start),
			"error", err,
		)
		return "", fmt.Errorf("%w: %w", ErrTurnFailed, err)
	}

	reply := resp.Text()
	if reply == "" {
		return "", ErrEmptyResponse
	}

	e.logger.Debug("chat turn completed",
		"model", e.modelName,
		"messages", len(messages),
		"elapsed", time.Since(start),
	)
	return reply, nil
}

// systemPrompt embeds the leaflet text verbatim below the instruction.
func systemPrompt(leaflet string) string {
	return systemPromptHeader + "\n\n--- PROSPECTO OFICIAL ---\n" + leaflet
}

// windowTail returns the last n messages of history.
func windowTail(history []session.Message, n int) []session.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func toModelMessages(history []session.Message) []*ai.Message {
	messages := make([]*ai.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case session.RoleAssistant:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(m.Content)))
		default:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		}
	}
	return messages
}
