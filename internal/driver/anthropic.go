package driver

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/google/uuid"

	"github.com/claude-collab/backend/internal/model"
)

const (
	// DefaultAnthropicModel is used when no model is configured.
	DefaultAnthropicModel = "claude-sonnet-4-5"

	defaultMaxTokens = 4096
)

// AnthropicConfig holds configuration for the Messages API driver.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
	System    string

	// BaseURL overrides the API endpoint, for proxies and tests.
	BaseURL string
}

// AnthropicDriver streams plain chat turns from the Anthropic Messages API.
// It has no tools; conversation history is kept in memory per session token
// so Options.Resume continues a conversation for the life of the process.
type AnthropicDriver struct {
	client anthropic.Client
	config AnthropicConfig

	mu        sync.Mutex
	histories map[string][]anthropic.MessageParam
}

// NewAnthropicDriver creates a new AnthropicDriver instance.
func NewAnthropicDriver(config AnthropicConfig) *AnthropicDriver {
	if config.Model == "" {
		config.Model = DefaultAnthropicModel
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = defaultMaxTokens
	}
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	return &AnthropicDriver{
		client:    anthropic.NewClient(opts...),
		config:    config,
		histories: make(map[string][]anthropic.MessageParam),
	}
}

// Name returns the name of the driver.
func (d *AnthropicDriver) Name() string {
	return "anthropic"
}

// Invoke starts a streaming Messages API request.
func (d *AnthropicDriver) Invoke(ctx context.Context, prompt string, opts Options) (Stream, error) {
	if d.config.APIKey == "" {
		return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY is not set", model.ErrAgentUnavailable)
	}

	token := opts.Resume
	d.mu.Lock()
	history, ok := d.histories[token]
	d.mu.Unlock()
	if !ok {
		token = uuid.NewString()
	}

	user := anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))
	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, user)

	modelName := d.config.Model
	if opts.Model != "" {
		modelName = opts.Model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: d.config.MaxTokens,
		Messages:  messages,
	}
	if d.config.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: d.config.System}}
	}

	return &anthropicStream{
		driver:   d,
		stream:   d.client.Messages.NewStreaming(ctx, params),
		token:    token,
		model:    modelName,
		messages: messages,
		started:  time.Now(),
	}, nil
}

// remember stores the finished exchange under token.
func (d *AnthropicDriver) remember(token string, messages []anthropic.MessageParam) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.histories[token] = messages
}

type anthropicStream struct {
	driver   *AnthropicDriver
	stream   *ssestream.Stream[anthropic.MessageStreamEventUnion]
	token    string
	model    string
	messages []anthropic.MessageParam
	started  time.Time

	message   anthropic.Message
	announced bool
	finished  bool
	closeOnce sync.Once
}

func (s *anthropicStream) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}

	if !s.announced {
		s.announced = true
		return Event{Kind: EventSystem, SessionID: s.token, Model: s.model}, nil
	}
	if s.finished {
		return Event{}, io.EOF
	}

	for s.stream.Next() {
		event := s.stream.Current()
		if err := s.message.Accumulate(event); err != nil {
			return Event{}, fmt.Errorf("failed to accumulate stream event: %w", err)
		}

		if e, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := e.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				return Event{Kind: EventText, Text: delta.Text, SessionID: s.token}, nil
			}
		}
	}

	if err := s.stream.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Event{}, ctxErr
		}
		return Event{}, fmt.Errorf("anthropic stream failed: %w", err)
	}

	s.finished = true
	s.driver.remember(s.token, append(s.messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(s.text()))))

	duration := time.Since(s.started).Milliseconds()
	turns := 1
	return Event{
		Kind:      EventResult,
		SessionID: s.token,
		Result: &Result{
			Subtype:    "success",
			DurationMS: &duration,
			NumTurns:   &turns,
			Text:       s.text(),
		},
	}, nil
}

// text returns the accumulated assistant text.
func (s *anthropicStream) text() string {
	var sb strings.Builder
	for _, block := range s.message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}

func (s *anthropicStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.stream.Close()
	})
	return err
}
