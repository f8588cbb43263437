package files

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/claude-collab/backend/internal/model"
)

const (
	// DefaultSynopsisModel is the model asked for file synopses.
	DefaultSynopsisModel = "claude-haiku-4-5-20251001"

	synopsisMaxTokens = 200
	synopsisMaxChars  = 8000
	binarySampleSize  = 512

	// BinarySynopsis is returned for files that look binary.
	BinarySynopsis = "Binary file, no synopsis available."
	// EmptySynopsis is returned when the model answers without text.
	EmptySynopsis = "No synopsis generated."
)

// KeyFunc returns the current API key. Settings can change it at runtime.
type KeyFunc func() string

// Synopsizer summarizes workspace files with the Anthropic Messages API.
type Synopsizer struct {
	tree    *Tree
	apiKey  KeyFunc
	model   string
	options []option.RequestOption
}

// NewSynopsizer creates a Synopsizer. Extra options are passed to every
// request, e.g. option.WithBaseURL.
func NewSynopsizer(tree *Tree, apiKey KeyFunc, opts ...option.RequestOption) *Synopsizer {
	return &Synopsizer{
		tree:    tree,
		apiKey:  apiKey,
		model:   DefaultSynopsisModel,
		options: opts,
	}
}

// Synopsis returns a one or two sentence description of the file at p.
func (s *Synopsizer) Synopsis(ctx context.Context, p string) (string, error) {
	key := s.apiKey()
	if key == "" {
		return "", fmt.Errorf("%w: ANTHROPIC_API_KEY", model.ErrNotConfigured)
	}

	content, err := s.tree.Content(p)
	if err != nil {
		return "", err
	}
	if looksBinary(content) {
		return BinarySynopsis, nil
	}

	text := string(content)
	if runes := []rune(text); len(runes) > synopsisMaxChars {
		text = string(runes[:synopsisMaxChars])
	}
	prompt := fmt.Sprintf("Give a brief 1-2 sentence synopsis of this file. Be specific about what it does, not generic. File: %s\n\n%s", p, text)

	opts := append([]option.RequestOption{option.WithAPIKey(key)}, s.options...)
	client := anthropic.NewClient(opts...)
	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: synopsisMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrUpstream, err)
	}

	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok && strings.TrimSpace(tb.Text) != "" {
			return tb.Text, nil
		}
	}
	return EmptySynopsis, nil
}

// looksBinary reports whether the leading bytes contain control characters
// other than common whitespace.
func looksBinary(data []byte) bool {
	if len(data) > binarySampleSize {
		data = data[:binarySampleSize]
	}
	for _, b := range data {
		if b <= 0x08 || (b >= 0x0E && b <= 0x1F) {
			return true
		}
	}
	return false
}
