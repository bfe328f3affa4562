// Package cleanup rewrites a raw transcription with Claude, using one of a
// fixed set of templates.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/roelfdiedericks/golisten/internal/config"
	. "github.com/roelfdiedericks/golisten/internal/logging"
)

var (
	ErrNoAPIKey        = errors.New("anthropic API key not configured")
	ErrUnknownTemplate = errors.New("unknown cleanup template")
	ErrEmptyResponse   = errors.New("cleanup returned no text")
)

// DefaultTemplate is used when no template is named.
const DefaultTemplate = "clean"

// Template is a named system prompt.
type Template struct {
	Name        string
	Description string
	System      string
}

const outputRule = " Output only the rewritten text, with no preamble or commentary."

var templates = map[string]Template{
	"clean": {
		Name:        "clean",
		Description: "Fix punctuation and drop filler words",
		System: "You clean up dictated text. Fix punctuation, capitalisation and obvious " +
			"transcription errors, and remove filler words and false starts. Keep the " +
			"speaker's wording and meaning." + outputRule,
	},
	"email": {
		Name:        "email",
		Description: "Format as a short professional email",
		System: "You turn dictated text into a concise, professional email body. Keep " +
			"every point the speaker made and do not invent details." + outputRule,
	},
	"notes": {
		Name:        "notes",
		Description: "Summarise as bullet-point notes",
		System: "You turn dictated text into terse bullet-point notes, one idea per " +
			"bullet, using markdown '-' bullets." + outputRule,
	},
	"slack": {
		Name:        "slack",
		Description: "Casual chat message",
		System: "You turn dictated text into a short, friendly chat message suitable " +
			"for Slack. Keep it casual and brief." + outputRule,
	},
}

// Templates returns every template sorted by name.
func Templates() []Template {
	out := make([]Template, 0, len(templates))
	for _, t := range templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetTemplate looks up a template by name; "" means DefaultTemplate.
func GetTemplate(name string) (Template, error) {
	if name == "" {
		name = DefaultTemplate
	}
	t, ok := templates[name]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	return t, nil
}

// LoadAPIKey returns cfg.APIKey, or the first line of cfg.KeyFile.
func LoadAPIKey(cfg config.CleanupConfig) (string, error) {
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		return key, nil
	}
	if cfg.KeyFile == "" {
		return "", ErrNoAPIKey
	}
	data, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w (no %s)", ErrNoAPIKey, cfg.KeyFile)
		}
		return "", fmt.Errorf("cleanup: read key file: %w", err)
	}
	key, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	if key = strings.TrimSpace(key); key == "" {
		return "", fmt.Errorf("%w (%s is empty)", ErrNoAPIKey, cfg.KeyFile)
	}
	return key, nil
}

// Cleaner calls the Messages API.
type Cleaner struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// New creates a Cleaner. Extra options are passed to the API client.
func New(cfg config.CleanupConfig, opts ...option.RequestOption) (*Cleaner, error) {
	key, err := LoadAPIKey(cfg)
	if err != nil {
		return nil, err
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-5"
	}

	opts = append([]option.RequestOption{option.WithAPIKey(key)}, opts...)
	return &Cleaner{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: int64(maxTokens),
	}, nil
}

// Process rewrites text with the named template.
func (c *Cleaner) Process(ctx context.Context, template, text string) (string, error) {
	tmpl, err := GetTemplate(template)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	start := time.Now()
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: tmpl.System}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("cleanup: anthropic API error (HTTP %d): %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("cleanup: %w", err)
	}

	var out strings.Builder
	for _, block := range message.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(tb.Text)
		}
	}
	result := strings.TrimSpace(out.String())
	if result == "" {
		return "", ErrEmptyResponse
	}

	L_elapsed(start, "cleanup: processed",
		"template", tmpl.Name,
		"inputTokens", message.Usage.InputTokens,
		"outputTokens", message.Usage.OutputTokens)
	return result, nil
}
