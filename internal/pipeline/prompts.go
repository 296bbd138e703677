package pipeline

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"chatflow_backend/internal/conversations/domain"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// PromptPair is a system instruction plus a prompt template.
type PromptPair struct {
	System string `yaml:"system"`
	Prompt string `yaml:"prompt"`
}

type ResponsePrompts struct {
	Default   string            `yaml:"default"`
	Templates map[string]string `yaml:"templates"`
}

type FallbackPrompts struct {
	System string `yaml:"system"`
	Prompt string `yaml:"prompt"`
	Static string `yaml:"static"`
}

// Prompts holds every tunable text the pipeline uses.
type Prompts struct {
	System           string          `yaml:"system"`
	Intent           PromptPair      `yaml:"intent"`
	Urgency          PromptPair      `yaml:"urgency"`
	Response         ResponsePrompts `yaml:"response"`
	Fallback         FallbackPrompts `yaml:"fallback"`
	ScoreDeltas      map[string]int  `yaml:"score_deltas"`
	UrgencyKeywords  []string        `yaml:"urgency_keywords"`
	ConfusionMarkers []string        `yaml:"confusion_markers"`
	Reengagement     string          `yaml:"reengagement"`
}

// DefaultPrompts returns the embedded defaults.
func DefaultPrompts() *Prompts {
	var p Prompts
	if err := yaml.Unmarshal(defaultPromptsYAML, &p); err != nil {
		panic(fmt.Sprintf("embedded prompts.yaml is invalid: %v", err))
	}
	return &p
}

// LoadPrompts reads the embedded defaults and overlays path when set. Keys
// present in the override replace the default, maps merge per key.
func LoadPrompts(path string) (*Prompts, error) {
	p := DefaultPrompts()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse prompts file %s: %w", path, err)
	}
	return p, nil
}

// WithUrgencyKeywords replaces the keyword list when kw is non-empty.
func (p *Prompts) WithUrgencyKeywords(kw []string) *Prompts {
	if len(kw) > 0 {
		p.UrgencyKeywords = kw
	}
	return p
}

// Delta returns the score change for an intent. Intents missing from the
// table fall back to the built-in weights.
func (p *Prompts) Delta(intent domain.Intent) int {
	if d, ok := p.ScoreDeltas[string(intent)]; ok {
		return d
	}
	return domain.DefaultScoreDeltas()[intent]
}

// ResponseTemplate picks the template for intent.
func (p *Prompts) ResponseTemplate(intent domain.Intent) string {
	if tmpl, ok := p.Response.Templates[string(intent)]; ok && strings.TrimSpace(tmpl) != "" {
		return tmpl
	}
	return p.Response.Default
}

// SignalsConfusion reports whether a bot reply admits it did not understand.
func (p *Prompts) SignalsConfusion(reply string) bool {
	lower := strings.ToLower(reply)
	for _, marker := range p.ConfusionMarkers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// ReengagementText renders the nudge sent to an idle contact.
func (p *Prompts) ReengagementText(contact string) string {
	if strings.TrimSpace(contact) == "" {
		contact = "daar"
	}
	return strings.TrimSpace(render(p.Reengagement, map[string]string{"contact": contact}))
}

// render substitutes {name} placeholders.
func render(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
