// Package persona holds the phrase books that give reminders their tone.
package persona

import (
	_ "embed"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vthunder/chapelotas/internal/logging"
	"github.com/vthunder/chapelotas/internal/types"
)

//go:embed personalities.yaml
var builtin []byte

const (
	Sarcastic    = "sarcastic"
	Professional = "professional"
)

// Context keys
const (
	UpcomingReminder   = "upcoming_reminder"
	OngoingReminder    = "ongoing_reminder"
	DelayedReminder    = "delayed_reminder"
	ActionConfirmation = "action_confirmation"
	AlarmGreeting      = "alarm_greeting"
)

// Personality is one phrase book. Phrases maps a context to sub-contexts
// (acknowledged, unacknowledged, snooze, ...) to candidate phrases.
type Personality struct {
	DisplayName string                         `yaml:"display_name"`
	Description string                         `yaml:"description"`
	Phrases     map[string]map[string][]string `yaml:",inline"`
}

// Provider picks phrases from the loaded personalities
type Provider struct {
	mu            sync.RWMutex
	overrideDir   string
	personalities map[string]Personality
	pick          func(n int) int
}

// New loads the built-in phrase books plus any *.yaml files in overrideDir
// (one personality per file, named after the file).
func New(overrideDir string) (*Provider, error) {
	p := &Provider{overrideDir: overrideDir, pick: rand.IntN}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// WithPicker replaces the random choice (tests pass a fixed index).
func (p *Provider) WithPicker(pick func(n int) int) *Provider {
	p.pick = pick
	return p
}

// Reload re-reads the built-in and override phrase books.
func (p *Provider) Reload() error {
	all := map[string]Personality{}
	if err := yaml.Unmarshal(builtin, &all); err != nil {
		return fmt.Errorf("parse built-in personalities: %w", err)
	}

	if p.overrideDir != "" {
		files, _ := filepath.Glob(filepath.Join(p.overrideDir, "*.yaml"))
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				logging.Warn("persona", "read %s: %v", f, err)
				continue
			}
			var pers Personality
			if err := yaml.Unmarshal(data, &pers); err != nil {
				logging.Warn("persona", "parse %s: %v", f, err)
				continue
			}
			all[strings.TrimSuffix(filepath.Base(f), ".yaml")] = pers
		}
	}

	p.mu.Lock()
	p.personalities = all
	p.mu.Unlock()
	logging.Debug("persona", "loaded %d personalities", len(all))
	return nil
}

// Available maps personality ids to display names.
func (p *Provider) Available() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.personalities))
	for id, pers := range p.personalities {
		out[id] = pers.DisplayName
	}
	return out
}

// Get returns a phrase for contextKey ("upcoming_reminder.acknowledged")
// with placeholders such as {TASK_NAME} substituted case-insensitively.
// Unknown personalities fall back to sarcastic.
func (p *Provider) Get(personality, contextKey string, placeholders map[string]string) string {
	p.mu.RLock()
	pers, ok := p.personalities[personality]
	if !ok {
		pers = p.personalities[Sarcastic]
	}
	p.mu.RUnlock()

	main, sub, _ := strings.Cut(contextKey, ".")
	if main == AlarmGreeting && sub == "" {
		sub = "options"
	}
	options := pers.Phrases[main][sub]
	if len(options) == 0 {
		logging.Debug("persona", "no phrases for %s in %q", contextKey, personality)
		if main == ActionConfirmation {
			return "Action confirmed!"
		}
		return "Reminder for your task."
	}

	phrase := options[p.pick(len(options))]
	for k, v := range placeholders {
		re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(k))
		phrase = re.ReplaceAllLiteralString(phrase, v)
	}
	return phrase
}

// For returns the personality id the settings ask for. Turning sarcastic
// mode off forces the professional tone.
func For(s types.Settings) string {
	if !s.SarcasticMode {
		return Professional
	}
	if s.Personality == "" {
		return Sarcastic
	}
	return s.Personality
}

// AckSuffix returns the sub-context for an acknowledgement state.
func AckSuffix(acknowledged bool) string {
	if acknowledged {
		return "acknowledged"
	}
	return "unacknowledged"
}
