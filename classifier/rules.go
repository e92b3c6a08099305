package classifier

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Rules is the keyword configuration the classifier evaluates.
type Rules struct {
	Info    InfoRules    `yaml:"info"`
	Surgery SurgeryRules `yaml:"surgery"`
	Blocked BlockedRules `yaml:"blocked"`
}

// InfoRules marks announcement-style events by title prefix.
type InfoRules struct {
	Prefixes []string `yaml:"prefixes"`
}

// SurgeryRules marks surgery events by keyword or calendar color.
type SurgeryRules struct {
	Keywords []string `yaml:"keywords"`
	ColorIDs []string `yaml:"color_ids"`
	// Colors holds hex values some clients write instead of a palette id.
	Colors []string `yaml:"colors"`
}

// BlockedRules marks time the owner is unavailable.
type BlockedRules struct {
	Keywords []string `yaml:"keywords"`
	// MinHours treats any event at least this long as blocked. Zero disables it.
	MinHours float64 `yaml:"min_hours"`
}

// DefaultRules returns the rules compiled into the binary.
func DefaultRules() Rules {
	rules, err := ParseRules(defaultRulesYAML)
	if err != nil {
		// embedded file is part of the build
		panic(fmt.Sprintf("classifier: invalid embedded rules: %v", err))
	}
	return rules
}

// ParseRules decodes a YAML rules document.
func ParseRules(data []byte) (Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("classifier: parse rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// LoadRules reads rules from path. An empty path or a missing file yields the
// embedded defaults.
func LoadRules(path string) (Rules, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultRules(), nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("classifier: rules file %s not found, using defaults", path)
		return DefaultRules(), nil
	}
	if err != nil {
		return Rules{}, fmt.Errorf("classifier: read rules %s: %w", path, err)
	}
	return ParseRules(data)
}

// Validate rejects rule sets that could never classify anything as surgery.
func (r Rules) Validate() error {
	if len(r.Surgery.Keywords) == 0 && len(r.Surgery.ColorIDs) == 0 && len(r.Surgery.Colors) == 0 {
		return errors.New("classifier: surgery rules need at least one keyword or color")
	}
	if r.Blocked.MinHours < 0 {
		return errors.New("classifier: blocked.min_hours must not be negative")
	}
	return nil
}
