package signal

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed rubric.yaml
var defaultRubric []byte

// Rubric tells the model which signal types exist and how to score them.
type Rubric struct {
	Focus  string       `yaml:"focus"`
	Types  []TypeDef    `yaml:"types"`
	Scores []ScoreLevel `yaml:"scores"`
}

// TypeDef describes one signal type.
type TypeDef struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// ScoreLevel describes one point on the 1..5 scale.
type ScoreLevel struct {
	Score   int    `yaml:"score"`
	Meaning string `yaml:"meaning"`
}

// DefaultRubric returns the embedded rubric.
func DefaultRubric() *Rubric {
	r, err := ParseRubric(defaultRubric)
	if err != nil {
		panic(fmt.Sprintf("signal: embedded rubric is invalid: %v", err))
	}
	return r
}

// LoadRubric reads a rubric from path, or returns the embedded default when
// path is empty.
func LoadRubric(path string) (*Rubric, error) {
	if path == "" {
		return DefaultRubric(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "signal: read rubric %s", path)
	}
	return ParseRubric(data)
}

// ParseRubric decodes and validates a YAML rubric.
func ParseRubric(data []byte) (*Rubric, error) {
	var r Rubric
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "signal: parse rubric")
	}
	if len(r.Types) == 0 {
		return nil, eris.New("signal: rubric defines no signal types")
	}
	for _, s := range r.Scores {
		if s.Score < 1 || s.Score > 5 {
			return nil, eris.Errorf("signal: rubric score %d outside 1..5", s.Score)
		}
	}
	return &r, nil
}

// render formats the rubric for the prompt.
func (r *Rubric) render() string {
	var sb strings.Builder
	if r.Focus != "" {
		fmt.Fprintf(&sb, "Focus: %s\n\n", strings.TrimSpace(r.Focus))
	}
	sb.WriteString("Signal types:\n")
	for _, t := range r.Types {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
	}
	if len(r.Scores) > 0 {
		sb.WriteString("\nScoring (1-5):\n")
		for _, s := range r.Scores {
			fmt.Fprintf(&sb, "- %d: %s\n", s.Score, s.Meaning)
		}
	}
	return sb.String()
}
