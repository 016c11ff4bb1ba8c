package alerts

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.yaml.in/yaml/v2"

	"github.com/tutu-network/sentinel/internal/domain"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Escalation raises a rule's severity above its minimum when a kind-
// specific condition is met. A nil Escalation means the rule always
// fires at MinSeverity. Each non-zero field is an independent
// condition; any one being satisfied triggers the escalation.
type Escalation struct {
	To                  domain.Severity `yaml:"to"`
	MinMatches          int             `yaml:"min_matches,omitempty"`
	MinConfidence       float64         `yaml:"min_confidence,omitempty"`
	MinConfidenceLabel  domain.Label    `yaml:"min_confidence_label,omitempty"`
	RequireLabel        domain.Label    `yaml:"require_label,omitempty"`
	RequireSecondPerson bool            `yaml:"require_second_person,omitempty"`
}

func (esc *Escalation) applies(matchCount int, verdict domain.SentimentVerdict, secondPerson bool) bool {
	if esc == nil {
		return false
	}
	if esc.MinMatches > 0 && matchCount >= esc.MinMatches {
		return true
	}
	if esc.MinConfidence > 0 && verdict.Confidence >= esc.MinConfidence {
		if esc.MinConfidenceLabel == "" || verdict.Label == esc.MinConfidenceLabel {
			return true
		}
	}
	if esc.RequireLabel != "" && verdict.Label == esc.RequireLabel {
		return true
	}
	if esc.RequireSecondPerson && secondPerson {
		return true
	}
	return false
}

// Rule is one keyword set feeding a single AlertKind, plus the severity
// floor and escalation condition for that kind.
type Rule struct {
	Kind        domain.AlertKind `yaml:"kind"`
	MinSeverity domain.Severity  `yaml:"min_severity"`
	Escalate    *Escalation      `yaml:"escalate,omitempty"`
	Keywords    []string         `yaml:"keywords"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// compiledRule pairs a Rule with its word-boundary matchers.
type compiledRule struct {
	kind        domain.AlertKind
	minSeverity domain.Severity
	escalate    *Escalation
	keywords    []string
	matchers    []*regexp.Regexp
}

// LoadDefaultRules returns the rule set embedded in the binary.
func LoadDefaultRules() ([]compiledRule, error) {
	return parseRules(defaultRulesYAML)
}

// LoadRulesFile reads and compiles a rule set from a YAML file on disk,
// falling back to the embedded default if path is empty.
func LoadRulesFile(path string) ([]compiledRule, error) {
	if path == "" {
		return LoadDefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alert rules: %w", err)
	}
	return parseRules(data)
}

func parseRules(data []byte) ([]compiledRule, error) {
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse alert rules: %w", err)
	}

	compiled := make([]compiledRule, 0, len(rf.Rules))
	for _, r := range rf.Rules {
		cr := compiledRule{kind: r.Kind, minSeverity: r.MinSeverity, escalate: r.Escalate, keywords: r.Keywords}
		for _, kw := range r.Keywords {
			pattern := `(?i)\b` + regexp.QuoteMeta(strings.ToLower(kw)) + `\b`
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("compile keyword %q: %w", kw, err)
			}
			cr.matchers = append(cr.matchers, re)
		}
		compiled = append(compiled, cr)
	}
	return compiled, nil
}
