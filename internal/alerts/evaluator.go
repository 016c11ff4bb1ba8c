// Package alerts implements the rule-based Alert Evaluator: it matches
// classified text against keyword rules and escalates each kind's
// minimum severity per its own rule-specific condition.
package alerts

import (
	"regexp"

	"github.com/tutu-network/sentinel/internal/domain"
	"github.com/tutu-network/sentinel/internal/infra/metrics"
)

// secondPersonPattern detects an explicit second-person reference, used
// by the harassment rule's escalation condition.
var secondPersonPattern = regexp.MustCompile(`(?i)\b(you|you're|youre|your|yourself)\b`)

// Evaluator scores a Classification against a compiled rule set and
// emits zero or more Alerts.
type Evaluator struct {
	rules []compiledRule
}

// New builds an Evaluator from rules (use LoadDefaultRules or
// LoadRulesFile to obtain them).
func New(rules []compiledRule) *Evaluator {
	return &Evaluator{rules: rules}
}

// Evaluate checks text against every rule and returns one Alert per
// rule kind that matched at least one keyword, at that kind's
// MinSeverity unless its Escalate condition is satisfied.
func (e *Evaluator) Evaluate(contentID string, text string, verdict domain.SentimentVerdict) []domain.Alert {
	var out []domain.Alert
	secondPerson := secondPersonPattern.MatchString(text)

	for _, rule := range e.rules {
		var matched []string
		for i, re := range rule.matchers {
			if re.MatchString(text) {
				matched = append(matched, rule.keywords[i])
			}
		}
		if len(matched) == 0 {
			continue
		}

		severity := rule.minSeverity
		if rule.escalate.applies(len(matched), verdict, secondPerson) {
			severity = rule.escalate.To
		}

		metrics.AlertsRaised.WithLabelValues(string(rule.kind), string(severity)).Inc()
		out = append(out, domain.Alert{
			ContentID:       contentID,
			Kind:            rule.kind,
			Severity:        severity,
			KeywordsMatched: matched,
			Status:          domain.AlertActive,
		})
	}
	return out
}
