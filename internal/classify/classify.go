// Package classify merges the external language-model classification signal
// with deterministic keyword rules into the final category/priority/confidence
// triple for a ticket.
package classify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kaiketsu-ai/kaiketsu/internal/llm"
	"github.com/kaiketsu-ai/kaiketsu/internal/model"
)

// Fallback classification used when the external signal is unavailable.
// The keyword rules still apply on top of it.
const (
	fallbackConfidence = 0.3
)

// Combiner merges the external classification signal with the rule set.
type Combiner struct {
	classifier llm.Classifier
	rules      Rules
	timeout    time.Duration
	logger     *slog.Logger
}

// NewCombiner creates a classification combiner. timeout bounds the external
// call; zero means the caller's context deadline alone applies.
func NewCombiner(classifier llm.Classifier, rules Rules, timeout time.Duration, logger *slog.Logger) *Combiner {
	return &Combiner{classifier: classifier, rules: rules, timeout: timeout, logger: logger}
}

// Classify produces the final classification for a ticket. It never fails:
// when the external signal errors or times out, the rule-only default
// (general/medium/0.3) is used as the base. The returned error, when non-nil,
// is the absorbed external failure — advisory only, for the caller's
// non-fatal notes; the Classification is always valid.
func (c *Combiner) Classify(ctx context.Context, ticket model.Ticket) (model.Classification, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var absorbed error
	base := model.Classification{
		Category:   model.CategoryGeneral,
		Priority:   model.PriorityMedium,
		Confidence: fallbackConfidence,
		Reasoning:  "classification signal unavailable; rule-only default",
	}

	sig, err := c.classifier.Classify(ctx, ticket.Subject, ticket.Body)
	if err != nil {
		c.logger.Warn("classify: external signal failed, using rule-only default", "ticket_id", ticket.ID, "error", err)
		absorbed = err
	} else {
		base = fromSignal(sig)
	}

	return c.applyRules(ticket, base), absorbed
}

// fromSignal maps the untrusted external signal onto the domain enums.
// Unknown values degrade to general/medium; confidence is clamped to [0,1].
func fromSignal(sig llm.ClassifySignal) model.Classification {
	cat := model.Category(strings.ToLower(strings.TrimSpace(sig.Category)))
	if !model.ValidCategory(cat) {
		cat = model.CategoryGeneral
	}

	var prio model.Priority
	switch model.Priority(strings.ToLower(strings.TrimSpace(sig.Priority))) {
	case model.PriorityLow:
		prio = model.PriorityLow
	case model.PriorityMedium:
		prio = model.PriorityMedium
	case model.PriorityHigh:
		prio = model.PriorityHigh
	case model.PriorityCritical:
		prio = model.PriorityCritical
	default:
		prio = model.PriorityMedium
	}

	conf := sig.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}

	return model.Classification{
		Category:   cat,
		Priority:   prio,
		Confidence: conf,
		Reasoning:  sig.Reasoning,
	}
}

// applyRules layers the deterministic keyword rules on top of the base
// classification. Rules only ever raise priority.
func (c *Combiner) applyRules(ticket model.Ticket, base model.Classification) model.Classification {
	text := ticket.FullText()
	out := base
	ruleFired := false
	var notes []string

	// Urgency terms raise priority one level when below high.
	if containsAny(text, c.rules.UrgencyTerms) && out.Priority.Level() < model.PriorityHigh.Level() {
		out.Priority = out.Priority.Raise()
		ruleFired = true
		notes = append(notes, "urgency terms present")
	}

	// Security terms force critical, trumping whatever came before.
	if containsAny(text, c.rules.SecurityTerms) {
		out.Priority = model.PriorityCritical
		ruleFired = true
		notes = append(notes, "security terms detected")
	}

	// Legal terms flag the ticket for the escalation engine.
	if containsAny(text, c.rules.LegalTerms) {
		out.EscalationFlag = true
		ruleFired = true
		notes = append(notes, "legal terms detected")
	}

	// Category override: only against a low-confidence external category.
	if base.Confidence < c.rules.CategoryOverrideBelow {
		if cat, matched := c.matchCategory(text); matched {
			if cat != out.Category {
				notes = append(notes, "category overridden by keyword rule")
			}
			out.Category = cat
			ruleFired = true
		}
	}

	if ruleFired {
		if out.Confidence < c.rules.RuleConfidenceFloor {
			out.Confidence = c.rules.RuleConfidenceFloor
		}
		out.Reasoning = strings.TrimSpace(out.Reasoning + " (" + strings.Join(notes, "; ") + ")")
	}

	return out
}

// matchCategory evaluates all category rules against the ticket text.
// The rule with the longest matched keyword wins; a length tie across
// different categories resolves to general.
func (c *Combiner) matchCategory(text string) (model.Category, bool) {
	best := model.CategoryGeneral
	bestLen := 0
	tied := false

	for _, rule := range c.rules.CategoryRules {
		for _, kw := range rule.Keywords {
			if !strings.Contains(text, kw) {
				continue
			}
			switch {
			case len(kw) > bestLen:
				best = rule.Category
				bestLen = len(kw)
				tied = false
			case len(kw) == bestLen && rule.Category != best:
				tied = true
			}
		}
	}

	if bestLen == 0 {
		return model.CategoryGeneral, false
	}
	if tied {
		return model.CategoryGeneral, true
	}
	return best, true
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
