// Package escalate decides whether a ticket is handed to a human team.
// A fixed rule matrix is evaluated first: forcing rules escalate immediately,
// weighted signals accumulate toward a threshold, and an external advisory
// signal can tip borderline tickets. The engine also assigns the routing
// category and SLA class for escalated tickets.
package escalate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kaiketsu-ai/kaiketsu/internal/llm"
	"github.com/kaiketsu-ai/kaiketsu/internal/model"
)

// escalatedConfidence is reported on every escalation: a human adjudicates,
// so the handoff itself is a high-confidence decision.
const escalatedConfidence = 0.9

// Signals carries context the engine cannot derive from the ticket text.
type Signals struct {
	// PriorContacts is how many tickets this customer filed recently.
	// A positive count fires the repeat-contact signal even when the
	// customer didn't phrase it as one.
	PriorContacts int
}

// Engine evaluates the escalation rule matrix for classified tickets.
type Engine struct {
	advisor llm.Advisor
	rules   Rules
	timeout time.Duration
	logger  *slog.Logger
}

// NewEngine creates an escalation engine. timeout bounds the advisory call.
func NewEngine(advisor llm.Advisor, rules Rules, timeout time.Duration, logger *slog.Logger) *Engine {
	return &Engine{advisor: advisor, rules: rules, timeout: timeout, logger: logger}
}

// Decide produces the escalation decision. It never fails: when the advisory
// signal errors or times out, the decision is made from rules alone. The
// returned error, when non-nil, is the absorbed advisory failure — advisory
// only, for the caller's non-fatal notes.
func (e *Engine) Decide(ctx context.Context, ticket model.Ticket, c model.Classification, matches []model.ScoredMatch, signals Signals) (model.EscalationDecision, error) {
	text := ticket.FullText()
	best := bestAdjusted(matches)

	escalated, reasons := e.forcingReasons(text, c)

	var absorbed error
	if !escalated {
		score, weighted := e.weightedScore(text, c, best, signals)
		reasons = append(reasons, weighted...)

		switch {
		case score >= e.rules.Threshold:
			escalated = true
		case score >= e.rules.Threshold/2:
			// Borderline: the advisory signal may tip it, but alone it can
			// never force escalation from below half-threshold.
			recommend, err := e.advise(ctx, ticket, c)
			if err != nil {
				e.logger.Warn("escalate: advisory signal failed, deciding from rules alone",
					"ticket_id", ticket.ID, "error", err)
				absorbed = err
			} else if recommend {
				escalated = true
				reasons = append(reasons, "advisory signal recommends escalation")
			}
		}
	}

	decision := model.EscalationDecision{
		Escalate:  escalated,
		Reasoning: strings.Join(reasons, "; "),
	}
	if escalated {
		decision.Category = e.routeCategory(text, c, best)
		decision.Confidence = escalatedConfidence
	} else {
		// Boosted adjusted scores can exceed 1, so clamp.
		decision.Confidence = min(1, max(c.Confidence, best))
	}
	decision.SLA = slaFor(c.Priority, decision.Category, escalated)

	return decision, absorbed
}

// forcingReasons evaluates the forcing rules: critical priority, security
// terms, legal terms (or the classifier's legal flag). Any hit escalates.
func (e *Engine) forcingReasons(text string, c model.Classification) (bool, []string) {
	var reasons []string
	if c.Priority == model.PriorityCritical {
		reasons = append(reasons, "critical priority")
	}
	if containsAny(text, e.rules.SecurityTerms) {
		reasons = append(reasons, "security terms present")
	}
	if c.EscalationFlag || containsAny(text, e.rules.LegalTerms) {
		reasons = append(reasons, "legal terms present")
	}
	return len(reasons) > 0, reasons
}

// weightedScore sums the non-forcing signal contributions.
func (e *Engine) weightedScore(text string, c model.Classification, best float64, signals Signals) (float64, []string) {
	var score float64
	var reasons []string

	if containsAny(text, e.rules.FrustrationTerms) {
		score += e.rules.Weights.Frustration
		reasons = append(reasons, "customer frustration detected")
	}
	// best is 0 when no matches exist, so an empty knowledge base counts
	// as the weakest possible match.
	if best < e.rules.WeakMatchCutoff {
		score += e.rules.Weights.WeakMatch
		reasons = append(reasons, "no strong knowledge match")
	}
	if c.Confidence < e.rules.LowConfidenceCutoff {
		score += e.rules.Weights.LowConfidence
		reasons = append(reasons, "low classification confidence")
	}
	if containsAny(text, e.rules.RepeatContactTerms) || signals.PriorContacts > 0 {
		score += e.rules.Weights.RepeatContact
		reasons = append(reasons, "repeat contact")
	}
	return score, reasons
}

func (e *Engine) advise(ctx context.Context, ticket model.Ticket, c model.Classification) (bool, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.advisor.Advise(ctx, llm.TicketContext{
		Subject:  ticket.Subject,
		Body:     ticket.Body,
		Category: c.Category,
		Priority: c.Priority,
	})
}

// routeCategory assigns the human team, evaluated in fixed order so the most
// specific route wins.
func (e *Engine) routeCategory(text string, c model.Classification, best float64) model.EscalationCategory {
	switch {
	case containsAny(text, e.rules.SecurityTerms):
		return model.EscalateSecurity
	case c.EscalationFlag || containsAny(text, e.rules.LegalTerms):
		return model.EscalateLegal
	case containsAny(text, e.rules.ManagementTerms):
		return model.EscalateManagement
	case c.Category == model.CategoryBilling:
		return model.EscalateBilling
	case c.Category == model.CategoryTechnical && best < e.rules.TechnicalRouteCutoff:
		return model.EscalateTechnical
	default:
		return model.EscalateGeneral
	}
}

// slaFor maps priority and routing category to a response-time tier.
func slaFor(priority model.Priority, category model.EscalationCategory, escalated bool) model.SLAClass {
	urgent := priority == model.PriorityCritical ||
		(escalated && (category == model.EscalateSecurity || category == model.EscalateLegal))
	switch {
	case urgent:
		return model.SLAUrgent
	case priority == model.PriorityHigh:
		return model.SLAStandard
	default:
		return model.SLALow
	}
}

// bestAdjusted returns the highest adjusted score, 0 when no matches exist.
func bestAdjusted(matches []model.ScoredMatch) float64 {
	var best float64
	for _, m := range matches {
		if m.AdjustedScore > best {
			best = m.AdjustedScore
		}
	}
	return best
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
