// Package resolve turns an escalation decision into the terminal resolution:
// either an AI-authored response generated from knowledge-base context, or a
// deterministic handoff notice naming the human team and its expected
// response window. The surrounding envelope (greeting, ticket reference,
// signature) is deterministic and independent of the generator.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kaiketsu-ai/kaiketsu/internal/llm"
	"github.com/kaiketsu-ai/kaiketsu/internal/model"
)

const (
	// contextArticles caps how many matches are handed to the generator.
	contextArticles = 3

	// strongMatchCutoff is the adjusted score at which a match is considered
	// strong enough to carry the classification confidence through
	// unchanged; below it, AI-response confidence is capped.
	strongMatchCutoff = 0.7
	aiConfidenceCap   = 0.6

	// escalatedConfidence mirrors the decision engine's fixed handoff
	// confidence.
	escalatedConfidence = 0.9

	signature = "Best regards,\nCustomer Support Team"
)

// route maps an escalation category to its human team and expected response
// windows per SLA tier.
type route struct {
	department     string
	urgentWindow   string
	standardWindow string
}

var routes = map[model.EscalationCategory]route{
	model.EscalateTechnical:  {"Technical Support", "15-30 minutes", "1-2 hours"},
	model.EscalateBilling:    {"Billing Support", "30-45 minutes", "30-45 minutes"},
	model.EscalateManagement: {"Customer Success", "45-60 minutes", "45-60 minutes"},
	model.EscalateLegal:      {"Legal Affairs", "2-4 hours", "2-4 hours"},
	model.EscalateSecurity:   {"Security Team", "immediately", "30-60 minutes"},
	model.EscalateGeneral:    {"Customer Support", "1 hour", "4 hours"},
}

// RouteFor returns the department name and expected response window for an
// escalation category and SLA tier. Unknown categories route like general.
func RouteFor(category model.EscalationCategory, sla model.SLAClass) (department, window string) {
	r, ok := routes[category]
	if !ok {
		r = routes[model.EscalateGeneral]
	}
	if sla == model.SLAUrgent {
		return r.department, r.urgentWindow
	}
	return r.department, r.standardWindow
}

// Router selects between AI-authored and escalation-handoff resolutions.
type Router struct {
	generator llm.Generator
	timeout   time.Duration
	logger    *slog.Logger
}

// NewRouter creates a resolution router. timeout bounds the generation call.
func NewRouter(generator llm.Generator, timeout time.Duration, logger *slog.Logger) *Router {
	return &Router{generator: generator, timeout: timeout, logger: logger}
}

// Resolve produces the terminal resolution for a ticket. It never fails:
// when the generator errors or times out on a non-escalating decision, the
// outcome degrades to a general/standard escalation handoff rather than an
// empty response. The returned error, when non-nil, is the absorbed
// generation failure — advisory only, for the caller's non-fatal notes.
func (r *Router) Resolve(ctx context.Context, ticket model.Ticket, c model.Classification, matches []model.ScoredMatch, decision model.EscalationDecision) (model.Resolution, error) {
	if decision.Escalate {
		return r.handoff(ticket, decision.Category, decision.SLA), nil
	}

	text, err := r.generate(ctx, ticket, c, matches)
	if err != nil {
		r.logger.Warn("resolve: generation failed, degrading to escalation handoff",
			"ticket_id", ticket.ID, "error", err)
		return r.handoff(ticket, model.EscalateGeneral, model.SLAStandard), err
	}

	used := matches
	if len(used) > contextArticles {
		used = used[:contextArticles]
	}
	articleIDs := make([]uuid.UUID, len(used))
	for i, m := range used {
		articleIDs[i] = m.Article.ID
	}

	return model.Resolution{
		TicketID:     ticket.ID,
		Response:     envelope(ticket, text),
		Confidence:   aiConfidence(c, matches),
		ArticlesUsed: articleIDs,
		AgentType:    model.AgentAI,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (r *Router) generate(ctx context.Context, ticket model.Ticket, c model.Classification, matches []model.ScoredMatch) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	articles := make([]model.KnowledgeArticle, 0, contextArticles)
	for i, m := range matches {
		if i == contextArticles {
			break
		}
		articles = append(articles, m.Article)
	}

	return r.generator.Generate(ctx, llm.TicketContext{
		Subject:  ticket.Subject,
		Body:     ticket.Body,
		Category: c.Category,
		Priority: c.Priority,
	}, articles)
}

// handoff composes the deterministic escalation notice.
func (r *Router) handoff(ticket model.Ticket, category model.EscalationCategory, sla model.SLAClass) model.Resolution {
	department, window := RouteFor(category, sla)

	var b strings.Builder
	b.WriteString(greeting(ticket))
	b.WriteString("\n\nThank you for contacting us. ")
	fmt.Fprintf(&b, "Your request has been forwarded to our %s team, who will follow up %s.",
		department, windowPhrase(window))
	fmt.Fprintf(&b, "\n\nYour ticket reference is %s.", ticket.ID)
	b.WriteString("\n\n")
	b.WriteString(signature)

	return model.Resolution{
		TicketID:     ticket.ID,
		Response:     b.String(),
		Confidence:   escalatedConfidence,
		ArticlesUsed: []uuid.UUID{},
		AgentType:    model.AgentEscalation,
		CreatedAt:    time.Now().UTC(),
	}
}

// envelope wraps generated text in the fixed greeting/reference/signature
// structure. Independent of what the generator produced.
func envelope(ticket model.Ticket, text string) string {
	var b strings.Builder
	b.WriteString(greeting(ticket))
	b.WriteString("\n\n")
	b.WriteString(strings.TrimSpace(text))
	fmt.Fprintf(&b, "\n\nYour ticket reference is %s.", ticket.ID)
	b.WriteString("\n\n")
	b.WriteString(signature)
	return b.String()
}

// greeting personalizes with the customer's first name when known.
func greeting(ticket model.Ticket) string {
	name := strings.TrimSpace(ticket.CustomerName)
	if name == "" {
		return "Dear Valued Customer,"
	}
	if first, _, ok := strings.Cut(name, " "); ok {
		name = first
	}
	return "Dear " + name + ","
}

func windowPhrase(window string) string {
	if window == "immediately" {
		return "immediately"
	}
	return "within " + window
}

// aiConfidence derives the reported confidence for an AI-authored response.
// A strong match lets the classification confidence stand; without one the
// response is capped at a moderate confidence.
func aiConfidence(c model.Classification, matches []model.ScoredMatch) float64 {
	best := 0.0
	for _, m := range matches {
		if m.AdjustedScore > best {
			best = m.AdjustedScore
		}
	}
	conf := c.Confidence
	if best >= strongMatchCutoff {
		return min(1.0, conf)
	}
	return min(conf, aiConfidenceCap)
}
