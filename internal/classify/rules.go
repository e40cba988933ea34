package classify

import "github.com/kaiketsu-ai/kaiketsu/internal/model"

// CategoryRule overrides the external category when a strong lexical signal
// contradicts a low-confidence external classification.
type CategoryRule struct {
	Keywords []string
	Category model.Category
}

// Rules is the deterministic keyword rule set applied on top of the external
// classification signal. Rules only raise priority, never lower it.
// The set is passed explicitly into the Combiner so tests can substitute
// their own lexicons; there is no global registry.
type Rules struct {
	// SecurityTerms force priority = critical.
	SecurityTerms []string
	// LegalTerms set the escalation flag on the classification.
	LegalTerms []string
	// UrgencyTerms raise priority by one level when below high.
	UrgencyTerms []string
	// CategoryRules apply only when the external confidence is below
	// CategoryOverrideBelow. When several rules match, the rule with the
	// longest matched keyword wins; an exact tie resolves to general.
	CategoryRules []CategoryRule
	// CategoryOverrideBelow is the external-confidence cutoff under which
	// category rules may override the external category.
	CategoryOverrideBelow float64
	// RuleConfidenceFloor is the minimum confidence reported when any rule
	// fired; rule-confirmed classifications are at least moderately trusted.
	RuleConfidenceFloor float64
}

// DefaultRules returns the production rule set.
func DefaultRules() Rules {
	return Rules{
		SecurityTerms: []string{"hack", "hacked", "breach", "fraud", "phishing", "compromised"},
		LegalTerms:    []string{"legal", "lawsuit", "lawyer", "attorney", "court"},
		UrgencyTerms:  []string{"urgent", "asap", "immediately", "right away"},
		CategoryRules: []CategoryRule{
			{
				Keywords: []string{"refund", "invoice", "chargeback", "payment declined", "billed twice"},
				Category: model.CategoryBilling,
			},
			{
				Keywords: []string{"password", "login", "locked out", "account locked", "2fa"},
				Category: model.CategoryAccount,
			},
			{
				Keywords: []string{"error code", "crash", "stack trace", "not working", "500"},
				Category: model.CategoryTechnical,
			},
		},
		CategoryOverrideBelow: 0.5,
		RuleConfidenceFloor:   0.75,
	}
}
