package escalate

// Weights are the contributions of the non-forcing escalation signals.
// Exposed as configuration so operators can tune them without a rebuild.
type Weights struct {
	Frustration   float64
	WeakMatch     float64
	LowConfidence float64
	RepeatContact float64
}

// DefaultWeights returns the standard signal weights.
func DefaultWeights() Weights {
	return Weights{
		Frustration:   0.3,
		WeakMatch:     0.3,
		LowConfidence: 0.2,
		RepeatContact: 0.2,
	}
}

// Rules holds the lexicons, cutoffs, and weights the decision engine
// evaluates. Passed in explicitly so tests can substitute their own matrix.
type Rules struct {
	// Forcing lexicons: any hit escalates immediately.
	SecurityTerms []string
	LegalTerms    []string

	// FrustrationTerms feed the weighted frustration signal. ManagementTerms
	// are the subset that additionally routes the escalation to management.
	FrustrationTerms []string
	ManagementTerms  []string

	// RepeatContactTerms mark a customer saying they have asked before.
	RepeatContactTerms []string

	// Threshold is the weighted score at or above which a ticket escalates.
	// The advisory signal can tip a ticket over from Threshold/2 upward.
	Threshold float64

	// WeakMatchCutoff is the best adjusted score below which the weak-match
	// signal fires. LowConfidenceCutoff is the classification confidence
	// below which the low-confidence signal fires.
	WeakMatchCutoff     float64
	LowConfidenceCutoff float64

	// TechnicalRouteCutoff: a technical-category ticket routes to the
	// technical team only when its best match is below this, i.e. the
	// knowledge base had no good answer.
	TechnicalRouteCutoff float64

	Weights Weights
}

// DefaultRules returns the standard escalation rule matrix.
func DefaultRules() Rules {
	return Rules{
		SecurityTerms: []string{
			"hack", "hacked", "breach", "fraud", "phishing",
			"compromised", "unauthorized access", "stolen",
		},
		LegalTerms: []string{
			"legal", "lawsuit", "lawyer", "attorney", "court", "sue",
		},
		FrustrationTerms: []string{
			"frustrated", "angry", "unacceptable", "ridiculous",
			"terrible", "worst", "fed up", "manager", "supervisor",
		},
		ManagementTerms: []string{
			"manager", "supervisor",
		},
		RepeatContactTerms: []string{
			"again", "second time", "third time", "still not fixed",
			"already contacted", "keep asking",
		},
		Threshold:            0.5,
		WeakMatchCutoff:      0.7,
		LowConfidenceCutoff:  0.5,
		TechnicalRouteCutoff: 0.5,
		Weights:              DefaultWeights(),
	}
}
