package txn

import "fmt"

// Step identifies one step of a coordinator workflow.
type Step string

const (
	StepCheckInventory Step = "check_inventory"
	StepEnrichItems    Step = "enrich_items"
	StepCreateOrder    Step = "create_order"
	StepCreatePayment  Step = "create_payment"
	StepConfirmPayment Step = "confirm_payment"
	StepDeductStock    Step = "deduct_stock"
	StepAdvanceOrder   Step = "advance_order"
)

// FailureAction says what the coordinator does when a step fails.
type FailureAction int

const (
	// Propagate aborts the workflow and surfaces the error.
	Propagate FailureAction = iota
	// LogAndContinue records the failure and moves on.
	LogAndContinue
)

// StepPolicy is the declarative failure matrix: step -> action.
type StepPolicy map[Step]FailureAction

// DefaultStepPolicy returns the production failure matrix. Payment record
// creation, display enrichment and the post-confirmation order advance are
// best-effort; everything else aborts the workflow.
func DefaultStepPolicy() StepPolicy {
	return StepPolicy{
		StepCheckInventory: Propagate,
		StepEnrichItems:    LogAndContinue,
		StepCreateOrder:    Propagate,
		StepCreatePayment:  LogAndContinue,
		StepConfirmPayment: Propagate,
		StepDeductStock:    Propagate,
		StepAdvanceOrder:   LogAndContinue,
	}
}

// ActionFor returns the action for a step, defaulting to Propagate for
// steps the policy does not mention.
func (p StepPolicy) ActionFor(step Step) FailureAction {
	if action, ok := p[step]; ok {
		return action
	}
	return Propagate
}

// FallbackMode is the per-gateway degradation policy.
type FallbackMode int

const (
	// Strict propagates every gateway failure.
	Strict FallbackMode = iota
	// Relaxed degrades non-authentication failures to a synthetic canned
	// response so the workflow stays exercisable without live collaborators.
	Relaxed
)

func (m FallbackMode) String() string {
	if m == Relaxed {
		return "relaxed"
	}
	return "strict"
}

// ParseFallbackMode parses "strict" or "relaxed".
func ParseFallbackMode(raw string) (FallbackMode, error) {
	switch raw {
	case "", "strict":
		return Strict, nil
	case "relaxed":
		return Relaxed, nil
	default:
		return Strict, fmt.Errorf("unknown fallback mode %q", raw)
	}
}
