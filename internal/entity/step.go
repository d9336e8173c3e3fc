package entity

type ActionType string

const (
	ActionTypeNavigate ActionType = "navigate"
	ActionTypeClick    ActionType = "click"
	ActionTypeFill     ActionType = "fill"
	ActionTypePress    ActionType = "press"
	ActionTypeSelect   ActionType = "select"
	ActionTypeHover    ActionType = "hover"
	ActionTypeWait     ActionType = "wait"
	ActionTypeWaitFor  ActionType = "wait_for"
	ActionTypeScroll   ActionType = "scroll"
)

// Step is one UI action replayed before re-running extraction.
type Step struct {
	Action   ActionType `json:"action"`
	Selector string     `json:"selector,omitempty"`
	Value    string     `json:"value,omitempty"`
	URL      string     `json:"url,omitempty"`
	// WaitMs is the pause for wait and an optional timeout override for the
	// other actions.
	WaitMs int `json:"waitMs,omitempty"`
	// Amount is the vertical scroll in pixels for scroll. Negative scrolls up;
	// zero scrolls to the bottom.
	Amount int `json:"amount,omitempty"`
}

// HuntResult is what huntElementsAfterSteps returns.
type HuntResult struct {
	Analysis      *PageAnalysis `json:"analysis"`
	StepsExecuted int           `json:"stepsExecuted"`
}
