package domain

import "strings"

// Intent is the closed set of labels the classifier may return.
type Intent string

const (
	IntentGreeting     Intent = "GREETING"
	IntentPricing      Intent = "PRICING"
	IntentScheduling   Intent = "SCHEDULING"
	IntentInformation  Intent = "INFORMATION"
	IntentComplaint    Intent = "COMPLAINT"
	IntentHumanRequest Intent = "HUMAN_REQUEST"
	IntentOther        Intent = "OTHER"
)

// Intents lists every label.
func Intents() []Intent {
	return []Intent{
		IntentGreeting,
		IntentPricing,
		IntentScheduling,
		IntentInformation,
		IntentComplaint,
		IntentHumanRequest,
		IntentOther,
	}
}

// DefaultScoreDeltas weights each intent's effect on the maturity score.
func DefaultScoreDeltas() map[Intent]int {
	return map[Intent]int{
		IntentScheduling:   20,
		IntentPricing:      15,
		IntentHumanRequest: 10,
		IntentInformation:  5,
		IntentGreeting:     2,
		IntentComplaint:    -5,
		IntentOther:        0,
	}
}

// NormalizeIntent maps a raw classifier answer onto the closed set. Anything
// unrecognised becomes OTHER.
func NormalizeIntent(raw string) Intent {
	label := strings.TrimSpace(raw)
	label = strings.Trim(label, " \t\r\n.\"'`*:")
	label = strings.ToUpper(label)
	label = strings.NewReplacer(" ", "_", "-", "_").Replace(label)

	for _, intent := range Intents() {
		if Intent(label) == intent {
			return intent
		}
	}
	return IntentOther
}
