// Package domain holds the conversation aggregate and the rules that govern
// its lifecycle: the primary status machine, the handoff sub-machine, lead
// scoring and message content.
package domain

// Status is the primary lifecycle state of a conversation.
type Status string

const (
	StatusActive           Status = "ACTIVE"
	StatusWaitingSecretary Status = "WAITING_SECRETARY"
	StatusTransferred      Status = "TRANSFERRED"
	StatusClosed           Status = "CLOSED"
)

// HandoffState tracks automatic escalation from bot to human.
type HandoffState string

const (
	HandoffActiveBot   HandoffState = "ACTIVE_BOT"
	HandoffPending     HandoffState = "PENDING_HANDOFF"
	HandoffActiveHuman HandoffState = "ACTIVE_HUMAN"
	HandoffCompleted   HandoffState = "COMPLETED"
)

// HandoffEvent drives the handoff sub-machine.
type HandoffEvent string

const (
	EventRequest  HandoffEvent = "request"
	EventAssign   HandoffEvent = "assign"
	EventComplete HandoffEvent = "complete"
	EventRelease  HandoffEvent = "release"
)

var statusTransitions = map[Status][]Status{
	StatusActive:           {StatusWaitingSecretary, StatusTransferred, StatusClosed},
	StatusWaitingSecretary: {StatusActive, StatusTransferred, StatusClosed},
	StatusTransferred:      {StatusActive, StatusClosed},
	StatusClosed:           {StatusActive},
}

type handoffEdge struct {
	from  HandoffState
	event HandoffEvent
}

var handoffTransitions = map[handoffEdge]HandoffState{
	{HandoffActiveBot, EventRequest}:    HandoffPending,
	{HandoffPending, EventAssign}:       HandoffActiveHuman,
	{HandoffActiveHuman, EventComplete}: HandoffCompleted,
	{HandoffActiveHuman, EventRelease}:  HandoffActiveBot,
}

// handoffStatus is the primary status a conversation moves to alongside each
// handoff state.
var handoffStatus = map[HandoffState]Status{
	HandoffActiveBot:   StatusActive,
	HandoffPending:     StatusWaitingSecretary,
	HandoffActiveHuman: StatusTransferred,
	HandoffCompleted:   StatusClosed,
}

// Statuses lists every primary status.
func Statuses() []Status {
	return []Status{StatusActive, StatusWaitingSecretary, StatusTransferred, StatusClosed}
}

// HandoffStates lists every handoff state.
func HandoffStates() []HandoffState {
	return []HandoffState{HandoffActiveBot, HandoffPending, HandoffActiveHuman, HandoffCompleted}
}

// CanTransition reports whether the primary table allows from -> to.
func CanTransition(from, to Status) bool {
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// NextHandoff returns the state reached from `from` on event.
func NextHandoff(from HandoffState, event HandoffEvent) (HandoffState, bool) {
	next, ok := handoffTransitions[handoffEdge{from, event}]
	return next, ok
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	_, ok := statusTransitions[st]
	return st, ok
}
