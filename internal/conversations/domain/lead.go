package domain

import "github.com/google/uuid"

const (
	MinScore = 0
	MaxScore = 100
)

// Lead statuses derived from the maturity score.
const (
	LeadStatusNew  = "NEW"
	LeadStatusWarm = "WARM"
	LeadStatusHot  = "HOT"
)

// Lead tracks how sales-ready a contact is. One per conversation.
type Lead struct {
	ID                 uuid.UUID
	MaturityScore      int
	Status             string
	AssignedOperatorID *uuid.UUID
}

// NewLead returns a lead at score zero.
func NewLead() Lead {
	return Lead{ID: uuid.New(), Status: LeadStatusNew}
}

// ClampScore bounds a score to [0,100].
func ClampScore(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// ApplyDelta adjusts the score, clamps it and refreshes the status.
func (l *Lead) ApplyDelta(delta int) (before, after int) {
	before = l.MaturityScore
	l.MaturityScore = ClampScore(before + delta)
	l.Status = LeadStatusFor(l.MaturityScore)
	return before, l.MaturityScore
}

// LeadStatusFor maps a score to a lead status.
func LeadStatusFor(score int) string {
	switch {
	case score >= 70:
		return LeadStatusHot
	case score >= 30:
		return LeadStatusWarm
	default:
		return LeadStatusNew
	}
}
