package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive  MarketStatus = "active"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// Market represents a binary-outcome prediction market.
type Market struct {
	ID          string       // condition ID
	Question    string
	Slug        string
	Outcomes    [2]string    // e.g. ["Yes","No"] or ["Up","Down"]
	TokenIDs    [2]string    // ERC-1155 token IDs (76-digit strings)
	ConditionID string
	NegRisk     bool
	Volume      float64
	Status      MarketStatus
	EndDate     *time.Time
	ClosedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OutcomeFor returns the outcome label for a token ID, or "" if the token
// does not belong to this market.
func (m Market) OutcomeFor(tokenID string) string {
	for i, id := range m.TokenIDs {
		if id == tokenID {
			return m.Outcomes[i]
		}
	}
	return ""
}

// TokenFor returns the token ID for an outcome label, or "" if the label
// is not one of the market's two outcomes.
func (m Market) TokenFor(outcome string) string {
	for i, o := range m.Outcomes {
		if o == outcome {
			return m.TokenIDs[i]
		}
	}
	return ""
}

// OtherOutcome returns the opposite outcome label, or "" if the given
// label is not one of the market's two outcomes.
func (m Market) OtherOutcome(outcome string) string {
	switch outcome {
	case m.Outcomes[0]:
		return m.Outcomes[1]
	case m.Outcomes[1]:
		return m.Outcomes[0]
	}
	return ""
}
