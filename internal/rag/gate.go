package rag

import "eco-counselor/internal/models"

type Decision int

const (
	DecisionFallback Decision = iota
	DecisionAnswer
)

func (d Decision) String() string {
	if d == DecisionAnswer {
		return "answer"
	}
	return "fallback"
}

// Gate decides whether the best match is close enough to answer from.
// A missing result or one farther than threshold falls back.
func Gate(top *models.SearchResult, threshold float64) Decision {
	if top == nil || top.Distance > threshold {
		return DecisionFallback
	}
	return DecisionAnswer
}
