package rag

import (
	"strings"

	"eco-counselor/internal/models"
)

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'")

// SafetyInterceptor detects crisis language before anything else runs.
type SafetyInterceptor struct {
	keywords []string
}

// NewSafetyInterceptor uses the built-in crisis phrases plus any extra ones.
func NewSafetyInterceptor(extra ...string) *SafetyInterceptor {
	keywords := make([]string, 0, len(models.EmergencyKeywords)+len(extra))
	for _, k := range append(append([]string{}, models.EmergencyKeywords...), extra...) {
		if k = normalize(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	return &SafetyInterceptor{keywords: keywords}
}

// Check reports whether query contains any crisis phrase, ignoring case.
func (s *SafetyInterceptor) Check(query string) bool {
	q := normalize(query)
	for _, k := range s.keywords {
		if strings.Contains(q, k) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.TrimSpace(strings.ToLower(apostrophes.Replace(s)))
}
