package parser

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	StrategyRecursive = "recursive"
	StrategyWindow    = "window"
)

// Splitter breaks a document's text into bounded, overlapping spans.
type Splitter interface {
	SplitText(text string) ([]string, error)
}

// NewSplitter returns the splitter for strategy. overlap must be smaller than
// size so that every step makes forward progress.
func NewSplitter(strategy string, size, overlap int) (Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	switch strategy {
	case StrategyRecursive, "":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		), nil
	case StrategyWindow:
		return windowSplitter{maxChars: size, overlapChars: overlap}, nil
	default:
		return nil, fmt.Errorf("unknown chunk strategy: %s", strategy)
	}
}

type windowSplitter struct {
	maxChars     int
	overlapChars int
}

func (w windowSplitter) SplitText(text string) ([]string, error) {
	return chunkContent(text, w.maxChars, w.overlapChars), nil
}

// chunk content into chunks of at most maxChars runes, consecutive chunks
// sharing overlapChars runes
func chunkContent(content string, maxChars, overlapChars int) []string {
	if maxChars <= 0 {
		return nil
	}
	if overlapChars < 0 {
		overlapChars = 0
	}
	if overlapChars >= maxChars {
		overlapChars = maxChars / 2
	}

	runes := []rune(strings.TrimSpace(content))
	contentLen := len(runes)
	if contentLen == 0 {
		return nil
	}
	if contentLen <= maxChars {
		return []string{string(runes)}
	}

	var chunks []string
	start := 0
	for start < contentLen {
		end := min(start+maxChars, contentLen)

		// prefer a clean break within the last 10% of the window
		if end < contentLen {
			lookBack := min(maxChars/10, end-start)
			for i := end - 1; i >= end-lookBack && i > start; i-- {
				if runes[i] == ' ' || runes[i] == '\n' || runes[i] == '.' {
					end = i + 1
					break
				}
			}
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= contentLen {
			break
		}

		next := end - overlapChars
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}
