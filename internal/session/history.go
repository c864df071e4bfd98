package session

import (
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/llm"
)

// History is an ordered, append-only sequence of turns. Insertion order is
// conversation order and is never rearranged.
type History []Turn

// Append returns the history extended with the given turn.
func (h History) Append(t Turn) History {
	return append(h, t)
}

// Window returns the suffix of at most max turns, in original order.
// A max <= 0 returns the whole history. Truncation drops from the oldest
// end first; the most recent turn is always included.
func (h History) Window(max int) History {
	if max <= 0 || len(h) <= max {
		return h
	}
	return h[len(h)-max:]
}

// WindowBudget returns the largest suffix whose summed content length fits
// within budget characters. The final turn is always included whole, even
// when it alone exceeds the budget; turns are never truncated mid-turn.
func (h History) WindowBudget(budget int) History {
	if budget <= 0 || len(h) == 0 {
		return h
	}

	total := 0
	start := len(h)
	for i := len(h) - 1; i >= 0; i-- {
		total += len(h[i].Content)
		if total > budget && i < len(h)-1 {
			break
		}
		start = i
	}
	return h[start:]
}

// LastUserTurn returns the most recent user turn and true, or a zero turn
// and false when the history holds none.
func (h History) LastUserTurn() (Turn, bool) {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Role == llm.RoleUser {
			return h[i], true
		}
	}
	return Turn{}, false
}
