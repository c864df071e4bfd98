// Package prompt builds the exact model-call payload for a conversation turn.
package prompt

import (
	"strings"
	"sync"

	"github.com/cbhirsch/real-estate-agent-chatbot/internal/llm"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/session"
)

// DefaultSystem is the assistant persona used when no prompt file is
// configured.
const DefaultSystem = `You are a knowledgeable real estate assistant. You help clients
search for properties, schedule viewings, and answer questions about listings,
neighborhoods, pricing, and the buying or renting process. Be concise and
factual; when you do not know a listing detail, say so rather than guessing.`

// Assembler merges the system instruction with a windowed history projection
// into the ordered message sequence handed to the model. The system prompt
// can be swapped at runtime (persona hot reload), so access is guarded.
type Assembler struct {
	mu       sync.RWMutex
	system   string
	maxTurns int
	maxChars int
}

// New creates an assembler. maxTurns bounds the history window by turn count
// (<= 0 means unbounded); maxChars optionally bounds it by total content
// length (<= 0 disables the budget).
func New(system string, maxTurns, maxChars int) *Assembler {
	if system == "" {
		system = DefaultSystem
	}
	return &Assembler{
		system:   system,
		maxTurns: maxTurns,
		maxChars: maxChars,
	}
}

// System returns the current system instruction.
func (a *Assembler) System() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.system
}

// SetSystem replaces the system instruction for subsequent turns.
func (a *Assembler) SetSystem(system string) {
	if system == "" {
		return
	}
	a.mu.Lock()
	a.system = system
	a.mu.Unlock()
}

// Assemble projects the history into a model payload: the system instruction
// first (with any injected system turns folded in, in order), then the
// windowed history chronologically, the inbound user turn last. The window
// never exceeds the configured budgets, except that the final turn is always
// sent whole even when it alone exceeds the character budget.
func (a *Assembler) Assemble(history session.History) (string, []llm.Message) {
	windowed := history.Window(a.maxTurns)
	if a.maxChars > 0 {
		windowed = windowed.WindowBudget(a.maxChars)
	}

	system := []string{a.System()}
	msgs := make([]llm.Message, 0, len(windowed))
	for _, t := range windowed {
		switch t.Role {
		case llm.RoleSystem:
			// Injected system turns become part of the instruction block;
			// providers reject system roles mid-conversation.
			system = append(system, t.Content)
		case llm.RoleUser, llm.RoleAssistant:
			msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
		default:
			// Unknown roles are carried as user text rather than dropped,
			// so no turn silently disappears from the model's view.
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: t.Content})
		}
	}

	return strings.Join(system, "\n\n"), msgs
}
