// Package inventory is the authoritative variable store for one session.
//
// The Lua sandbox holds the truth; the inventory map is a projection that is
// re-built after every script batch, so variables created dynamically by
// scripts ("found_secret = true") show up in later snapshots without being
// declared anywhere. The inventory also serves the state machine as its
// evaluator: it decides action conditions and runs action scripts, then
// broadcasts the refreshed map.
package inventory

import (
	"fmt"
	"log/slog"

	"fabula/internal/messaging"
	"fabula/internal/script"
	"fabula/internal/statemachine"
)

// Inventory wraps the script sandbox with a typed map façade.
// Like the sandbox it fronts, an Inventory belongs to one session and one
// goroutine.
type Inventory struct {
	sandbox *script.Sandbox
	queue   messaging.Queue

	// items is the current projection of all user variables.
	items map[string]any
}

// Compile-time check: the inventory is the state machine's evaluator.
var _ statemachine.Evaluator = (*Inventory)(nil)

// New creates an inventory seeded with the game definition's initial
// variables. queue may be nil when no client is attached (tests, tools).
func New(queue messaging.Queue, initial map[string]any) (*Inventory, error) {
	sb, err := script.New()
	if err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}

	inv := &Inventory{
		sandbox: sb,
		queue:   queue,
		items:   make(map[string]any, len(initial)),
	}
	for key, value := range initial {
		if err := sb.SetVariable(key, value); err != nil {
			sb.Close()
			return nil, fmt.Errorf("inventory: initial variable %q: %w", key, err)
		}
	}
	inv.refresh()
	return inv, nil
}

// Close releases the underlying sandbox.
func (inv *Inventory) Close() {
	inv.sandbox.Close()
}

// Get returns the current value of a variable.
func (inv *Inventory) Get(key string) (any, bool) {
	return inv.sandbox.Variable(key)
}

// Set assigns a variable and refreshes the projection.
func (inv *Inventory) Set(key string, value any) error {
	if err := inv.sandbox.SetVariable(key, value); err != nil {
		return fmt.Errorf("inventory: %w", err)
	}
	inv.refresh()
	return nil
}

// ToMap returns a snapshot of all variables. The returned map is a copy; two
// consecutive calls with no intervening mutation are equal.
func (inv *Inventory) ToMap() map[string]any {
	out := make(map[string]any, len(inv.items))
	for k, v := range inv.items {
		out[k] = v
	}
	return out
}

// EvaluateCondition implements [statemachine.Evaluator]. Blank expressions
// are vacuously true; evaluation errors count as false.
func (inv *Inventory) EvaluateCondition(expr string) bool {
	v, ok := inv.sandbox.EvaluateExpression(expr)
	if !ok {
		return false
	}
	return script.Truthy(v)
}

// ExecuteScripts implements [statemachine.Evaluator]. The state machine calls
// it when an action fires, after the whole hook chain has approved — a vetoed
// action therefore never mutates the inventory.
//
// Each statement runs through the sandbox; a failing script is logged and the
// rest still run. Afterwards the projection is refreshed so variables created
// by the scripts appear in ToMap, and the updated map is broadcast to the
// client.
func (inv *Inventory) ExecuteScripts(scripts []string) {
	if len(scripts) == 0 {
		return
	}
	for _, s := range scripts {
		if s == "" {
			continue
		}
		if err := inv.sandbox.Execute(s); err != nil {
			slog.Warn("inventory: script failed", "script", s, "err", err)
		}
	}
	inv.refresh()
	if inv.queue != nil {
		inv.queue.Send(messaging.InventoryMessage(inv.ToMap()))
	}
}

// refresh re-projects the sandbox's user variables into the items map.
// The sandbox is master; never let the two diverge.
func (inv *Inventory) refresh() {
	inv.items = inv.sandbox.UserVariables()
}
