// Package replay implements the 256-entry sliding-bitmap replay
// protection: reject sequences older than most-recent minus the
// window, or previously seen.
package replay

// WindowSize is the bitmap width.
const WindowSize = 256

// Protection tracks the most-recently-accepted sequence and a sliding
// bitmap of recently-seen sequences within WindowSize of it.
type Protection struct {
	mostRecentSequence uint64
	seen               [WindowSize]bool
	initialized        bool
}

// New returns a fresh, empty Protection.
func New() *Protection {
	return &Protection{}
}

// Reset clears all state. Called when a session's AEAD key changes (a
// route install or continue bumps session_version) — a sequence space
// tied to the old key carries no information about replay under the
// new one, so anything short of a full reset would either falsely
// reject legitimate post-rekey traffic or leak pre-rekey state forward.
func (p *Protection) Reset() {
	*p = Protection{}
}

// AlreadyReceived reports whether sequence should be rejected: strictly
// older than the window, or already marked seen. It does not mutate
// state — callers must call Advance only after full packet
// verification succeeds, never during speculative parsing.
func (p *Protection) AlreadyReceived(sequence uint64) bool {
	if !p.initialized {
		return false
	}
	if sequence+WindowSize <= p.mostRecentSequence {
		return true
	}
	if sequence <= p.mostRecentSequence {
		return p.seen[sequence%WindowSize]
	}
	return false
}

// Advance marks sequence as accepted. Call only after AEAD
// authentication and all business-logic checks have passed.
func (p *Protection) Advance(sequence uint64) {
	if !p.initialized {
		p.initialized = true
		p.mostRecentSequence = sequence
		for i := range p.seen {
			p.seen[i] = false
		}
		p.seen[sequence%WindowSize] = true
		return
	}

	if sequence > p.mostRecentSequence {
		// Clear the slots that fall out of the new window before
		// sliding forward, so a future sequence that wraps back into
		// one of them isn't mistaken for a repeat of the old entry.
		oldest := p.mostRecentSequence
		newest := sequence
		clearFrom := oldest + 1
		if newest-clearFrom >= WindowSize {
			clearFrom = newest - WindowSize + 1
		}
		for s := clearFrom; s <= newest; s++ {
			p.seen[s%WindowSize] = false
		}
		p.mostRecentSequence = sequence
	}
	p.seen[sequence%WindowSize] = true
}
