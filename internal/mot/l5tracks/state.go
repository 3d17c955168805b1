package l5tracks

// State represents the lifecycle state of a track.
type State string

const (
	Tentative State = "tentative" // New track, needs confirmation
	Confirmed State = "confirmed" // Stable track with sufficient history
	Lost      State = "lost"      // Confirmed track coasting through a miss
	Removed   State = "removed"   // Terminal; purged at the end of the frame
)

func (s State) String() string { return string(s) }

// Live reports whether a track in state s still takes part in association.
func (s State) Live() bool {
	return s == Tentative || s == Confirmed || s == Lost
}

// EventKind is what happened to a track in one frame.
type EventKind int

const (
	Matched EventKind = iota
	Missed
	Fault
)

func (k EventKind) String() string {
	switch k {
	case Matched:
		return "matched"
	case Missed:
		return "missed"
	case Fault:
		return "fault"
	}
	return "unknown"
}

// Event carries the counters after the frame's hit or miss was applied.
type Event struct {
	Kind   EventKind
	Hits   int // Consecutive matched frames, including creation
	Misses int // Consecutive unmatched frames
}

// Policy holds the lifecycle thresholds.
type Policy struct {
	MinHits      int // Consecutive hits that confirm a tentative track
	MaxOcclusion int // Consecutive misses a confirmed track may coast through
}

// Initial returns the state of a freshly created track, which counts its
// creating detection as the first hit.
func (p Policy) Initial() State {
	return p.Next(Tentative, Event{Kind: Matched, Hits: 1})
}

// Next is the lifecycle transition function.
func (p Policy) Next(s State, ev Event) State {
	if s == Removed || !s.Live() {
		return Removed
	}
	switch ev.Kind {
	case Fault:
		return Removed
	case Matched:
		if s == Tentative && ev.Hits < p.MinHits {
			return Tentative
		}
		return Confirmed
	case Missed:
		if s == Tentative {
			return Removed
		}
		if ev.Misses > p.MaxOcclusion {
			return Removed
		}
		return Lost
	}
	return s
}
