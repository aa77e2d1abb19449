// Package accumulator decides when enough GPS evidence has been gathered.
//
// Every fix adds its quality to a running score and bumps a sample counter.
// The score is checked first, so a fix that crosses the quality threshold
// reports Ready even when it is also the sample that would time out.
package accumulator

import "github.com/relabs-tech/gps_tracker/internal/gps"

// State is the outcome of a single Feed.
type State int

const (
	// Waiting means neither threshold has been crossed yet.
	Waiting State = iota
	// Ready means the score exceeded the quality threshold.
	Ready
	// TimedOut means the sample count exceeded the count threshold first.
	TimedOut
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Ready:
		return "ready"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Thresholds are strict: the score must exceed Quality and the count must
// exceed Count.
type Thresholds struct {
	Quality uint
	Count   uint
}

// Accumulator is not safe for concurrent use.
type Accumulator struct {
	th    Thresholds
	score uint
	count uint
	last  gps.Fix
}

// New returns an empty accumulator for the given thresholds.
func New(th Thresholds) *Accumulator {
	return &Accumulator{th: th}
}

// Feed adds one fix and reports the resulting state. Feeding after a terminal
// state without Reset keeps accumulating.
func (a *Accumulator) Feed(fix gps.Fix) State {
	a.score += fix.Quality
	a.count++
	a.last = fix

	if a.score > a.th.Quality {
		return Ready
	}
	if a.count > a.th.Count {
		return TimedOut
	}
	return Waiting
}

// Reset zeroes score and count. The last fix is kept for reporting.
func (a *Accumulator) Reset() {
	a.score = 0
	a.count = 0
}

// Score is the summed quality since the last Reset.
func (a *Accumulator) Score() uint { return a.score }

// Count is the number of fixes fed since the last Reset.
func (a *Accumulator) Count() uint { return a.count }

// Last returns the most recently fed fix.
func (a *Accumulator) Last() gps.Fix { return a.last }
