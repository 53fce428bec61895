// Package schedule decides when the periodic update pass is due.
package schedule

import (
	"fmt"
	"time"
)

// Reason explains an update decision for logging.
type Reason string

const (
	ReasonForced       Reason = "forced"
	ReasonEveryCycle   Reason = "interval is 0, update every cycle"
	ReasonNeverRan     Reason = "no previous update"
	ReasonIntervalDue  Reason = "interval elapsed"
	ReasonNotYetDue    Reason = "interval not elapsed"
	ReasonUpdateOffset Reason = "last update is in the future"
)

// Decision is the outcome of Evaluate.
type Decision struct {
	Due     bool
	Reason  Reason
	Elapsed time.Duration
}

func (d Decision) String() string {
	if d.Elapsed > 0 {
		return fmt.Sprintf("%s (last update %.1fh ago)", d.Reason, d.Elapsed.Hours())
	}
	return string(d.Reason)
}

// ShouldUpdate reports whether a full update pass should run.
//
// intervalHours == 0 means every cycle and is checked before any time
// arithmetic. A zero last means the pass never ran and is due.
func ShouldUpdate(last, now time.Time, intervalHours int, forced bool) bool {
	return Evaluate(last, now, intervalHours, forced).Due
}

// Evaluate is ShouldUpdate with the reason attached.
func Evaluate(last, now time.Time, intervalHours int, forced bool) Decision {
	if forced {
		return Decision{Due: true, Reason: ReasonForced}
	}
	if intervalHours <= 0 {
		return Decision{Due: true, Reason: ReasonEveryCycle}
	}
	if last.IsZero() {
		return Decision{Due: true, Reason: ReasonNeverRan}
	}

	elapsed := now.Sub(last)
	if elapsed < 0 {
		return Decision{Due: false, Reason: ReasonUpdateOffset}
	}
	if elapsed >= time.Duration(intervalHours)*time.Hour {
		return Decision{Due: true, Reason: ReasonIntervalDue, Elapsed: elapsed}
	}
	return Decision{Due: false, Reason: ReasonNotYetDue, Elapsed: elapsed}
}
