// Package wait models the workflow pause that stands in for a timed delay
// and the manual skip that fast-forwards past it.
package wait

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// SkipMarker is sent as the message text when a wait is skipped.
const SkipMarker = "__SKIP_WAIT__"

// StatusActive is the workflow status forced before a skip is submitted.
const StatusActive = "active"

// Unit is the unit of a wait duration.
type Unit string

const (
	Seconds Unit = "seconds"
	Minutes Unit = "minutes"
	Hours   Unit = "hours"
	Days    Unit = "days"
)

var multipliers = map[Unit]time.Duration{
	Seconds: time.Second,
	Minutes: time.Minute,
	Hours:   time.Hour,
	Days:    24 * time.Hour,
}

// ShortThreshold is the longest wait considered short enough to count down
// in place.
const ShortThreshold = time.Minute

// Info describes an active wait. A nil *Info means no wait is active.
type Info struct {
	Time float64 `json:"waitTime"`
	Unit Unit    `json:"waitUnit"`
}

// Duration converts the wait to a time.Duration. Unknown units count as
// seconds; negative times as zero.
func (i Info) Duration() time.Duration {
	m, ok := multipliers[i.Unit]
	if !ok {
		m = time.Second
	}
	if i.Time <= 0 {
		return 0
	}
	return time.Duration(math.Round(i.Time * float64(m)))
}

// Short reports whether the wait is at most ShortThreshold.
func (i Info) Short() bool { return i.Duration() <= ShortThreshold }

func (i Info) String() string {
	return fmt.Sprintf("%g %s", i.Time, i.Unit)
}

// Next returns the gate after a turn: the reported wait when the turn
// carried an active wait action, nil otherwise.
func Next(isWaitAction bool, reported Info) *Info {
	if !isWaitAction {
		return nil
	}
	r := reported
	return &r
}

// ForceActive rewrites an opaque workflow state so the service resumes
// past the pause: status becomes active and pausedReason is cleared. Every
// other field is kept byte for byte, so large integers survive. An empty
// state yields a minimal object.
func ForceActive(state json.RawMessage) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(state) > 0 && string(state) != "null" {
		if err := json.Unmarshal(state, &fields); err != nil {
			return nil, fmt.Errorf("wait: workflow state is not an object: %w", err)
		}
		if fields == nil {
			fields = map[string]json.RawMessage{}
		}
	}
	fields["status"] = json.RawMessage(`"` + StatusActive + `"`)
	fields["pausedReason"] = json.RawMessage("null")
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("wait: encode workflow state: %w", err)
	}
	return out, nil
}
