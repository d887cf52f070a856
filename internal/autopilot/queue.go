package autopilot

import (
	"fmt"
	"strconv"
	"strings"
)

// ManeuverKind selects how a Maneuver is interpreted when it is popped.
type ManeuverKind int

const (
	// ManeuverResume enters State directly.
	ManeuverResume ManeuverKind = iota
	// ManeuverTurn enters Turning with Angle.
	ManeuverTurn
	// ManeuverScan enters Scanning with Scan as the sweep strategy.
	ManeuverScan
	// ManeuverBack enters Backing.
	ManeuverBack
)

var maneuverKindNames = map[ManeuverKind]string{
	ManeuverResume: "resume",
	ManeuverTurn:   "turn",
	ManeuverScan:   "scan",
	ManeuverBack:   "back",
}

func (k ManeuverKind) String() string {
	if name, ok := maneuverKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ManeuverKind(%d)", int(k))
}

// MarshalText encodes the kind by name so scripts read well as JSON.
func (k ManeuverKind) MarshalText() ([]byte, error) {
	if _, ok := maneuverKindNames[k]; !ok {
		return nil, fmt.Errorf("unknown maneuver kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (k *ManeuverKind) UnmarshalText(b []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(b)))
	for kind, n := range maneuverKindNames {
		if n == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown maneuver kind %q", string(b))
}

// Maneuver is a deferred behaviour descriptor: an entry point plus its
// parameters, held as plain data so queues can be inspected and serialised.
type Maneuver struct {
	Kind  ManeuverKind `json:"kind"`
	State State        `json:"state,omitempty"`
	Angle float64      `json:"angle,omitempty"`
	Scan  ScanStrategy `json:"scan,omitempty"`
	// Ticks overrides the step limit of states that honour it.
	Ticks int `json:"ticks,omitempty"`
}

// TurnTo rotates the body by angle degrees, positive to the right.
func TurnTo(angle float64) Maneuver { return Maneuver{Kind: ManeuverTurn, Angle: angle} }

// RunScan sweeps with the given strategy. ScanDefault uses the controller's
// active strategy at the time the sweep starts.
func RunScan(s ScanStrategy) Maneuver { return Maneuver{Kind: ManeuverScan, Scan: s} }

// BackUp reverses until the obstacle clears or the backing budget runs out.
func BackUp() Maneuver { return Maneuver{Kind: ManeuverBack} }

// Resume enters s.
func Resume(s State) Maneuver { return Maneuver{Kind: ManeuverResume, State: s} }

// Run enters s with an explicit step budget.
func Run(s State, ticks int) Maneuver {
	return Maneuver{Kind: ManeuverResume, State: s, Ticks: ticks}
}

// Target returns the state the maneuver enters.
func (m Maneuver) Target() State {
	switch m.Kind {
	case ManeuverTurn:
		return Turning
	case ManeuverScan:
		return Scanning
	case ManeuverBack:
		return Backing
	default:
		return m.State
	}
}

func (m Maneuver) String() string {
	switch m.Kind {
	case ManeuverTurn:
		return "TurnTo(" + strconv.FormatFloat(m.Angle, 'g', -1, 64) + ")"
	case ManeuverScan:
		return "RunScan(" + m.Scan.String() + ")"
	case ManeuverBack:
		return "BackUp"
	case ManeuverResume:
		if m.Ticks > 0 {
			return fmt.Sprintf("Run(%s, %d)", m.State, m.Ticks)
		}
		return "Resume(" + string(m.State) + ")"
	}
	return m.Kind.String()
}

// BehaviorQueue is the FIFO of pending maneuvers. The controller pops one
// entry each time a routine finishes. It is owned by the control loop and is
// not safe for concurrent use.
type BehaviorQueue struct {
	items []Maneuver
}

// Push appends maneuvers to the back of the queue.
func (q *BehaviorQueue) Push(ms ...Maneuver) {
	q.items = append(q.items, ms...)
}

// Pop removes and returns the front maneuver.
func (q *BehaviorQueue) Pop() (Maneuver, error) {
	if len(q.items) == 0 {
		return Maneuver{}, ErrEmptyQueue
	}
	m := q.items[0]
	q.items = q.items[1:]
	return m, nil
}

// Peek returns the front maneuver without removing it.
func (q *BehaviorQueue) Peek() (Maneuver, bool) {
	if len(q.items) == 0 {
		return Maneuver{}, false
	}
	return q.items[0], true
}

func (q *BehaviorQueue) Len() int    { return len(q.items) }
func (q *BehaviorQueue) Empty() bool { return len(q.items) == 0 }
func (q *BehaviorQueue) Clear()      { q.items = nil }

// Items returns a copy of the queued maneuvers, front first.
func (q *BehaviorQueue) Items() []Maneuver {
	out := make([]Maneuver, len(q.items))
	copy(out, q.items)
	return out
}

func (q *BehaviorQueue) String() string {
	parts := make([]string, len(q.items))
	for i, m := range q.items {
		parts[i] = m.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
