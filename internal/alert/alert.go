// Package alert holds the single live FusedAlert and its transition function.
package alert

import (
	"sync"
	"time"

	"github.com/poachwatch/poachwatch/internal/detection"
	"github.com/poachwatch/poachwatch/internal/fusion"
)

// State of the fused alert.
type State string

const (
	StateNone      State = "NONE"
	StateSuspected State = "SUSPECTED"
	StateConfirmed State = "CONFIRMED"
)

// States lists every state in escalation order.
var States = []State{StateNone, StateSuspected, StateConfirmed}

// StateNames returns States as strings.
func StateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = string(s)
	}
	return names
}

// FusedAlert is a read-only snapshot of the live alert.
type FusedAlert struct {
	State     State               `json:"state"`
	Location  *detection.Location `json:"location,omitempty"`
	ImageRef  string              `json:"image_ref,omitempty"`
	Species   string              `json:"species,omitempty"`
	Zone      string              `json:"zone,omitempty"`
	EnteredAt time.Time           `json:"entered_at,omitzero"`

	// ImageClass and ImageProbability describe the corroborating image.
	ImageClass       string  `json:"image_class,omitempty"`
	ImageProbability float64 `json:"image_probability,omitempty"`
}

// Transition reports what one Apply did.
type Transition struct {
	From     State      `json:"from"`
	To       State      `json:"to"`
	Previous FusedAlert `json:"previous"`
	Alert    FusedAlert `json:"alert"`
	// Entered is true only when the alert moved into CONFIRMED.
	Entered bool `json:"entered"`
	// Cleared is true only when the alert moved from CONFIRMED to NONE.
	Cleared bool `json:"cleared"`
	// Ended is true whenever the alert left CONFIRMED, including a
	// downgrade to SUSPECTED.
	Ended   bool `json:"ended"`
	Changed bool `json:"changed"`
}

// Machine owns the live FusedAlert. Apply must be called from a single
// goroutine; Current may be called from any.
type Machine struct {
	mu      sync.RWMutex
	current FusedAlert
}

// NewMachine returns a machine in NONE.
func NewMachine() *Machine {
	return &Machine{current: FusedAlert{State: StateNone}}
}

// Current returns a snapshot of the live alert.
func (m *Machine) Current() FusedAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.clone()
}

// Apply advances the machine with one verdict observed at now.
//
// A repeated CONFIRMED keeps the episode as it was entered. A SUSPECTED
// verdict while CONFIRMED ends the episode and drops the image reference;
// the next CONFIRMED verdict opens a new one.
func (m *Machine) Apply(v fusion.Verdict, now time.Time) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.current.clone()
	next := prev

	switch v.Level {
	case fusion.LevelConfirmed:
		if prev.State != StateConfirmed {
			next = fromVerdict(StateConfirmed, v, now)
		}
	case fusion.LevelSuspected:
		switch prev.State {
		case StateNone:
			next = fromVerdict(StateSuspected, v, now)
		case StateSuspected:
			next = fromVerdict(StateSuspected, v, prev.EnteredAt)
		case StateConfirmed:
			next = fromVerdict(StateSuspected, v, now)
		}
	default:
		if prev.State != StateNone {
			next = FusedAlert{State: StateNone, EnteredAt: now}
		}
	}

	m.current = next
	return Transition{
		From:     prev.State,
		To:       next.State,
		Previous: prev,
		Alert:    next.clone(),
		Entered:  prev.State != StateConfirmed && next.State == StateConfirmed,
		Cleared:  prev.State == StateConfirmed && next.State == StateNone,
		Ended:    prev.State == StateConfirmed && next.State != StateConfirmed,
		Changed:  prev.State != next.State,
	}
}

// Restore sets the live alert, used to resume an open episode after restart.
func (m *Machine) Restore(a FusedAlert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.State == "" {
		a.State = StateNone
	}
	m.current = a.clone()
}

func fromVerdict(state State, v fusion.Verdict, enteredAt time.Time) FusedAlert {
	a := FusedAlert{
		State:     state,
		ImageRef:  v.ImageRef,
		EnteredAt: enteredAt,
	}
	if v.Location != nil {
		loc := *v.Location
		a.Location = &loc
		a.Zone = detection.ZoneFor(loc.Latitude, loc.Longitude)
	}
	if v.Movement != nil {
		a.Species = v.Movement.Species
	}
	if v.Image != nil {
		a.ImageClass = v.Image.ClassName
		a.ImageProbability = v.Image.Probability
		if a.Zone == "" {
			a.Zone = v.Image.Zone
		}
	}
	return a
}

func (a FusedAlert) clone() FusedAlert {
	if a.Location != nil {
		loc := *a.Location
		a.Location = &loc
	}
	return a
}
