package flash

import "slices"

// State is the global state of the flash orchestrator.
type State string

// Orchestrator states.
const (
	StateIdle       State = "idle"
	StateAssembling State = "assembling"
	StateFlashing   State = "flashing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Running reports whether a flash run is in progress.
func (s State) Running() bool {
	return s == StateAssembling || s == StateFlashing
}

// Session aggregates the operator's choices and the attached devices.
type Session struct {
	// Board is the selected board type.
	Board BoardType `json:"board"`
	// Version is the selected release version.
	Version string `json:"version"`
	// Devices is the latest enumeration, in tool order.
	Devices []Device `json:"devices"`
	// Remembered lists location ids checked before the station restarted.
	// The first enumeration checks the ones still attached, then it is cleared.
	Remembered []string `json:"-"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}

	cloned := *s
	if s.Devices != nil {
		cloned.Devices = make([]Device, len(s.Devices))
		copy(cloned.Devices, s.Devices)
	}

	cloned.Remembered = slices.Clone(s.Remembered)

	return &cloned
}

// RestoreSelection checks the attached devices listed in Remembered and
// forgets the list.
func (s *Session) RestoreSelection() {
	for _, locID := range s.Remembered {
		if d := s.Device(locID); d != nil {
			d.Checked = true
		}
	}

	s.Remembered = nil
}

// Selected returns copies of the checked devices in session order.
func (s *Session) Selected() []Device {
	selected := make([]Device, 0, len(s.Devices))

	for _, d := range s.Devices {
		if d.Checked {
			selected = append(selected, d)
		}
	}

	return selected
}

// Device returns a pointer to the device with the given location id, or nil.
func (s *Session) Device(locID string) *Device {
	for i := range s.Devices {
		if s.Devices[i].LocID == locID {
			return &s.Devices[i]
		}
	}

	return nil
}
