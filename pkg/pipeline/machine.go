// Package pipeline drives the capture-to-upload flow and owns the only
// mutable, externally observed entity: the upload state machine.
package pipeline

import (
	"sync"

	"github.com/photoprep/photoprep/pkg/geometry"
	"github.com/photoprep/photoprep/pkg/upload"
)

// Status is the UI-facing stage of a session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusSelecting  Status = "selecting"
	StatusCropping   Status = "cropping"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Asset is a selected input file. Immutable once handed to the session.
type Asset struct {
	Data     []byte
	FileName string
	MIMEType string
}

// State is a point-in-time snapshot of the session. Everything in it is
// immutable from the reader's perspective.
type State struct {
	Status          Status
	ProgressPercent int
	CurrentStep     string

	SelectedAsset *Asset
	Corners       geometry.Quad
	BoundaryFound bool
	Confidence    float64

	CorrectedAsset []byte
	UploadResult   *upload.Result
	Err            error
}

// Observer receives a snapshot after every state change. It is called outside
// the machine's lock, so it may call Snapshot or other read paths freely.
type Observer func(State)

// Machine holds the mutable state. Progress is monotonically non-decreasing
// within one upload attempt; it returns to zero only on a fresh attempt or an
// explicit reset.
type Machine struct {
	mu       sync.Mutex
	state    State
	observer Observer
}

func NewMachine(observer Observer) *Machine {
	return &Machine{
		state:    State{Status: StatusIdle},
		observer: observer,
	}
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) apply(mutate func(*State)) {
	m.mu.Lock()
	mutate(&m.state)
	snapshot := m.state
	observer := m.observer
	m.mu.Unlock()

	if observer != nil {
		observer(snapshot)
	}
}

// Reset returns unconditionally to idle with all transient fields cleared.
func (m *Machine) Reset() {
	m.apply(func(s *State) {
		*s = State{Status: StatusIdle}
	})
}

func (m *Machine) toSelecting(asset *Asset) {
	m.apply(func(s *State) {
		*s = State{
			Status:        StatusSelecting,
			CurrentStep:   "validating file",
			SelectedAsset: asset,
		}
	})
}

func (m *Machine) toCropping(quad geometry.Quad, found bool, confidence float64) {
	m.apply(func(s *State) {
		s.Status = StatusCropping
		s.CurrentStep = "adjust corners"
		s.Corners = quad
		s.BoundaryFound = found
		s.Confidence = confidence
		s.ProgressPercent = 0
		s.Err = nil
	})
}

func (m *Machine) setCorners(quad geometry.Quad) {
	m.apply(func(s *State) {
		s.Corners = quad
	})
}

func (m *Machine) toUploading(step string) {
	m.apply(func(s *State) {
		s.Status = StatusUploading
		s.CurrentStep = step
		s.ProgressPercent = 0
		s.Err = nil
		s.UploadResult = nil
	})
}

func (m *Machine) setStep(step string) {
	m.apply(func(s *State) {
		s.CurrentStep = step
	})
}

func (m *Machine) setCorrected(data []byte) {
	m.apply(func(s *State) {
		s.CorrectedAsset = data
	})
}

// setProgress ignores regressions so progress never moves backwards within an
// attempt.
func (m *Machine) setProgress(percent int) {
	m.apply(func(s *State) {
		if percent > 100 {
			percent = 100
		}
		if percent > s.ProgressPercent {
			s.ProgressPercent = percent
		}
	})
}

// beginAttempt starts a fresh upload attempt, the one place progress may drop.
func (m *Machine) beginAttempt() {
	m.apply(func(s *State) {
		s.ProgressPercent = 0
	})
}

func (m *Machine) toProcessing(result *upload.Result) {
	m.apply(func(s *State) {
		s.Status = StatusProcessing
		s.CurrentStep = "waiting for remote processing"
		s.UploadResult = result
	})
}

func (m *Machine) toComplete(result *upload.Result) {
	m.apply(func(s *State) {
		s.Status = StatusComplete
		s.CurrentStep = "done"
		s.ProgressPercent = 100
		s.UploadResult = result
		s.Err = nil
	})
}

func (m *Machine) fail(err error) {
	m.apply(func(s *State) {
		s.Status = StatusError
		s.CurrentStep = "failed"
		s.Err = err
	})
}
