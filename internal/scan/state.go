package scan

import (
	"sync"
	"time"
)

// Status messages shown to polling clients.
const (
	MessageReady          = "ready"
	MessageConnecting     = "connecting to feeds..."
	MessageDone           = "done"
	MessageTechnicalError = "technical error"
	MessageCancelled      = "cancelled"
)

// Snapshot is a point-in-time copy of the scan state.
type Snapshot struct {
	IsScanning    bool       `json:"is_scanning"`
	Progress      int        `json:"progress"`
	Message       string     `json:"message"`
	TotalFound    int        `json:"total_found"`
	NewAdded      int        `json:"new_added"`
	LastExecution *time.Time `json:"last_execution"`
}

// State is the process-wide scan state. Only the running scan mutates it,
// through the unexported transitions; everyone else reads snapshots.
type State struct {
	mu sync.RWMutex
	s  Snapshot
}

// NewState returns an idle state.
func NewState() *State {
	return &State{s: Snapshot{Message: MessageReady}}
}

// Snapshot returns a copy of the current state.
func (st *State) Snapshot() Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()

	snap := st.s
	if st.s.LastExecution != nil {
		t := *st.s.LastExecution
		snap.LastExecution = &t
	}
	return snap
}

// tryBegin moves IDLE to RUNNING. It reports false, changing nothing, when a
// run is already in progress.
func (st *State) tryBegin() bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.s.IsScanning {
		return false
	}
	st.s.IsScanning = true
	st.s.Progress = 5
	st.s.NewAdded = 0
	st.s.Message = MessageConnecting
	return true
}

func (st *State) setFound(n int) {
	st.mu.Lock()
	st.s.TotalFound = n
	st.mu.Unlock()
}

// setProgress never moves progress backwards and caps it at 100.
func (st *State) setProgress(p int) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if p > 100 {
		p = 100
	}
	if p > st.s.Progress {
		st.s.Progress = p
	}
}

func (st *State) setMessage(msg string) {
	st.mu.Lock()
	st.s.Message = msg
	st.mu.Unlock()
}

func (st *State) addNew() {
	st.mu.Lock()
	st.s.NewAdded++
	st.mu.Unlock()
}

func (st *State) complete(at time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()

	at = at.UTC()
	st.s.Progress = 100
	st.s.Message = MessageDone
	st.s.LastExecution = &at
}

// fail ends the run's work with msg; last_execution is left untouched.
func (st *State) fail(msg string) {
	st.setMessage(msg)
}

// end releases the single-flight lock.
func (st *State) end() {
	st.mu.Lock()
	st.s.IsScanning = false
	st.mu.Unlock()
}
