package gamefi

import (
	"sync"
)

// flight is one write being executed by this process
type flight struct {
	payloadHash string
	done        chan struct{}

	mu      sync.Mutex
	record  *PendingWrite
	outcome *WriteOutcome
}

func (f *flight) setRecord(rec *PendingWrite) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record = rec.Clone()
}

func (f *flight) snapshot() *PendingWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record.Clone()
}

// result returns a copy of the outcome; only valid after done is closed
func (f *flight) result() *WriteOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcome == nil {
		return nil
	}
	out := *f.outcome
	return &out
}

// flightStatus is the result of checking the in-flight registry
type flightStatus int

const (
	// flightOwner means the caller must execute the write
	flightOwner flightStatus = iota
	// flightJoined means another caller is executing the same fingerprint
	flightJoined
)

// flights tracks in-process writes so concurrent submissions of the same
// fingerprint share one execution.
type flights struct {
	mu       sync.Mutex
	inFlight map[string]*flight
}

func newFlights() *flights {
	return &flights{inFlight: make(map[string]*flight)}
}

// checkAndMark atomically joins the running flight for fingerprint or
// registers a new one owned by the caller.
func (fs *flights) checkAndMark(fingerprint, payloadHash string) (flightStatus, *flight) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if f, exists := fs.inFlight[fingerprint]; exists {
		return flightJoined, f
	}

	f := &flight{
		payloadHash: payloadHash,
		done:        make(chan struct{}),
	}
	fs.inFlight[fingerprint] = f
	return flightOwner, f
}

// get returns the running flight for fingerprint, if any
func (fs *flights) get(fingerprint string) *flight {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.inFlight[fingerprint]
}

// complete records the outcome, removes the flight and signals waiters
func (fs *flights) complete(fingerprint string, f *flight, outcome *WriteOutcome) {
	f.mu.Lock()
	f.outcome = outcome
	f.mu.Unlock()

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.inFlight[fingerprint] == f {
		delete(fs.inFlight, fingerprint)
	}
	close(f.done)
}
