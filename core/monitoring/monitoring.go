package monitoring

import (
	"fmt"
	"sync"
	"time"
)

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	// CapturePanic reports a value obtained from recover().
	CapturePanic(v any, tags map[string]string)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) CapturePanic(any, map[string]string)       {}
func (NopMonitor) Flush(time.Duration)                       {}

var (
	mu      sync.RWMutex
	current Monitor = NopMonitor{}
)

// Init sets the global monitor implementation.
func Init(m Monitor) {
	if m == nil {
		return
	}
	mu.Lock()
	current = m
	mu.Unlock()
}

func get() Monitor {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// CaptureException records the error with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	get().CaptureException(err, tags)
}

// Violation reports a broken invariant detected by a component. The error is
// still returned to the caller; reporting only makes it visible.
func Violation(component string, err error) {
	CaptureException(err, map[string]string{"component": component, "kind": "invariant"})
}

// Guard reports and re-panics a panic raised in the calling goroutine. Use it
// as `defer monitoring.Guard("actor", id)`.
func Guard(component, id string) {
	if r := recover(); r != nil {
		m := get()
		m.CapturePanic(r, map[string]string{"component": component, "id": id})
		m.Flush(2 * time.Second)
		panic(r)
	}
}

// Flush flushes buffered events.
func Flush(d time.Duration) {
	get().Flush(d)
}

// Recorder keeps captured errors in memory.
type Recorder struct {
	mu     sync.Mutex
	Errors []error
	Tags   []map[string]string
}

func (r *Recorder) CaptureException(err error, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, err)
	r.Tags = append(r.Tags, tags)
}

func (r *Recorder) CapturePanic(v any, tags map[string]string) {
	r.CaptureException(fmt.Errorf("panic: %v", v), tags)
}

func (r *Recorder) Flush(time.Duration) {}

// Len returns the number of captured errors.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Errors)
}
