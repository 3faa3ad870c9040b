// Package engine drives TraceMem over whole datasets: ingestion of
// conversations into memory, card builds per speaker pair and question
// answering. Units of work run on a bounded worker pool and their outcomes
// are collected into reports.
package engine

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultWorkers is the default pool width.
const DefaultWorkers = 5

// Config holds configuration for the engine.
type Config struct {
	// Workers is the number of conversations processed concurrently (default: 5).
	Workers int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Workers: DefaultWorkers}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("Workers must be >= 1, got %d", c.Workers)
	}
	return nil
}

// Failure is a unit of work that did not complete.
type Failure struct {
	Unit string
	Err  error
}

// Report counts the outcome of units of work. It is safe for concurrent use;
// read the fields once the run that fills it has returned.
type Report struct {
	mu        sync.Mutex
	Succeeded int
	Failed    int
	Failures  []Failure
}

// Success records a completed unit.
func (r *Report) Success(unit string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Succeeded++
}

// Fail records a failed unit.
func (r *Report) Fail(unit string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed++
	r.Failures = append(r.Failures, Failure{Unit: unit, Err: err})
}

// Total returns the number of units recorded.
func (r *Report) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Succeeded + r.Failed
}

// Err joins every failure, or returns nil when all units succeeded.
func (r *Report) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = fmt.Errorf("%s: %w", f.Unit, f.Err)
	}
	return errors.Join(errs...)
}

// String summarises the counts.
func (r *Report) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("%d succeeded, %d failed", r.Succeeded, r.Failed)
}
