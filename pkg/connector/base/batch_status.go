package base

import (
	"sync"

	"github.com/ajitpratap0/podsync/pkg/podio"
)

// BatchStatus collects the outcome of one write batch. It satisfies
// podio.WriteStatus.
type BatchStatus struct {
	op       string
	handler  *ErrorHandler
	progress *ProgressReporter

	mu       sync.Mutex
	done     []int64
	outcomes []int64
	failed   int
	errs     []error
}

var _ podio.WriteStatus = (*BatchStatus)(nil)

func newBatchStatus(op string, handler *ErrorHandler, progress *ProgressReporter) *BatchStatus {
	if handler == nil {
		handler = NewErrorHandler(nil, true)
	}
	if progress == nil {
		progress = NewProgressReporter(nil)
	}
	progress.Reset()
	return &BatchStatus{op: op, handler: handler, progress: progress}
}

// Progress forwards batch progress to the reporter.
func (s *BatchStatus) Progress(total, done int) {
	s.progress.ReportProgress(int64(done), int64(total))
}

// ItemDone records a succeeded change and the id it produced.
func (s *BatchStatus) ItemDone(_ podio.Change, id int64) {
	s.mu.Lock()
	s.done = append(s.done, id)
	s.outcomes = append(s.outcomes, id)
	s.mu.Unlock()
}

// ItemFailed applies the failure policy to a failed change.
func (s *BatchStatus) ItemFailed(change podio.Change, err error) {
	s.handler.HandleItemError(s.op, change.ID, err)
	s.mu.Lock()
	s.failed++
	s.errs = append(s.errs, err)
	s.outcomes = append(s.outcomes, 0)
	s.mu.Unlock()
}

// Succeeded returns the ids reported by succeeded changes, in order.
func (s *BatchStatus) Succeeded() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.done))
	copy(out, s.done)
	return out
}

// Positional returns one id per change of a batch of n changes, in order.
// Failed changes and changes never attempted are zero.
func (s *BatchStatus) Positional(n int) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, n)
	copy(out, s.outcomes)
	return out
}

// Failed returns the number of failed changes.
func (s *BatchStatus) Failed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Errors returns the errors of failed changes, in order.
func (s *BatchStatus) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.errs))
	copy(out, s.errs)
	return out
}
