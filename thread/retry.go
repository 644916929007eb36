package thread

import "fmt"

// WarnFunc reports a non-fatal persistence failure so the caller can surface
// it as a Warn event without aborting the run.
type WarnFunc func(message string)

// RetryingStore wraps a Store so persistence failures are retried once and,
// if still failing, reported through warn rather than returned: "persistence
// errors are retried once then surfaced as Warn events; the in-memory log
// remains authoritative for the current run."
type RetryingStore struct {
	inner Store
	warn  WarnFunc
}

// NewRetryingStore wraps inner with retry-once-then-warn semantics. warn may
// be nil, in which case a failed retry is silently absorbed.
func NewRetryingStore(inner Store, warn WarnFunc) *RetryingStore {
	return &RetryingStore{inner: inner, warn: warn}
}

// Save attempts inner.Save, retries once on failure, and reports a final
// failure via warn instead of returning it.
func (s *RetryingStore) Save(t *Thread) error {
	if err := s.inner.Save(t); err == nil {
		return nil
	}
	if err := s.inner.Save(t); err != nil {
		s.report(fmt.Sprintf("failed to persist thread %s: %v", t.ID(), err))
	}
	return nil
}

// Load delegates to inner without retry: a failed load has no in-memory
// fallback to fall back to, so the caller must see the error.
func (s *RetryingStore) Load(id string) (*Thread, error) {
	return s.inner.Load(id)
}

// Delete attempts inner.Delete, retries once on failure, and reports a final
// failure via warn instead of returning it.
func (s *RetryingStore) Delete(id string) error {
	if err := s.inner.Delete(id); err == nil {
		return nil
	}
	if err := s.inner.Delete(id); err != nil {
		s.report(fmt.Sprintf("failed to delete thread %s: %v", id, err))
	}
	return nil
}

func (s *RetryingStore) report(message string) {
	if s.warn != nil {
		s.warn(message)
	}
}
