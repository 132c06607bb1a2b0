package engine

import "errors"

// Staged captures a snapshot before a tentative mutation so the caller can
// commit on success or replay the snapshot on failure. It makes the
// optimistic apply/revert pattern explicit instead of relying on ad hoc
// retained closures.
type Staged[T any] struct {
	// Previous is the snapshot replayed on revert.
	Previous T

	apply  func() error
	revert func(previous T) error
}

// NewStaged builds a staged mutation from a snapshot, the tentative apply,
// and the revert that replays the snapshot.
func NewStaged[T any](previous T, apply func() error, revert func(previous T) error) *Staged[T] {
	return &Staged[T]{Previous: previous, apply: apply, revert: revert}
}

// Apply performs the tentative mutation.
func (s *Staged[T]) Apply() error {
	return s.apply()
}

// CommitOrRevert finishes the staged mutation: a nil err commits (no-op),
// a non-nil err replays the snapshot. The returned error carries both the
// original failure and any revert failure.
func (s *Staged[T]) CommitOrRevert(err error) error {
	if err == nil {
		return nil
	}
	if rerr := s.revert(s.Previous); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}
