package archive

import (
	"errors"
	"fmt"
)

// ErrKeyClosed is returned when a caller writes to a key after Close.
var ErrKeyClosed = errors.New("archive: key is closed")

// DuplicateNameError reports an entry name that already exists somewhere in
// the key's archive, in the active part or any sealed one. It is per-entry
// and non-fatal: the offending entry is rejected and the key stays usable.
type DuplicateNameError struct {
	Key  Key
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("archive %s: entry %q already archived", e.Key, e.Name)
}

// IsDuplicateName reports whether err is a DuplicateNameError.
func IsDuplicateName(err error) bool {
	var dup *DuplicateNameError
	return errors.As(err, &dup)
}

// IndexCorruptionError reports an index whose recorded aggregates disagree
// with its parts, or whose local and remote copies conflict irreconcilably.
// It is never repaired by discarding data; callers must surface it.
type IndexCorruptionError struct {
	Key    Key
	Reason string
}

func (e *IndexCorruptionError) Error() string {
	return fmt.Sprintf("archive %s: index corrupt: %s", e.Key, e.Reason)
}

// IsIndexCorruption reports whether err is an IndexCorruptionError.
func IsIndexCorruption(err error) bool {
	var ic *IndexCorruptionError
	return errors.As(err, &ic)
}

// RemoteError wraps a failed remote operation after retries are exhausted
// (or immediately, for fatal errors such as auth failures).
type RemoteError struct {
	Op       string
	Key      Key
	Attempts int
	Fatal    bool
	Err      error
}

func (e *RemoteError) Error() string {
	kind := "transient"
	if e.Fatal {
		kind = "fatal"
	}
	return fmt.Sprintf("archive %s: remote %s failed (%s, %d attempts): %v",
		e.Key, e.Op, kind, e.Attempts, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}
