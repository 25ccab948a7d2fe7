// Package robust implements the benign-vs-fatal error classification (C10)
// that lets the diff/patch pipeline skip a single bad record with a warning
// instead of aborting an entire session.
package robust

import (
	"context"
	"errors"
	"syscall"

	"github.com/sethvargo/go-retry"
	"github.com/vaultik/vaultik/internal/pathentry"
)

// benignErrnos is the exact set from §4.8: filesystem errors that indicate
// a single bad record, not a corrupt session.
var benignErrnos = map[syscall.Errno]bool{
	syscall.EPERM:        true,
	syscall.ENOENT:       true,
	syscall.EACCES:       true,
	syscall.EBUSY:        true,
	syscall.EEXIST:       true,
	syscall.ENOTDIR:      true,
	syscall.ENAMETOOLONG: true,
	syscall.EINTR:        true,
	syscall.ENOTEMPTY:    true,
	syscall.EIO:          true,
	syscall.ETXTBSY:      true,
	syscall.ESRCH:        true,
	syscall.EINVAL:       true,
}

// ErrNoValidBasis is the diff/patch pipeline's path_error-class sentinel
// (§7) for a diff record whose base on disk is absent or not a regular
// file: the archive's diff record carries only a delta, not full content,
// so there's nothing to reconstruct from — the same "bad record shape, not
// a corrupt session" condition §7 assigns to path_error, benign like
// pathentry's own sentinels below.
var ErrNoValidBasis = errors.New("robust: no valid basis for diff record")

// IsBenign reports whether err should be handled (skip-and-warn) rather
// than propagated as fatal: a benign errno or a path-model error
// (pathentry.ErrHardLinkUnsupported, pathentry.ErrUnknownType,
// ErrNoValidBasis). An rsync-library failure wrapped by rsyncfilter carries
// neither, so it is not benign and is reported as fatal.
func IsBenign(err error) bool {
	if err == nil {
		return false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && benignErrnos[errno] {
		return true
	}
	if errors.Is(err, pathentry.ErrHardLinkUnsupported) || errors.Is(err, pathentry.ErrUnknownType) {
		return true
	}
	if errors.Is(err, ErrNoValidBasis) {
		return true
	}
	return false
}

// IsEINTR reports whether err is specifically an interrupted-syscall
// failure, the one benign errno that's retried rather than merely skipped.
func IsEINTR(err error) bool {
	var errno syscall.Errno
	return errors.As(err, &errno) && errno == syscall.EINTR
}

// DefaultEINTRAttempts bounds the retry policy for EINTR before it falls
// through to the handler like any other benign error.
const DefaultEINTRAttempts = 5

// RetryEINTR runs fn, retrying it while it fails with EINTR, up to
// DefaultEINTRAttempts times, backed by go-retry's fixed-backoff policy —
// EINTR needs no delay between attempts, just a bound on how many times to
// immediately re-issue the call.
func RetryEINTR(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(DefaultEINTRAttempts, retry.NewConstant(0))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}
		if IsEINTR(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// Handler receives a benign error for one record. It returns nothing: the
// producer skips that record and continues to the next index.
type Handler func(index pathentry.Index, err error)

// Handle classifies err: benign errors go to handler and Handle returns
// nil (the caller should skip this record and continue); fatal errors are
// returned unchanged for the caller to propagate.
func Handle(index pathentry.Index, err error, handler Handler) error {
	if err == nil {
		return nil
	}
	if IsBenign(err) {
		if handler != nil {
			handler(index, err)
		}
		return nil
	}
	return err
}
