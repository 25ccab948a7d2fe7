// Package rsyncfilter adapts github.com/balena-os/librsync-go's
// synchronous, io.Writer-based API into the three stream filters the diff
// pipeline composes: Sig, Delta, and Patch. Each returns an io.Reader backed
// by an io.Pipe fed from a background goroutine, so callers can treat
// signature/delta generation exactly like any other filter stage instead of
// special-casing the library's write-to-completion shape.
package rsyncfilter

import (
	"bytes"
	"fmt"
	"io"

	librsync "github.com/balena-os/librsync-go"
)

// Default block and strong-hash sizes. 2KB blocks keep signature size
// proportionate to typical backup set churn without the variable-size
// tuning librsync supports but this engine doesn't expose.
const (
	DefaultBlockLen  = 2048
	DefaultStrongLen = 8
)

// Sig streams the signature of basis. The returned reader is a serialized
// librsync signature file, suitable for storage and later use as the sig
// argument to Delta.
func Sig(basis io.Reader) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		err := librsync.Signature(basis, pw, DefaultBlockLen, DefaultStrongLen, librsync.BLAKE2_SIG_MAGIC)
		if err != nil {
			err = fmt.Errorf("rsyncfilter: signature: %w", err)
		}
		pw.CloseWithError(err)
	}()
	return pr
}

// Delta streams the delta of newData against a previously computed
// signature stream. sig must be a full, unread signature stream (the format
// Sig produces); it is read to completion before newData streaming begins,
// matching librsync's own two-pass requirement.
func Delta(sig io.Reader, newData io.Reader) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		parsed, err := librsync.ReadSignature(sig)
		if err != nil {
			pw.CloseWithError(fmt.Errorf("rsyncfilter: read signature: %w", err))
			return
		}
		if err := librsync.Delta(parsed, newData, pw); err != nil {
			err = fmt.Errorf("rsyncfilter: delta: %w", err)
		}
		pw.CloseWithError(err)
	}()
	return pr
}

// Patch streams the result of applying delta to basis. basis must support
// seeking: librsync's COPY instructions reference arbitrary offsets into it
// and cannot be satisfied from a forward-only reader, which is why the
// patch pipeline (diffpatch's applyDiff) passes the basis file opened
// directly on disk rather than a stream.
func Patch(basis io.ReadSeeker, delta io.Reader) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		err := librsync.Patch(basis, delta, pw)
		if err != nil {
			err = fmt.Errorf("rsyncfilter: patch: %w", err)
		}
		pw.CloseWithError(err)
	}()
	return pr
}

// SigWriter incrementally feeds bytes written through it into a signature
// computation while also passing them to an underlying writer unmodified —
// a "tee" filter that signs bytes in the same pass that spools them. The
// backup engine does not use it: it signs changed files in a second read
// (engine's writeNextSignature).
type SigWriter struct {
	under  io.Writer
	pw     *io.PipeWriter
	result chan sigResult
}

type sigResult struct {
	buf []byte
	err error
}

// NewSigWriter returns a SigWriter that mirrors writes to under and signs
// them. Call Close to finish, then Signature to retrieve the computed
// signature bytes.
func NewSigWriter(under io.Writer) *SigWriter {
	pr, pw := io.Pipe()
	result := make(chan sigResult, 1)

	go func() {
		var buf bytes.Buffer
		err := librsync.Signature(pr, &buf, DefaultBlockLen, DefaultStrongLen, librsync.BLAKE2_SIG_MAGIC)
		if err != nil {
			err = fmt.Errorf("rsyncfilter: signature: %w", err)
		}
		result <- sigResult{buf: buf.Bytes(), err: err}
	}()

	return &SigWriter{under: under, pw: pw, result: result}
}

// Write mirrors p to the underlying writer and the signature pipe.
func (s *SigWriter) Write(p []byte) (int, error) {
	n, err := s.under.Write(p)
	if err != nil {
		return n, err
	}
	if _, werr := s.pw.Write(p); werr != nil {
		return n, fmt.Errorf("rsyncfilter: sig tee: %w", werr)
	}
	return n, nil
}

// Close signals end of input to the signature computation and returns the
// completed signature bytes.
func (s *SigWriter) Close() ([]byte, error) {
	if err := s.pw.Close(); err != nil {
		return nil, err
	}
	r := <-s.result
	return r.buf, r.err
}
