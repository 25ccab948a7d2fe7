package volume

import (
	"fmt"
	"io"
	"os"
)

// Default sizing constants from §4.4. TargetSize is deliberately
// conservative relative to typical transport chunk limits; Fudge and
// FooterReserve are design values carried over from the source algorithm
// rather than derived from any hard constraint.
const (
	DefaultTargetSize    int64 = 50 * 1024 * 1024
	DefaultFudge         int64 = 18 * 1024
	DefaultFooterReserve int64 = 16 * 1024
)

// Writer splits one or more BlockSources across a sequence of encrypted
// volume files, each landing as close to TargetSize as possible without
// exceeding it.
type Writer struct {
	Cipher        Cipher
	TargetSize    int64
	Fudge         int64
	FooterReserve int64
}

// NewWriter returns a Writer with the §4.4 default sizing.
func NewWriter(cipher Cipher) *Writer {
	return &Writer{
		Cipher:        cipher,
		TargetSize:    DefaultTargetSize,
		Fudge:         DefaultFudge,
		FooterReserve: DefaultFooterReserve,
	}
}

// WriteVolume drains src into dst (already open for writing) until either
// src is exhausted or the target size is reached, implementing §4.4 steps
// 1-6. It returns done=true when src had no more blocks left afterward
// (the footer was written and the caller should not open another volume).
func (w *Writer) WriteVolume(dst *os.File, src *BlockSource) (done bool, err error) {
	checkSize := w.TargetSize - w.Fudge - w.FooterReserve
	if checkSize <= 0 {
		return false, fmt.Errorf("volume: target size %d too small for fudge %d + footer reserve %d", w.TargetSize, w.Fudge, w.FooterReserve)
	}

	plainR, plainW := io.Pipe()
	cipherErrCh := make(chan error, 1)
	go func() {
		cipherErrCh <- w.pumpCipher(dst, plainR)
	}()

	written := int64(0) // plaintext bytes fed to the cipher this volume
	for {
		block, ok, perr := src.Peek()
		if perr != nil {
			plainW.CloseWithError(perr)
			<-cipherErrCh
			return false, fmt.Errorf("volume: peek: %w", perr)
		}
		if !ok {
			break
		}
		if written+int64(len(block)) > checkSize {
			break
		}
		if _, err := src.Next(); err != nil {
			plainW.CloseWithError(err)
			<-cipherErrCh
			return false, fmt.Errorf("volume: next: %w", err)
		}
		if _, err := plainW.Write(block); err != nil {
			<-cipherErrCh
			return false, fmt.Errorf("volume: writing plaintext: %w", err)
		}
		written += int64(len(block))
	}

	_, moreBlocks, err := src.Peek()
	if err != nil {
		plainW.CloseWithError(err)
		<-cipherErrCh
		return false, fmt.Errorf("volume: peek after fill: %w", err)
	}

	if !moreBlocks {
		footer, err := src.Footer()
		if err != nil {
			plainW.CloseWithError(err)
			<-cipherErrCh
			return false, err
		}
		if _, err := plainW.Write(footer); err != nil {
			<-cipherErrCh
			return false, fmt.Errorf("volume: writing footer: %w", err)
		}
	}

	if err := plainW.Close(); err != nil {
		<-cipherErrCh
		return false, fmt.Errorf("volume: closing plaintext pipe: %w", err)
	}
	if err := <-cipherErrCh; err != nil {
		return false, err
	}

	if moreBlocks {
		if err := w.topOff(dst); err != nil {
			return false, err
		}
		return false, nil
	}

	return true, nil
}

// pumpCipher encrypts everything read from plain and appends it to dst.
func (w *Writer) pumpCipher(dst *os.File, plain io.Reader) error {
	cipherR, err := w.Cipher.Encrypt(plain)
	if err != nil {
		return fmt.Errorf("volume: opening cipher: %w", err)
	}
	if _, err := io.Copy(dst, cipherR); err != nil {
		return fmt.Errorf("volume: copying ciphertext: %w", err)
	}
	return nil
}

// topOff implements §4.4 step 5: when blocks remain but the volume is
// short of TargetSize - Fudge, re-feed the already-written ciphertext
// prefix back through the cipher until the target is reached. This only
// keeps the file size steady because ciphertext is assumed incompressible;
// feeding it back through a compressing cipher would shrink, not grow, the
// file, defeating the trick.
func (w *Writer) topOff(dst *os.File) error {
	limit := w.TargetSize - w.Fudge

	for {
		info, err := dst.Stat()
		if err != nil {
			return fmt.Errorf("volume: stat during top-off: %w", err)
		}
		if info.Size() >= limit {
			return nil
		}

		prefixLen := info.Size()
		if prefixLen > limit-info.Size() {
			prefixLen = limit - info.Size()
		}
		if prefixLen <= 0 {
			return nil
		}

		prefix := make([]byte, prefixLen)
		if _, err := dst.ReadAt(prefix, 0); err != nil {
			return fmt.Errorf("volume: reading ciphertext prefix during top-off: %w", err)
		}

		plainR, plainW := io.Pipe()
		errCh := make(chan error, 1)
		go func() { errCh <- w.pumpCipher(dst, plainR) }()

		if _, err := plainW.Write(prefix); err != nil {
			<-errCh
			return fmt.Errorf("volume: top-off write: %w", err)
		}
		if err := plainW.Close(); err != nil {
			<-errCh
			return err
		}
		if err := <-errCh; err != nil {
			return err
		}
	}
}
