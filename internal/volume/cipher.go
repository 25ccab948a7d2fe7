// Package volume implements the volume-splitting writer and its cipher
// sink (C6): an encrypted file that lands as close as possible to a target
// size without exceeding it, built over a block source that can be peeked
// one block ahead.
package volume

import (
	"fmt"
	"io"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"golang.org/x/sync/errgroup"
)

// Cipher is the trait the volume writer encrypts through. Implementations
// must compress before encrypting if they want the writer's top-off trick
// (§4.4 step 5) to behave as designed — top-off re-feeds already-written
// ciphertext, which only holds the target size steady if that ciphertext
// is incompressible.
type Cipher interface {
	// Encrypt returns a reader streaming the encrypted form of plain. The
	// returned reader surfaces any encryption failure as a Read error.
	Encrypt(plain io.Reader) (io.Reader, error)
}

// Config selects symmetric or public-key OpenPGP encryption. Exactly one of
// Passphrase or Recipients should be set.
type Config struct {
	Passphrase []byte // symmetric mode
	Recipients []*openpgp.Entity
	Signer     *openpgp.Entity // optional signer, public-key mode only
	PGPConfig  *packet.Config  // nil selects the library's algorithm defaults
}

// OpenPGPCipher is the one shipped Cipher implementation, built on
// github.com/ProtonMail/go-crypto/openpgp — borrowed from the corpus's
// go-git example, whose own dependency graph needs exactly this package for
// signed-commit verification.
type OpenPGPCipher struct {
	cfg Config
}

// New returns an OpenPGPCipher configured per cfg.
func New(cfg Config) *OpenPGPCipher {
	return &OpenPGPCipher{cfg: cfg}
}

// Encrypt implements Cipher. The plaintext-in/ciphertext-out shape is
// satisfied by the one tolerated background worker (§5): a goroutine owns
// writing plain into the PGP packet writer, the caller reads ciphertext
// from the returned pipe reader, and an errgroup carries the writer's
// error back to the reader instead of leaving it to deadlock silently.
func (c *OpenPGPCipher) Encrypt(plain io.Reader) (io.Reader, error) {
	pr, pw := io.Pipe()
	g := new(errgroup.Group)

	g.Go(func() error {
		sink, err := c.openSink(pw)
		if err != nil {
			closeErr := fmt.Errorf("volume: opening cipher sink: %w", err)
			pw.CloseWithError(closeErr)
			return closeErr
		}

		if _, err := io.Copy(sink, plain); err != nil {
			sink.Close()
			copyErr := fmt.Errorf("volume: encrypting: %w", err)
			pw.CloseWithError(copyErr)
			return copyErr
		}

		if err := sink.Close(); err != nil {
			closeErr := fmt.Errorf("volume: finalizing cipher sink: %w", err)
			pw.CloseWithError(closeErr)
			return closeErr
		}

		return pw.Close()
	})

	return &cipherReader{pr: pr, g: g}, nil
}

func (c *OpenPGPCipher) openSink(w io.Writer) (io.WriteCloser, error) {
	if len(c.cfg.Passphrase) > 0 {
		return openpgp.SymmetricallyEncrypt(w, c.cfg.Passphrase, nil, c.cfg.PGPConfig)
	}
	if len(c.cfg.Recipients) == 0 {
		return nil, fmt.Errorf("volume: cipher config has neither a passphrase nor recipients")
	}
	return openpgp.Encrypt(w, c.cfg.Recipients, c.cfg.Signer, nil, c.cfg.PGPConfig)
}

// cipherReader wraps the pipe reader so that reaching EOF also waits on the
// background worker, surfacing a write-side failure even if it raced with
// a successful-looking final Read.
type cipherReader struct {
	pr     *io.PipeReader
	g      *errgroup.Group
	waited bool
}

func (cr *cipherReader) Read(p []byte) (int, error) {
	n, err := cr.pr.Read(p)
	if err == io.EOF && !cr.waited {
		cr.waited = true
		if gerr := cr.g.Wait(); gerr != nil {
			return n, gerr
		}
	}
	return n, err
}

// DecryptConfig selects how Decrypt opens an encrypted volume: a
// passphrase for symmetric-mode volumes, a keyring holding the recipient's
// secret key for public-key-mode volumes, or both (the prompt callback
// tries the passphrase first and only falls back to the keyring).
type DecryptConfig struct {
	Passphrase []byte
	KeyRing    openpgp.EntityList
	PGPConfig  *packet.Config
}

// Decrypt opens ciphertext for reading as plaintext. The returned
// getSignature func reports the signer's key ID once the stream has been
// read to completion and the signature verified (decrypt-direction's
// get_signature(), per the cipher trait); it returns "" if the volume
// wasn't signed or the signature didn't verify.
func Decrypt(ciphertext io.Reader, cfg DecryptConfig) (plain io.Reader, getSignature func() string, err error) {
	prompted := false
	md, err := openpgp.ReadMessage(ciphertext, cfg.KeyRing, func(_ []openpgp.Key, symmetric bool) ([]byte, error) {
		if !symmetric || prompted || len(cfg.Passphrase) == 0 {
			return nil, fmt.Errorf("volume: no usable decryption key")
		}
		prompted = true
		return cfg.Passphrase, nil
	}, cfg.PGPConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("volume: opening cipher stream: %w", err)
	}

	return md.UnverifiedBody, func() string {
		if md.SignatureError != nil || md.Signature == nil {
			return ""
		}
		return fmt.Sprintf("%X", md.SignedByKeyId)
	}, nil
}
