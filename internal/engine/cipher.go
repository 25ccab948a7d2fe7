package engine

import (
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/vaultik/vaultik/internal/config"
	"github.com/vaultik/vaultik/internal/volume"
)

// buildDecryptConfig constructs the keyring/passphrase restore needs to
// open volumes written by buildCipher's encrypting counterpart.
func buildDecryptConfig(cfg *config.SessionConfig) (volume.DecryptConfig, error) {
	c := cfg.Cipher
	var dc volume.DecryptConfig

	if c.PassphraseEnv != "" {
		if pass := os.Getenv(c.PassphraseEnv); pass != "" {
			dc.Passphrase = []byte(pass)
		}
	}

	if c.DecryptKey != "" {
		ent, err := readArmoredEntity(c.DecryptKey)
		if err != nil {
			return dc, fmt.Errorf("engine: decrypt key %s: %w", c.DecryptKey, err)
		}
		dc.KeyRing = openpgp.EntityList{ent}
	}

	if len(dc.Passphrase) == 0 && dc.KeyRing == nil {
		return dc, fmt.Errorf("engine: cipher.passphrase_env or cipher.decrypt_key must be set for restore")
	}
	return dc, nil
}

// buildCipher constructs the volume.Cipher cfg's [cipher] section
// describes: public-key encryption to Recipients (with an optional
// Signer) when any recipients are configured, symmetric encryption from
// an environment-variable passphrase otherwise.
func buildCipher(cfg *config.SessionConfig) (volume.Cipher, error) {
	c := cfg.Cipher

	if len(c.Recipients) == 0 {
		if c.PassphraseEnv == "" {
			return nil, fmt.Errorf("engine: cipher.passphrase_env or cipher.recipients must be set")
		}
		pass := os.Getenv(c.PassphraseEnv)
		if pass == "" {
			return nil, fmt.Errorf("engine: environment variable %s is empty", c.PassphraseEnv)
		}
		return volume.New(volume.Config{Passphrase: []byte(pass)}), nil
	}

	recipients := make([]*openpgp.Entity, 0, len(c.Recipients))
	for _, path := range c.Recipients {
		ent, err := readArmoredEntity(path)
		if err != nil {
			return nil, fmt.Errorf("engine: recipient key %s: %w", path, err)
		}
		recipients = append(recipients, ent)
	}

	var signer *openpgp.Entity
	if c.SignKey != "" {
		ent, err := readArmoredEntity(c.SignKey)
		if err != nil {
			return nil, fmt.Errorf("engine: sign key %s: %w", c.SignKey, err)
		}
		signer = ent
	}

	return volume.New(volume.Config{Recipients: recipients, Signer: signer}), nil
}

func readArmoredEntity(path string) (*openpgp.Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	list, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("reading armored key ring: %w", err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("no keys found in %s", path)
	}
	return list[0], nil
}
