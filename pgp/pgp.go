// Package pgp implements the decryption backend on top of an OpenPGP secret
// keyring loaded from disk.
package pgp

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"

	"github.com/dhcgn/pgpmime-decrypt/pgpmime"
)

var armorPrefix = []byte("-----BEGIN PGP")

type Options struct {
	// KeyringPath points at a secret keyring, armored or binary.
	KeyringPath string
	// Passphrase unlocks encrypted private keys. Empty means the keys must
	// be stored unprotected.
	Passphrase string
}

// Decryptor decrypts OpenPGP messages against a fixed keyring. It implements
// pgpmime.Decryptor.
type Decryptor struct {
	keyring    openpgp.EntityList
	passphrase []byte
}

var _ pgpmime.Decryptor = (*Decryptor)(nil)

func NewDecryptor(opts Options) (*Decryptor, error) {
	data, err := os.ReadFile(opts.KeyringPath)
	if err != nil {
		return nil, fmt.Errorf("read keyring: %w", err)
	}

	keyring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		keyring, err = openpgp.ReadKeyRing(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("parse keyring %s: %w", opts.KeyringPath, err)
	}

	return &Decryptor{
		keyring:    keyring,
		passphrase: []byte(opts.Passphrase),
	}, nil
}

// Decrypt decrypts ciphertext, unarmoring it first when needed, and returns
// the plaintext bytes.
func (d *Decryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	var r io.Reader = bytes.NewReader(ciphertext)

	if trimmed := bytes.TrimLeft(ciphertext, " \t\r\n"); bytes.HasPrefix(trimmed, armorPrefix) {
		block, err := armor.Decode(bytes.NewReader(trimmed))
		if err != nil {
			return nil, fmt.Errorf("decode armor: %w", err)
		}
		r = block.Body
	}

	// The prompt callback must not loop forever on a wrong passphrase.
	attempted := false
	prompt := func(keys []openpgp.Key, symmetric bool) ([]byte, error) {
		if attempted || len(d.passphrase) == 0 {
			return nil, fmt.Errorf("no usable passphrase for encrypted secret key")
		}
		attempted = true
		return d.passphrase, nil
	}

	md, err := openpgp.ReadMessage(r, d.keyring, prompt, nil)
	if err != nil {
		return nil, err
	}

	plaintext, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, fmt.Errorf("read decrypted body: %w", err)
	}
	return plaintext, nil
}
