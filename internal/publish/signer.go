package publish

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/openpgp"
)

// SigningError indicates the signing key material or passphrase is invalid.
// Campaign-fatal: every subsequent signature would fail identically, so the
// publish phase must abort rather than continue per repository.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("commit signing failed: %v", e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// Signer produces armored detached PGP signatures over commit payloads. The
// private key is unlocked once at construction, so a bad passphrase surfaces
// before any pull request is opened. Signing is serialized; the underlying
// entity is not safe for concurrent use.
type Signer struct {
	mu     sync.Mutex
	entity *openpgp.Entity
}

// NewSigner parses the armored private key and unlocks it with passphrase.
func NewSigner(armoredPrivateKey, passphrase string) (*Signer, error) {
	// Key material delivered through environment variables often has its
	// newlines escaped.
	armoredPrivateKey = strings.ReplaceAll(armoredPrivateKey, `\n`, "\n")

	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armoredPrivateKey))
	if err != nil {
		return nil, &SigningError{Err: fmt.Errorf("invalid private key: %w", err)}
	}
	if len(keyring) == 0 {
		return nil, &SigningError{Err: fmt.Errorf("private key ring is empty")}
	}

	entity := keyring[0]
	if entity.PrivateKey == nil {
		return nil, &SigningError{Err: fmt.Errorf("key ring contains no private key")}
	}

	if entity.PrivateKey.Encrypted {
		if err := entity.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
			return nil, &SigningError{Err: fmt.Errorf("wrong passphrase: %w", err)}
		}
	}
	for _, subkey := range entity.Subkeys {
		if subkey.PrivateKey != nil && subkey.PrivateKey.Encrypted {
			if err := subkey.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
				return nil, &SigningError{Err: fmt.Errorf("wrong passphrase for subkey: %w", err)}
			}
		}
	}

	return &Signer{entity: entity}, nil
}

// Sign writes an armored detached signature over message to w. The
// signature matches the shape the commit API expects for signed commits,
// and the function shape satisfies the commit signer callback.
func (s *Signer) Sign(w io.Writer, message io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := openpgp.ArmoredDetachSign(w, s.entity, message, nil); err != nil {
		return &SigningError{Err: err}
	}
	return nil
}
