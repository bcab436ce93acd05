package audit

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// Signer produces ASCII-armored OpenPGP detached signatures over audit archives
// so an exported archive can be proven unmodified after it leaves the database.
type Signer struct {
	entity *openpgp.Entity
}

// NewSigner wraps an entity whose private key is already decrypted.
func NewSigner(entity *openpgp.Entity) (*Signer, error) {
	if entity == nil || entity.PrivateKey == nil {
		return nil, fmt.Errorf("signing entity has no private key")
	}
	if entity.PrivateKey.Encrypted {
		return nil, fmt.Errorf("signing key is encrypted")
	}
	return &Signer{entity: entity}, nil
}

// LoadSigner reads an armored private key from path and decrypts it with
// passphrase when it is protected.
func LoadSigner(path, passphrase string) (*Signer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open signing key: %w", err)
	}
	defer f.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	if len(keyring) == 0 {
		return nil, fmt.Errorf("signing key file contains no keys")
	}

	entity := keyring[0]
	if entity.PrivateKey == nil {
		return nil, fmt.Errorf("signing key file contains no private key")
	}
	if entity.PrivateKey.Encrypted {
		if err := entity.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
			return nil, fmt.Errorf("failed to decrypt signing key: %w", err)
		}
	}
	for _, sub := range entity.Subkeys {
		if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
			if err := sub.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
				return nil, fmt.Errorf("failed to decrypt signing subkey: %w", err)
			}
		}
	}
	return NewSigner(entity)
}

// KeyID returns the signing key id in hex.
func (s *Signer) KeyID() string {
	return s.entity.PrimaryKey.KeyIdString()
}

// Sign returns an armored detached signature of data.
func (s *Signer) Sign(data io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&buf, s.entity, data, nil); err != nil {
		return nil, fmt.Errorf("failed to sign archive: %w", err)
	}
	return buf.Bytes(), nil
}

// VerifySignature checks an armored or binary detached signature of data
// against an armored public key.
func VerifySignature(publicKeyArmored string, data, signature []byte) error {
	if publicKeyArmored == "" {
		return fmt.Errorf("public key cannot be empty")
	}
	if len(signature) == 0 {
		return fmt.Errorf("signature cannot be empty")
	}

	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(publicKeyArmored))
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}

	sig := signature
	if block, err := armor.Decode(bytes.NewReader(signature)); err == nil {
		decoded, err := io.ReadAll(block.Body)
		if err != nil {
			return fmt.Errorf("failed to read armored signature: %w", err)
		}
		sig = decoded
	}

	if _, err := openpgp.CheckDetachedSignature(keyring, bytes.NewReader(data), bytes.NewReader(sig), nil); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}
