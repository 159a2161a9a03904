package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

var (
	ErrNotEd25519      = errors.New("key is not of type ED25519")
	ErrKeyNotSupported = errors.New("unsupported key: expected ED25519 in OpenSSH, PKCS#8/PKIX PEM or raw base64 form")
)

// PublicKey is a raw Ed25519 public key. It is comparable and can be used as a map key.
type PublicKey [ed25519.PublicKeySize]byte

func FromEd25519(pub ed25519.PublicKey) (PublicKey, error) {
	var k PublicKey
	if len(pub) != ed25519.PublicKeySize {
		return k, ErrNotEd25519
	}
	copy(k[:], pub)
	return k, nil
}

// KeyID derives the identifier used as `keyid` in HTTP message signatures:
// the standard base64 encoding of the SHA-256 digest of the raw key bytes.
func (k PublicKey) KeyID() string {
	sum := sha256.Sum256(k[:])
	return base64.StdEncoding.EncodeToString(sum[:])
}

func (k PublicKey) Ed25519() ed25519.PublicKey {
	return ed25519.PublicKey(k[:])
}

func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

func (k PublicKey) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParsePublicKey accepts a raw base64 key, an OpenSSH authorized_keys line
// or a PKIX PEM block.
func ParsePublicKey(s string) (PublicKey, error) {
	s = strings.TrimSpace(s)

	if raw, err := base64.StdEncoding.DecodeString(s); err == nil && len(raw) == ed25519.PublicKeySize {
		return FromEd25519(raw)
	}

	if strings.HasPrefix(s, "ssh-") {
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(s))
		if err != nil {
			return PublicKey{}, fmt.Errorf("parse openssh public key: %w", err)
		}
		return fromSSH(pub)
	}

	if block, _ := pem.Decode([]byte(s)); block != nil {
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return PublicKey{}, fmt.Errorf("parse pem public key: %w", err)
		}
		edPub, ok := pub.(ed25519.PublicKey)
		if !ok {
			return PublicKey{}, ErrNotEd25519
		}
		return FromEd25519(edPub)
	}

	return PublicKey{}, ErrKeyNotSupported
}

func fromSSH(pub ssh.PublicKey) (PublicKey, error) {
	cpk, ok := pub.(ssh.CryptoPublicKey)
	if !ok {
		return PublicKey{}, ErrNotEd25519
	}
	edPub, ok := cpk.CryptoPublicKey().(ed25519.PublicKey)
	if !ok {
		return PublicKey{}, ErrNotEd25519
	}
	return FromEd25519(edPub)
}

// ParseSigningKey reads an Ed25519 private key from an OpenSSH private key
// or a PKCS#8 PEM block.
func ParseSigningKey(data []byte) (ed25519.PrivateKey, error) {
	if strings.Contains(string(data), "BEGIN OPENSSH PRIVATE KEY") {
		raw, err := ssh.ParseRawPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse openssh private key: %w", err)
		}
		switch k := raw.(type) {
		case *ed25519.PrivateKey:
			return *k, nil
		case ed25519.PrivateKey:
			return k, nil
		default:
			return nil, ErrNotEd25519
		}
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrKeyNotSupported
	}
	raw, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse pkcs8 private key: %w", err)
	}
	k, ok := raw.(ed25519.PrivateKey)
	if !ok {
		return nil, ErrNotEd25519
	}
	return k, nil
}

func LoadSigningKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key %s: %w", path, err)
	}
	return ParseSigningKey(data)
}

// LoadPublicKey reads a public key file. Private key files are accepted as
// well and the public half is derived.
func LoadPublicKey(path string) (PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PublicKey{}, fmt.Errorf("failed to read key %s: %w", path, err)
	}
	if priv, err := ParseSigningKey(data); err == nil {
		return FromEd25519(priv.Public().(ed25519.PublicKey))
	}
	return ParsePublicKey(string(data))
}

// Public returns the PublicKey of a signing key.
func Public(priv ed25519.PrivateKey) PublicKey {
	k, _ := FromEd25519(priv.Public().(ed25519.PublicKey))
	return k
}
