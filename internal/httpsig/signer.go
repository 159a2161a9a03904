package httpsig

import (
	"crypto/ed25519"
	"fmt"
	"net/http"
	"time"

	sfv "github.com/dunglas/httpsfv"

	"github.com/yeetme/yeet/internal/keys"
)

type Signer struct {
	key   ed25519.PrivateKey
	keyID string
	label string
	now   func() time.Time
}

func NewSigner(key ed25519.PrivateKey) *Signer {
	return &Signer{
		key:   key,
		keyID: keys.Public(key).KeyID(),
		label: DefaultLabel,
		now:   time.Now,
	}
}

func (s *Signer) KeyID() string {
	return s.keyID
}

func (s *Signer) PublicKey() keys.PublicKey {
	return keys.Public(s.key)
}

// Sign sets the Date, Content-Digest, Signature-Input and Signature headers
// on req. body must be the exact bytes that will be sent.
func (s *Signer) Sign(req *http.Request, body []byte) error {
	now := s.now()
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", now.UTC().Format(http.TimeFormat))
	}

	digest, err := ContentDigest(body)
	if err != nil {
		return fmt.Errorf("failed to compute content digest: %w", err)
	}
	req.Header.Set(HeaderContentDigest, digest)

	params := signatureParams(CoveredComponents, now.Unix(), s.keyID)
	base, err := signatureBase(req, params)
	if err != nil {
		return err
	}
	sig := ed25519.Sign(s.key, base)

	input := sfv.NewDictionary()
	input.Add(s.label, params)
	inputValue, err := sfv.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal signature input: %w", err)
	}

	sigField := sfv.NewDictionary()
	sigField.Add(s.label, sfv.NewItem(sig))
	sigValue, err := sfv.Marshal(sigField)
	if err != nil {
		return fmt.Errorf("failed to marshal signature: %w", err)
	}

	req.Header.Set(HeaderSignatureInput, inputValue)
	req.Header.Set(HeaderSignature, sigValue)
	return nil
}
