package httpsig

import (
	"crypto/ed25519"
	"fmt"
	"net/http"
	"time"

	sfv "github.com/dunglas/httpsfv"

	"github.com/yeetme/yeet/internal/keys"
)

// DefaultMaxSkew bounds how far the signature's created time may be away
// from the verifier's clock.
const DefaultMaxSkew = 5 * time.Minute

// KeyResolver maps a keyid to a registered public key.
type KeyResolver interface {
	KeyByID(keyID string) (keys.PublicKey, bool)
}

type Verifier struct {
	resolver KeyResolver
	maxSkew  time.Duration
	now      func() time.Time
}

func NewVerifier(resolver KeyResolver) *Verifier {
	return &Verifier{
		resolver: resolver,
		maxSkew:  DefaultMaxSkew,
		now:      time.Now,
	}
}

// Verify authenticates req and returns the public key that signed it.
// body must be the complete request body.
func (v *Verifier) Verify(req *http.Request, body []byte) (keys.PublicKey, error) {
	label, params, err := parseSignatureInput(req.Header)
	if err != nil {
		return keys.PublicKey{}, err
	}

	keyID, err := stringParam(params, "keyid")
	if err != nil {
		return keys.PublicKey{}, err
	}
	pub, ok := v.resolver.KeyByID(keyID)
	if !ok {
		return keys.PublicKey{}, ErrUnknownKeyID
	}

	if err := checkComponents(params); err != nil {
		return keys.PublicKey{}, err
	}
	if err := v.checkCreated(params); err != nil {
		return keys.PublicKey{}, err
	}
	if alg, ok := params.Params.Get("alg"); ok && alg != algEd25519 {
		return keys.PublicKey{}, fmt.Errorf("%w: unsupported algorithm %v", ErrInvalidSignature, alg)
	}

	if err := VerifyContentDigest(req.Header, body); err != nil {
		return keys.PublicKey{}, err
	}

	sig, err := signatureValue(req.Header, label)
	if err != nil {
		return keys.PublicKey{}, err
	}
	base, err := signatureBase(req, params)
	if err != nil {
		return keys.PublicKey{}, err
	}
	if !ed25519.Verify(pub.Ed25519(), base, sig) {
		return keys.PublicKey{}, ErrInvalidSignature
	}
	return pub, nil
}

// parseSignatureInput returns the single signature label and its parameters.
func parseSignatureInput(header http.Header) (string, sfv.InnerList, error) {
	values := header.Values(HeaderSignatureInput)
	if len(values) == 0 || len(header.Values(HeaderSignature)) == 0 {
		return "", sfv.InnerList{}, ErrMissingSignature
	}
	dict, err := sfv.UnmarshalDictionary(values)
	if err != nil {
		return "", sfv.InnerList{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	labels := dict.Names()
	if len(labels) != 1 {
		return "", sfv.InnerList{}, ErrKeyIDCount
	}
	member, _ := dict.Get(labels[0])
	params, ok := member.(sfv.InnerList)
	if !ok {
		return "", sfv.InnerList{}, fmt.Errorf("%w: signature input is not an inner list", ErrMalformedSignature)
	}
	if params.Params == nil {
		return "", sfv.InnerList{}, ErrKeyIDCount
	}
	return labels[0], params, nil
}

func stringParam(params sfv.InnerList, name string) (string, error) {
	raw, ok := params.Params.Get(name)
	if !ok {
		if name == "keyid" {
			return "", ErrKeyIDCount
		}
		return "", fmt.Errorf("%w: missing %s parameter", ErrMalformedSignature, name)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s parameter is not a string", ErrMalformedSignature, name)
	}
	return s, nil
}

func checkComponents(params sfv.InnerList) error {
	if len(params.Items) != len(CoveredComponents) {
		return fmt.Errorf("%w: covered components must be %v", ErrInvalidSignature, CoveredComponents)
	}
	seen := make(map[string]bool, len(params.Items))
	for _, item := range params.Items {
		name, ok := item.Value.(string)
		if !ok {
			return fmt.Errorf("%w: component identifier is not a string", ErrMalformedSignature)
		}
		seen[name] = true
	}
	for _, c := range CoveredComponents {
		if !seen[c] {
			return fmt.Errorf("%w: component %s is not covered", ErrInvalidSignature, c)
		}
	}
	return nil
}

func (v *Verifier) checkCreated(params sfv.InnerList) error {
	raw, ok := params.Params.Get("created")
	if !ok {
		return fmt.Errorf("%w: missing created parameter", ErrMalformedSignature)
	}
	created, ok := raw.(int64)
	if !ok {
		return fmt.Errorf("%w: created parameter is not an integer", ErrMalformedSignature)
	}
	skew := v.now().Sub(time.Unix(created, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return ErrSignatureExpired
	}
	return nil
}

func signatureValue(header http.Header, label string) ([]byte, error) {
	dict, err := sfv.UnmarshalDictionary(header.Values(HeaderSignature))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	member, ok := dict.Get(label)
	if !ok {
		return nil, fmt.Errorf("%w: no signature for label %s", ErrMalformedSignature, label)
	}
	item, ok := member.(sfv.Item)
	if !ok {
		return nil, fmt.Errorf("%w: signature is not an item", ErrMalformedSignature)
	}
	sig, ok := item.Value.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: signature is not a byte sequence", ErrMalformedSignature)
	}
	return sig, nil
}
