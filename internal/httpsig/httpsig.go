// Package httpsig implements the subset of HTTP Message Signatures (RFC 9421)
// and Content-Digest (RFC 9530) used between yeet agents and the server.
//
// Every request covers the fixed component set ("date" "@path" "@method"
// "content-digest") and is signed with Ed25519. The signature carries exactly
// one keyid, which is resolved to a public key by the verifier.
package httpsig

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sfv "github.com/dunglas/httpsfv"
)

const (
	HeaderSignature      = "Signature"
	HeaderSignatureInput = "Signature-Input"
	HeaderContentDigest  = "Content-Digest"

	DefaultLabel = "sig1"
	algEd25519   = "ed25519"
	digestSHA256 = "sha-256"
)

// CoveredComponents is the component set every signature must cover.
var CoveredComponents = []string{"date", "@path", "@method", "content-digest"}

var (
	ErrMissingSignature   = errors.New("request carries no message signature")
	ErrMalformedSignature = errors.New("malformed message signature")
	ErrKeyIDCount         = errors.New("message signature must carry exactly one keyid")
	ErrUnknownKeyID       = errors.New("the keyid is not registered")
	ErrDigestMismatch     = errors.New("content digest does not match the request body")
	ErrInvalidSignature   = errors.New("invalid message signature")
	ErrSignatureExpired   = errors.New("message signature is outside the accepted time window")
)

// ContentDigest returns the Content-Digest header value for body.
func ContentDigest(body []byte) (string, error) {
	sum := sha256.Sum256(body)
	dict := sfv.NewDictionary()
	dict.Add(digestSHA256, sfv.NewItem(sum[:]))
	return sfv.Marshal(dict)
}

// VerifyContentDigest checks the sha-256 member of the Content-Digest header
// against body.
func VerifyContentDigest(header http.Header, body []byte) error {
	values := header.Values(HeaderContentDigest)
	if len(values) == 0 {
		return fmt.Errorf("%w: missing %s header", ErrDigestMismatch, HeaderContentDigest)
	}
	dict, err := sfv.UnmarshalDictionary(values)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	member, ok := dict.Get(digestSHA256)
	if !ok {
		return fmt.Errorf("%w: no %s digest", ErrDigestMismatch, digestSHA256)
	}
	item, ok := member.(sfv.Item)
	if !ok {
		return fmt.Errorf("%w: digest is not an item", ErrMalformedSignature)
	}
	got, ok := item.Value.([]byte)
	if !ok {
		return fmt.Errorf("%w: digest is not a byte sequence", ErrMalformedSignature)
	}
	want := sha256.Sum256(body)
	if subtle.ConstantTimeCompare(got, want[:]) != 1 {
		return ErrDigestMismatch
	}
	return nil
}

// signatureParams builds the inner list describing the covered components
// and metadata of a signature.
func signatureParams(components []string, created int64, keyID string) sfv.InnerList {
	items := make([]sfv.Item, 0, len(components))
	for _, c := range components {
		items = append(items, sfv.NewItem(c))
	}
	params := sfv.NewParams()
	params.Add("created", created)
	params.Add("keyid", keyID)
	params.Add("alg", algEd25519)
	return sfv.InnerList{Items: items, Params: params}
}

// signatureBase assembles the bytes that are signed for req.
func signatureBase(req *http.Request, params sfv.InnerList) ([]byte, error) {
	var b strings.Builder
	for _, item := range params.Items {
		name, ok := item.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: component identifier is not a string", ErrMalformedSignature)
		}
		value, err := componentValue(req, name)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "%q: %s\n", name, value)
	}
	serialized, err := sfv.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	fmt.Fprintf(&b, "%q: %s", "@signature-params", serialized)
	return []byte(b.String()), nil
}

func componentValue(req *http.Request, name string) (string, error) {
	switch name {
	case "@method":
		return strings.ToUpper(req.Method), nil
	case "@path":
		p := req.URL.EscapedPath()
		if p == "" {
			p = "/"
		}
		return p, nil
	default:
		if strings.HasPrefix(name, "@") {
			return "", fmt.Errorf("%w: unsupported derived component %s", ErrMalformedSignature, name)
		}
		values := req.Header.Values(name)
		if len(values) == 0 {
			return "", fmt.Errorf("%w: covered header %s is missing", ErrMalformedSignature, name)
		}
		trimmed := make([]string, len(values))
		for i, v := range values {
			trimmed[i] = strings.TrimSpace(v)
		}
		return strings.Join(trimmed, ", "), nil
	}
}
