package middleware

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeetme/yeet/internal/httpsig"
	"github.com/yeetme/yeet/internal/keys"
)

const (
	CallerKey = "caller_key"

	maxBodyBytes = 8 << 20
)

type RequestVerifier interface {
	Verify(req *http.Request, body []byte) (keys.PublicKey, error)
}

// Signature authenticates the request with its HTTP message signature and
// stores the signing key under CallerKey. The body is restored for the
// handler.
func Signature(verifier RequestVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		key, err := verifier.Verify(c.Request, body)
		if err != nil {
			slog.Warn("Request signature rejected",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP(),
				"error", err)
			c.AbortWithStatusJSON(signatureStatus(err), gin.H{"error": err.Error()})
			return
		}

		c.Set(CallerKey, key)
		c.Next()
	}
}

func signatureStatus(err error) int {
	switch {
	case errors.Is(err, httpsig.ErrMalformedSignature),
		errors.Is(err, httpsig.ErrKeyIDCount):
		return http.StatusBadRequest
	default:
		return http.StatusUnauthorized
	}
}

// Caller returns the key stored by Signature.
func Caller(c *gin.Context) (keys.PublicKey, bool) {
	v, ok := c.Get(CallerKey)
	if !ok {
		return keys.PublicKey{}, false
	}
	key, ok := v.(keys.PublicKey)
	return key, ok
}
