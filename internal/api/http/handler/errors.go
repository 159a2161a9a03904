package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeetme/yeet/internal/api/http/middleware"
	"github.com/yeetme/yeet/internal/keys"
	"github.com/yeetme/yeet/internal/registry"
)

func errorStatus(err error) int {
	var notFound *registry.HostsNotFoundError
	switch {
	case errors.Is(err, registry.ErrMissingAdminCredential),
		errors.Is(err, registry.ErrMissingBuildCredential),
		errors.Is(err, registry.ErrDetachNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, registry.ErrHostNotFound):
		return http.StatusNotFound
	case errors.As(err, &notFound),
		errors.Is(err, registry.ErrAttemptNotFound),
		errors.Is(err, registry.ErrPreRegisterNotFound),
		errors.Is(err, registry.ErrKeyPendingVerification),
		errors.Is(err, registry.ErrKeyAlreadyInUse):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrHostAlreadyRegistered):
		return http.StatusConflict
	case errors.Is(err, registry.ErrTooManyVerificationAttempts):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondError(ctx *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "path", ctx.Request.URL.Path, "error", err)
		ctx.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	ctx.JSON(status, gin.H{"error": err.Error()})
}

// caller returns the authenticated key. Routes using it are always mounted
// behind the signature middleware.
func caller(ctx *gin.Context) (keys.PublicKey, bool) {
	key, ok := middleware.Caller(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "request is not authenticated"})
	}
	return key, ok
}
