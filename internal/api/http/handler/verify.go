package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeetme/yeet/internal/api/http/dto"
	"github.com/yeetme/yeet/internal/registry"
)

type VerifyHandler struct {
	registry *registry.Registry
}

func NewVerifyHandler(reg *registry.Registry) *VerifyHandler {
	return &VerifyHandler{registry: reg}
}

// IsVerified answers 200 when the signing key belongs to a verified host.
func (h *VerifyHandler) IsVerified(ctx *gin.Context) {
	key, ok := caller(ctx)
	if !ok {
		return
	}
	if !h.registry.IsVerified(key) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": registry.ErrHostNotFound.Error()})
		return
	}
	ctx.Status(http.StatusOK)
}

func (h *VerifyHandler) AddAttempt(ctx *gin.Context) {
	var req dto.VerificationAttempt
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	code, err := h.registry.AddVerificationAttempt(registry.VerificationAttempt{
		Key:         req.Key,
		StorePath:   req.StorePath,
		NixosFacter: req.NixosFacter,
	})
	if err != nil {
		slog.Warn("Verification attempt rejected", "key_id", req.Key.KeyID(), "error", err)
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, code)
}

func (h *VerifyHandler) Accept(ctx *gin.Context) {
	key, ok := caller(ctx)
	if !ok {
		return
	}
	var req dto.VerificationAcceptance
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	artifacts, err := h.registry.AcceptVerification(key, req.Code, req.HostName)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.VerificationArtifacts{NixosFacter: artifacts.NixosFacter})
}

func (h *VerifyHandler) Pending(ctx *gin.Context) {
	key, ok := caller(ctx)
	if !ok {
		return
	}
	attempts, err := h.registry.PendingAttempts(key)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, attempts)
}
