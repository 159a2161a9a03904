package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeetme/yeet/internal/api/http/dto"
	"github.com/yeetme/yeet/internal/registry"
)

type HostHandler struct {
	registry *registry.Registry
}

func NewHostHandler(reg *registry.Registry) *HostHandler {
	return &HostHandler{registry: reg}
}

func (h *HostHandler) Status(ctx *gin.Context) {
	key, ok := caller(ctx)
	if !ok {
		return
	}
	all, err := h.registry.Status(key)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, all)
}

func (h *HostHandler) Remove(ctx *gin.Context) {
	key, ok := caller(ctx)
	if !ok {
		return
	}
	var req dto.HostRemoveRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	removed, err := h.registry.RemoveHost(key, req.Hostname)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, removed)
}

func (h *HostHandler) Rename(ctx *gin.Context) {
	key, ok := caller(ctx)
	if !ok {
		return
	}
	var req dto.HostRenameRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.registry.RenameHost(key, req.OldName, req.NewName); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.Status(http.StatusOK)
}
