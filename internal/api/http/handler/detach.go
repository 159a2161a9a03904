package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeetme/yeet/internal/api/http/dto"
	"github.com/yeetme/yeet/internal/registry"
)

type DetachHandler struct {
	registry *registry.Registry
}

func NewDetachHandler(reg *registry.Registry) *DetachHandler {
	return &DetachHandler{registry: reg}
}

func (h *DetachHandler) Detach(ctx *gin.Context) {
	key, ok := caller(ctx)
	if !ok {
		return
	}
	var req dto.DetachAction
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var err error
	switch req.Kind {
	case dto.DetachSelf:
		err = h.registry.DetachSelf(key)
	case dto.AttachSelf:
		err = h.registry.AttachSelf(key)
	case dto.DetachHost:
		err = h.registry.DetachHost(key, req.Host)
	case dto.AttachHost:
		err = h.registry.AttachHost(key, req.Host)
	default:
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "unknown detach action"})
		return
	}
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.Status(http.StatusOK)
}

// IsAllowed tells the calling host whether it may detach itself.
func (h *DetachHandler) IsAllowed(ctx *gin.Context) {
	key, ok := caller(ctx)
	if !ok {
		return
	}
	allowed, err := h.registry.IsDetachAllowed(key)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, allowed)
}

func (h *DetachHandler) GlobalAllowed(ctx *gin.Context) {
	key, ok := caller(ctx)
	if !ok {
		return
	}
	allowed, err := h.registry.GlobalDetachPermission(key)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, allowed)
}

func (h *DetachHandler) SetPermission(ctx *gin.Context) {
	key, ok := caller(ctx)
	if !ok {
		return
	}
	var req dto.SetDetachPermission
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var err error
	if req.Global != nil {
		err = h.registry.SetGlobalDetachPermission(key, *req.Global)
	} else {
		err = h.registry.SetDetachPermissions(key, req.PerHost)
	}
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.Status(http.StatusOK)
}
