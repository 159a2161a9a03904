package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeetme/yeet/internal/api/http/dto"
	"github.com/yeetme/yeet/internal/keys"
	"github.com/yeetme/yeet/internal/registry"
)

type KeyHandler struct {
	registry *registry.Registry
}

func NewKeyHandler(reg *registry.Registry) *KeyHandler {
	return &KeyHandler{registry: reg}
}

func (h *KeyHandler) Add(ctx *gin.Context) {
	key, ok := caller(ctx)
	if !ok {
		return
	}
	var req dto.AddKey
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.registry.AddKey(key, req.Key, req.Level); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.Status(http.StatusCreated)
}

// Remove takes the bare public key as the JSON body.
func (h *KeyHandler) Remove(ctx *gin.Context) {
	key, ok := caller(ctx)
	if !ok {
		return
	}
	var target keys.PublicKey
	if err := ctx.ShouldBindJSON(&target); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.registry.RemoveKey(key, target); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.Status(http.StatusOK)
}
