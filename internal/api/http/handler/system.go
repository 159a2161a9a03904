package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeetme/yeet/internal/api/http/dto"
	"github.com/yeetme/yeet/internal/hosts"
	"github.com/yeetme/yeet/internal/registry"
)

type ActionRecorder interface {
	RecordAction(action hosts.AgentAction)
}

type SystemHandler struct {
	registry *registry.Registry
	recorder ActionRecorder
}

func NewSystemHandler(reg *registry.Registry, recorder ActionRecorder) *SystemHandler {
	return &SystemHandler{registry: reg, recorder: recorder}
}

// Check records the reported version and answers with the next action.
func (h *SystemHandler) Check(ctx *gin.Context) {
	key, ok := caller(ctx)
	if !ok {
		return
	}
	var req dto.VersionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	action, err := h.registry.SystemCheck(key, req.StorePath)
	if err != nil {
		respondError(ctx, err)
		return
	}
	if h.recorder != nil {
		h.recorder.RecordAction(action)
	}
	ctx.JSON(http.StatusOK, action)
}

func (h *SystemHandler) Register(ctx *gin.Context) {
	key, ok := caller(ctx)
	if !ok {
		return
	}
	var req dto.RegisterHost
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	replaced, err := h.registry.PreRegister(key, req.Name, req.ProvisionState)
	if err != nil {
		respondError(ctx, err)
		return
	}
	if replaced {
		ctx.Status(http.StatusOK)
		return
	}
	ctx.Status(http.StatusCreated)
}

func (h *SystemHandler) Update(ctx *gin.Context) {
	key, ok := caller(ctx)
	if !ok {
		return
	}
	var req dto.HostUpdateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.registry.UpdateHosts(key, req.Hosts, req.PublicKey, req.Substitutor, req.Netrc); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.Status(http.StatusCreated)
}
