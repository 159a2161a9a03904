package http

import (
	"github.com/gin-gonic/gin"

	"github.com/yeetme/yeet/internal/api/http/handler"
	"github.com/yeetme/yeet/internal/api/http/middleware"
	"github.com/yeetme/yeet/internal/httpsig"
	"github.com/yeetme/yeet/internal/metrics"
	"github.com/yeetme/yeet/internal/registry"
)

type Services struct {
	Registry *registry.Registry
	Metrics  *metrics.Metrics
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	var recorder handler.ActionRecorder
	if srvs.Metrics != nil {
		engine.Use(srvs.Metrics.Middleware())
		engine.GET("/metrics", gin.WrapH(srvs.Metrics.Handler()))
		recorder = srvs.Metrics
	}

	healthHandler := handler.NewHealthHandler()
	engine.GET("/health", healthHandler.Check)

	verifyHandler := handler.NewVerifyHandler(srvs.Registry)
	systemHandler := handler.NewSystemHandler(srvs.Registry, recorder)
	detachHandler := handler.NewDetachHandler(srvs.Registry)
	keyHandler := handler.NewKeyHandler(srvs.Registry)
	hostHandler := handler.NewHostHandler(srvs.Registry)

	// Agents without a registered key ask for admission unsigned.
	engine.POST("/system/verify", verifyHandler.AddAttempt)

	signed := engine.Group("/")
	signed.Use(middleware.Signature(httpsig.NewVerifier(srvs.Registry)))
	{
		signed.GET("/system/verify", verifyHandler.IsVerified)
		signed.POST("/system/verify/accept", verifyHandler.Accept)
		signed.GET("/system/verify/pending", verifyHandler.Pending)

		signed.POST("/system/check", systemHandler.Check)
		signed.POST("/system/register", systemHandler.Register)
		signed.POST("/system/update", systemHandler.Update)

		signed.POST("/system/detach", detachHandler.Detach)
		signed.GET("/system/detach/permission", detachHandler.IsAllowed)
		signed.GET("/system/detach/permission/global", detachHandler.GlobalAllowed)
		signed.POST("/system/detach/permission", detachHandler.SetPermission)

		signed.POST("/key/add", keyHandler.Add)
		signed.POST("/key/remove", keyHandler.Remove)

		signed.POST("/host/remove", hostHandler.Remove)
		signed.POST("/host/rename", hostHandler.Rename)

		signed.GET("/status", hostHandler.Status)
	}
}
