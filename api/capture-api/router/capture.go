package capture_routers

import (
	"github.com/gin-gonic/gin"

	captureChannelApi "github.com/rapidaai/capture/api/capture-api/api/channel"
	captureHealthApi "github.com/rapidaai/capture/api/capture-api/api/health"
	internal_controller "github.com/rapidaai/capture/api/capture-api/internal/controller"
	"github.com/rapidaai/capture/config"
	"github.com/rapidaai/capture/pkg/commons"
	"github.com/rapidaai/capture/pkg/connectors"
)

func HealthCheckRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger, redis connectors.RedisConnector) {
	logger.Info("Internal HealthCheckRoutes and Connectors added to engine.")
	apiv1 := engine.Group("")
	hcApi := captureHealthApi.New(cfg, logger, redis)
	{
		apiv1.GET("/readiness/", hcApi.Readiness)
		apiv1.GET("/healthz/", hcApi.Healthz)
	}
}

func CaptureRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger, controller *internal_controller.Controller) {
	logger.Info("Capture channel routes added to engine.")
	apiv1 := engine.Group("/v1")
	chApi := captureChannelApi.New(cfg, logger, controller)
	{
		apiv1.GET("/capture/channel", chApi.Connect)
	}
}
