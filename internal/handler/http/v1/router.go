package v1

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes регистрирует все маршруты API v1
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	// Маршрут Health-check
	api.GET("/system/health", h.healthCheck)

	api.Use(h.authenticate())

	// Сообщить о пожаре можно без аккаунта
	api.POST("/incidents", h.createIncident)

	authorized := api.Group("", h.requireAuth)
	{
		incidents := authorized.Group("/incidents")
		incidents.GET("", h.listIncidents)
		incidents.GET("/:id", h.getIncident)
		incidents.PATCH("/:id/status", h.updateStatus)
		incidents.GET("/:id/updates", h.listStatusUpdates)

		authorized.GET("/dashboard/stats", h.dashboardStats)
	}
}
