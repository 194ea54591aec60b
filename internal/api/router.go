package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures the runtime API routes
func SetupRoutes(router *gin.RouterGroup, handler *Handler) {
	router.GET("/stats", handler.GetStats)

	// Agent routes
	agents := router.Group("/agents")
	{
		agents.POST("", handler.SpawnAgent)
		agents.GET("", handler.ListAgents)
		agents.GET("/:agentId", handler.GetAgent)
		agents.DELETE("/:agentId", handler.TerminateAgent)
		agents.POST("/:agentId/run", handler.RunAgent)
		agents.POST("/:agentId/pause", handler.PauseAgent)
		agents.POST("/:agentId/resume", handler.ResumeAgent)

		// Capability sub-resources
		agents.GET("/:agentId/capabilities", handler.ListCapabilities)
		agents.POST("/:agentId/capabilities", handler.GrantCapability)
		agents.DELETE("/:agentId/capabilities", handler.RevokeCapabilities)
		agents.GET("/:agentId/capabilities/check", handler.CheckCapability)

		// Memory sub-resources
		agents.GET("/:agentId/memory", handler.ListMemoryKeys)
		agents.PUT("/:agentId/memory", handler.StoreMemory)
		agents.GET("/:agentId/memory/:key", handler.GetMemory)
		agents.DELETE("/:agentId/memory/:key", handler.DeleteMemory)
	}

	// Tool routes
	router.GET("/tools", handler.ListTools)

	// Sandbox routes
	sandboxes := router.Group("/sandbox")
	{
		sandboxes.POST("/execute", handler.ExecuteSandbox)
		sandboxes.GET("/active", handler.ListSandboxes)
	}

	// Messaging routes
	messages := router.Group("/messages")
	{
		messages.POST("/send", handler.SendMessage)
		messages.POST("/broadcast", handler.BroadcastMessage)
		messages.GET("/history/:agentId", handler.MessageHistory)
	}

	// Audit routes
	router.GET("/audit", handler.QueryAudit)
}
