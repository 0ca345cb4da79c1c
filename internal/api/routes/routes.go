package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/alumitra/advisory/internal/api/handlers"
	"github.com/alumitra/advisory/internal/api/middleware"
)

type Deps struct {
	Chat    *handlers.ChatHandler
	Session *handlers.SessionHandler
	Intake  *handlers.IntakeHandler
	Admin   *handlers.AdminHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// Protected routes (JWT)
	auth := r.Group("/")
	auth.Use(middleware.JWTAuth())

	auth.POST("/chat/ask", d.Chat.Ask)
	auth.POST("/chat/option", d.Chat.AnswerOption)
	auth.GET("/chat/history/:session_id", d.Chat.History)
	auth.GET("/chat/sessions", d.Session.List)

	auth.GET("/task/:task_id/status", d.Chat.TaskStatus)

	auth.GET("/session/:session_id", d.Session.Get)
	auth.POST("/session/:session_id/end", d.Session.End)

	auth.POST("/intake", d.Intake.Create)
	auth.GET("/intake/active", d.Intake.Active)

	admin := auth.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	admin.GET("/quota/:user_id", d.Admin.QuotaStatus)
}
