package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/EvaLM99/PictText/internal/api/handlers"
	"github.com/EvaLM99/PictText/internal/api/middleware"
	"github.com/EvaLM99/PictText/internal/config"
	"github.com/EvaLM99/PictText/internal/realtime"
	"github.com/EvaLM99/PictText/internal/services"
	"github.com/EvaLM99/PictText/internal/store"
)

type Router struct {
	engine              *gin.Engine
	authHandler         *handlers.AuthHandler
	messageHandler      *handlers.MessageHandler
	conversationHandler *handlers.ConversationHandler
	presenceHandler     *handlers.PresenceHandler
	wsHandler           *handlers.WSHandler
	rateLimitMW         *middleware.RateLimitMiddleware
	authMW              *middleware.AuthMiddleware
}

func NewRouter(
	cfg *config.Config,
	s store.Store,
	rt *realtime.Router,
	presenceService *services.PresenceService,
	redisClient *redis.Client,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS())
	engine.Use(middleware.LogAPI())

	rateLimitMW := middleware.NewRateLimitMiddleware(services.NewRateLimitService(redisClient))
	authMW := middleware.NewAuthMiddleware(cfg.JWT.Secret)

	return &Router{
		engine:              engine,
		authHandler:         handlers.NewAuthHandler(s, cfg.JWT.Secret, cfg.JWT.ExpirationTime),
		messageHandler:      handlers.NewMessageHandler(s, rt),
		conversationHandler: handlers.NewConversationHandler(s, rt),
		presenceHandler:     handlers.NewPresenceHandler(s, presenceService),
		wsHandler:           handlers.NewWSHandler(rt),
		rateLimitMW:         rateLimitMW,
		authMW:              authMW,
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.engine.Group("/api/v1")

	// Websocket endpoint: the browser API cannot set headers, so the token
	// rides a query parameter.
	api.GET("/ws", r.authMW.RequireWSAuth(), r.wsHandler.Serve)

	auth := api.Group("/")
	auth.Use(r.authMW.RequireAuth())
	auth.Use(r.rateLimitMW.RateLimit(200, time.Minute))
	{
		r.messageHandler.RegisterRoutes(auth)
		r.conversationHandler.RegisterRoutes(auth)
		r.presenceHandler.RegisterRoutes(auth)
	}

	public := api.Group("/")
	public.Use(r.rateLimitMW.RateLimit(50, time.Minute))
	{
		r.authHandler.RegisterRoutes(public)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
