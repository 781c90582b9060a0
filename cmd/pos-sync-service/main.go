package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/opsboard_backend/config"
	"bitbucket.org/mmdatafocus/opsboard_backend/middlewares"
	"bitbucket.org/mmdatafocus/opsboard_backend/models"
	"bitbucket.org/mmdatafocus/opsboard_backend/squaresync"
	"bitbucket.org/mmdatafocus/opsboard_backend/utils"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("POS_SYNC_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	engine, err := squaresync.NewEngine()
	if err != nil {
		log.Fatalf("squaresync engine: %v", err)
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(func(c *gin.Context) {
		if c.GetHeader("token") == "" {
			auth := strings.TrimSpace(c.GetHeader("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token := strings.TrimSpace(auth[7:])
				if token != "" {
					c.Request.Header.Set("token", token)
				}
			}
		}
		c.Next()
	})
	r.Use(middlewares.SessionMiddleware())
	r.Use(requestLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/api/auth/login", loginHandler())

	// API endpoints (Square integration)
	r.GET("/api/integrations/square/status", squaresync.StatusHandler())
	r.GET("/api/integrations/square/connect-url", squaresync.ConnectURLHandler(engine))
	r.GET("/api/integrations/square/oauth/callback", squaresync.OAuthCallbackHandler(engine))
	r.GET("/api/integrations/square/locations", squaresync.LocationsHandler(engine))
	r.POST("/api/integrations/square/location", squaresync.SelectLocationHandler(engine))
	r.POST("/api/integrations/square/disconnect", squaresync.DisconnectHandler())
	r.POST("/api/integrations/square/sync", squaresync.TriggerSyncHandler(engine))
	r.GET("/api/integrations/square/sync-runs", squaresync.SyncHistoryHandler())
	r.GET("/api/integrations/square/sync-runs/:id", squaresync.SyncRunDetailHandler())

	// Provider webhook; authenticated by signature, not session.
	r.POST("/webhooks/square", squaresync.WebhookHandler(engine))

	// Pub/Sub push endpoint for the sync worker.
	r.POST("/pubsub/square-sync", squaresync.PubSubPushHandler(engine))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

func loginHandler() gin.HandlerFunc {
	type loginRequest struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}

		ctx := c.Request.Context()
		user, err := models.GetUserByUsername(ctx, req.Username)
		if err != nil || !utils.CheckPasswordHash(req.Password, user.Password) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if user.IsActive == nil || !*user.IsActive {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "account is disabled"})
			return
		}

		token, err := utils.JwtGenerate(user.ID, user.Username, string(user.Role))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
			return
		}

		// Session cache; the JWT itself is the fallback after a redis flush.
		_ = config.SetRedisValue("Token:"+token, user.Username, 24*time.Hour)
		_ = config.SetRedisObject("User:"+user.Username, user, 24*time.Hour)

		resp := gin.H{
			"token": token,
			"user": gin.H{
				"id":          user.ID,
				"username":    user.Username,
				"name":        user.Name,
				"role":        user.Role,
				"business_id": user.BusinessId,
			},
		}
		if user.BusinessId != "" {
			if business, err := models.GetBusinessById(ctx, user.BusinessId); err == nil {
				resp["business_name"] = business.Name
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		fields := logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        latency.String(),
			"correlation_id": cid,
		}
		if userId, ok := utils.GetUserIdFromContext(c.Request.Context()); ok {
			fields["user_id"] = userId
		}
		logger.WithFields(fields).Info("request")
	}
}
