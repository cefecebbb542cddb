package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"presence/internal/apperr"
	"presence/internal/attendance"
	"presence/internal/auth"
	"presence/internal/config"
	"presence/internal/course"
	"presence/internal/httpmiddleware"
	"presence/internal/logging"
	"presence/internal/queue"
	"presence/internal/renderclient"
	"presence/internal/session"
	"presence/internal/store"
	"presence/internal/token"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := logging.New(cfg.Env)
	defer func() { _ = logger.Sync() }()

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "presence:checkins")
	}

	codec := token.NewCodec(cfg.ScanTokenSecret)
	courses := course.NewRepository(db.Client)
	sessions := session.NewRepository(db.Client)
	records := attendance.NewRepository(db.Client)

	lifecycle := session.NewService(sessions, courses, codec, cfg.ScanTokenTTL, logger)
	validator := attendance.NewValidator(codec, sessions, courses, courses, records, q, logger)
	ledger := attendance.NewLedger(records, courses)

	var renderer *renderclient.Client
	if cfg.RenderServiceURL != "" {
		renderer = renderclient.New(cfg.RenderServiceURL)
		logger.Info("render service configured", zap.String("url", cfg.RenderServiceURL))
	} else {
		logger.Info("render service not configured (RENDER_SERVICE_URL not set)")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Stand-in for the external identity provider so the service runs on its
	// own in dev. Disabled in production.
	if cfg.Env != "production" && cfg.Env != "prod" {
		r.POST("/v1/auth/token", func(c *gin.Context) {
			var req struct {
				Subject string `json:"subject" binding:"required"`
				Role    string `json:"role" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			role, err := auth.ParseRole(req.Role)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			tok, expiresAt, err := auth.Issue(req.Subject, role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
				return
			}
			c.JSON(http.StatusCreated, gin.H{"access_token": tok, "expires_at": expiresAt.Unix()})
		})
	}

	teacherOnly := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleTeacher))

	teacherOnly.POST("/sessions", func(c *gin.Context) {
		var req struct {
			CourseID string `json:"course_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		principal := auth.PrincipalFrom(c)
		sess, err := lifecycle.Open(c.Request.Context(), req.CourseID, principal.ID)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		logger.Info("session opened",
			zap.String("session_id", sess.ID),
			zap.String("course_id", sess.CourseID),
			zap.String("teacher_id", principal.ID))
		c.JSON(http.StatusCreated, gin.H{
			"session_id": sess.ID,
			"token":      sess.Token(),
			"expires_at": sess.TokenExpiresAt,
		})
	})

	teacherOnly.POST("/sessions/:id/rotate", func(c *gin.Context) {
		principal := auth.PrincipalFrom(c)
		tok, expiresAt, err := lifecycle.Rotate(c.Request.Context(), c.Param("id"), principal.ID)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": tok, "expires_at": expiresAt})
	})

	teacherOnly.POST("/sessions/:id/close", func(c *gin.Context) {
		principal := auth.PrincipalFrom(c)
		if err := lifecycle.Close(c.Request.Context(), c.Param("id"), principal.ID); err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{})
	})

	teacherOnly.GET("/sessions/:id/live", func(c *gin.Context) {
		principal := auth.PrincipalFrom(c)
		sess, err := lifecycle.Authorized(c.Request.Context(), c.Param("id"), principal.ID, false)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		count, err := redisClient.LiveCount(c.Request.Context(), sess.ID)
		if err != nil {
			respondError(c, logger, apperr.Wrap(apperr.KindInternal, "live counter", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": sess.ID, "count": count})
	})

	teacherOnly.GET("/sessions/:id/qr", func(c *gin.Context) {
		if !renderer.Configured() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "render service not configured"})
			return
		}
		principal := auth.PrincipalFrom(c)
		sess, err := lifecycle.Authorized(c.Request.Context(), c.Param("id"), principal.ID, false)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		if !sess.Active || sess.Token() == "" {
			respondError(c, logger, apperr.New(apperr.KindSessionClosed, "session has no active code"))
			return
		}
		img, err := renderer.Render(c.Request.Context(), sess.Token())
		if err != nil {
			logger.Error("render failed", zap.String("session_id", sess.ID), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "code rendering failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"image_url":  img.ImageURL,
			"expires_at": sess.TokenExpiresAt,
		})
	})

	staffOnly := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleTeacher, auth.RoleAdmin))

	staffOnly.GET("/sessions/:id/records", func(c *gin.Context) {
		principal := auth.PrincipalFrom(c)
		sess, err := lifecycle.Authorized(c.Request.Context(), c.Param("id"), principal.ID, principal.Role == auth.RoleAdmin)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		recs, err := records.ListBySession(c.Request.Context(), sess.ID)
		if err != nil {
			respondError(c, logger, apperr.Wrap(apperr.KindInternal, "list records", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": sess, "records": recs})
	})

	staffOnly.GET("/courses/:id/stats", func(c *gin.Context) {
		principal := auth.PrincipalFrom(c)
		crs, err := courses.Get(c.Request.Context(), c.Param("id"))
		if errors.Is(err, course.ErrNotFound) {
			respondError(c, logger, apperr.Wrap(apperr.KindNotFound, "course not found", err))
			return
		}
		if err != nil {
			respondError(c, logger, apperr.Wrap(apperr.KindInternal, "load course", err))
			return
		}
		if crs.TeacherID != principal.ID && principal.Role != auth.RoleAdmin {
			respondError(c, logger, apperr.New(apperr.KindForbidden, "course is not yours"))
			return
		}
		stats, err := ledger.CourseStats(c.Request.Context(), crs.ID)
		if err != nil {
			respondError(c, logger, apperr.Wrap(apperr.KindInternal, "course stats", err))
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	studentOnly := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleStudent))

	studentOnly.GET("/courses/:id/absences", func(c *gin.Context) {
		principal := auth.PrincipalFrom(c)
		if _, err := courses.Get(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, logger, apperr.Wrap(apperr.KindNotFound, "course not found", err))
			return
		}
		absences, err := ledger.AbsenceCount(c.Request.Context(), c.Param("id"), principal.ID)
		if err != nil {
			respondError(c, logger, apperr.Wrap(apperr.KindInternal, "absence count", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"course_id": c.Param("id"), "absences": absences})
	})

	studentOnly.POST("/scan", func(c *gin.Context) {
		var req struct {
			Token string `json:"token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		principal := auth.PrincipalFrom(c)
		result, err := validator.SubmitScan(c.Request.Context(), principal.ID, req.Token)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	adminOnly := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleAdmin))

	adminOnly.POST("/courses", func(c *gin.Context) {
		var req struct {
			Code      string `json:"code" binding:"required"`
			Name      string `json:"name" binding:"required"`
			TeacherID string `json:"teacher_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		crs, err := courses.Create(c.Request.Context(), course.Course{
			Code:      req.Code,
			Name:      req.Name,
			TeacherID: req.TeacherID,
		})
		if errors.Is(err, course.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "course code already exists"})
			return
		}
		if err != nil {
			respondError(c, logger, apperr.Wrap(apperr.KindInternal, "create course", err))
			return
		}
		c.JSON(http.StatusCreated, crs)
	})

	adminOnly.POST("/courses/:id/enroll", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, err := courses.Get(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, logger, apperr.Wrap(apperr.KindNotFound, "course not found", err))
			return
		}
		if err := courses.Enroll(c.Request.Context(), c.Param("id"), req.StudentID); err != nil {
			respondError(c, logger, apperr.Wrap(apperr.KindInternal, "enroll student", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{})
	})

	adminOnly.POST("/records/:id/invalidate", func(c *gin.Context) {
		if err := records.Invalidate(c.Request.Context(), c.Param("id")); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				respondError(c, logger, apperr.Wrap(apperr.KindNotFound, "record not found", err))
				return
			}
			respondError(c, logger, apperr.Wrap(apperr.KindInternal, "invalidate record", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}

	logger.Info("server exited")
	return nil
}

// respondError maps application errors to HTTP rejections. Internal causes
// are logged but never echoed to the caller.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(apperr.HTTPStatus(err), gin.H{
		"error": apperr.UserMessage(err),
		"kind":  apperr.KindOf(err),
	})
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
