package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	slogGin "github.com/samber/slog-gin"

	"github.com/casebridge/casesync/internal/version"
)

// maxEventBody bounds inbound payloads; events are small JSON documents.
const maxEventBody = 1 << 20

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// NewRouter builds the webhook daemon's HTTP surface.
func NewRouter(svc *Service, logger *slog.Logger) http.Handler {
	r := gin.New()

	httpLogger := logger.WithGroup("http")
	r.Use(requestID())
	r.Use(slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
		Filters: []slogGin.Filter{
			slogGin.IgnorePath("/healthz"),
		},
	}))
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.BestSpeed))
	r.Use(cors.Default())

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, version.Detailed())
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.PureJSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": version.Short(),
		})
	})

	handle := eventHandler(svc)
	r.POST("/", handle)
	r.POST("/webhook", handle)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return r.Handler()
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
			c.Request.Header.Set("X-Request-ID", id)
		}
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func eventHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}

		ev, err := Decode(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		slog.Info("event received",
			"kind", ev.Kind.String(), "eventType", ev.EventType,
			"projectId", ev.ProjectID, "documentId", ev.DocumentID)

		if ev.Kind == FullSync {
			// full exports take minutes; ack now, work in the background
			go func() {
				if err := svc.Handle(context.Background(), ev); err != nil {
					slog.Error("full sync failed", "projectId", ev.ProjectID, "error", err)
				}
			}()
			c.JSON(http.StatusAccepted, gin.H{"status": "sync started", "projectId": ev.ProjectID})
			return
		}

		if err := svc.Handle(c.Request.Context(), ev); err != nil {
			slog.Error("event handling failed",
				"kind", ev.Kind.String(), "projectId", ev.ProjectID,
				"documentId", ev.DocumentID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
