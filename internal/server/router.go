package server

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/webnote/internal/feed"
	"github.com/MarcoPoloResearchLab/webnote/internal/workspaces"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	requestIDHeader          = "X-Request-ID"
	requestIDContextKey      = "webnote_request_id"
	defaultHeartbeatInterval = 25 * time.Second
	defaultNumDates          = 10
)

var errMissingWorkspaceService = errors.New("workspace service dependency required")

//go:embed templates/*.html
var templateFS embed.FS

type Dependencies struct {
	WorkspaceService  *workspaces.Service
	FeedBuilder       *feed.Builder
	Realtime          *RealtimeDispatcher
	RequestIDs        RequestIDProvider
	Logger            *zap.Logger
	BasePath          string
	StaticDir         string
	HelpEmail         string
	NumDates          int
	Debug             int
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.WorkspaceService == nil {
		return nil, errMissingWorkspaceService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	feedBuilder := deps.FeedBuilder
	if feedBuilder == nil {
		feedBuilder = feed.NewBuilder()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	requestIDs := deps.RequestIDs
	if requestIDs == nil {
		requestIDs = NewUUIDRequestIDProvider()
	}
	numDates := deps.NumDates
	if numDates <= 0 {
		numDates = defaultNumDates
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	views, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.SetHTMLTemplate(views)
	router.Use(gin.Recovery())
	router.Use(requestContext(requestIDs, logger))
	router.Use(corsMiddleware())

	handler := &httpHandler{
		workspaces: deps.WorkspaceService,
		feeds:      feedBuilder,
		realtime:   realtime,
		logger:     logger,
		basePath:   deps.BasePath,
		staticDir:  deps.StaticDir,
		helpEmail:  deps.HelpEmail,
		numDates:   numDates,
		debug:      deps.Debug,
		heartbeat:  heartbeat,
	}

	base := router.Group(deps.BasePath)
	base.GET("/", handler.handleIndexRedirect)
	base.GET("/index.html", handler.handleIndex)
	base.GET("/strings.js", handler.handleStrings)
	if deps.StaticDir != "" {
		base.Static("/static", deps.StaticDir)
	}

	for _, path := range []string{"/save", "/save.py"} {
		base.POST(path, handler.handleSave)
	}
	base.GET("/getrecent.py", handler.handleGetRecent)
	base.GET("/getdates.py", handler.handleGetDates)
	base.GET("/:name", handler.handleWorkspace)

	return router, nil
}

type httpHandler struct {
	workspaces *workspaces.Service
	feeds      *feed.Builder
	realtime   *RealtimeDispatcher
	logger     *zap.Logger
	basePath   string
	staticDir  string
	helpEmail  string
	numDates   int
	debug      int
	heartbeat  time.Duration
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Content-Type", requestIDHeader},
		ExposeHeaders:   []string{requestIDHeader},
		MaxAge:          12 * time.Hour,
	})
}

func requestContext(ids RequestIDProvider, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			generated, err := ids.NewID()
			if err != nil {
				logger.Warn("request id generation failed", zap.Error(err))
			}
			requestID = generated
		}
		if requestID != "" {
			c.Set(requestIDContextKey, requestID)
			c.Header(requestIDHeader, requestID)
		}

		started := time.Now()
		c.Next()

		logger.Info("request handled",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(started)))
	}
}

func (h *httpHandler) requestLogger(c *gin.Context) *zap.Logger {
	logger := h.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if requestID := c.GetString(requestIDContextKey); requestID != "" {
		return logger.With(zap.String("request_id", requestID))
	}
	return logger
}
