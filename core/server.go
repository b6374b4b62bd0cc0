package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"metaagent/connector"
	"metaagent/lmbridge"
	"metaagent/session"
	"metaagent/stages"
	localtools "metaagent/tools"
)

// Dependencies are the collaborators a Server is built from.
type Dependencies struct {
	Bridge   stages.Completer
	Catalog  *connector.Catalog
	Executor connector.Executor
}

type Server struct {
	manager       *session.Manager
	catalog       *connector.Catalog
	executor      connector.Executor
	store         *SessionStore
	cancelManager *CancelManager
	config        *Config
	logger        *logrus.Logger
	launches      sync.WaitGroup
}

// NewServer creates a server with the connector catalog, the builtin
// connectors and an LLM bridge built from config.
func NewServer(config *Config, logger *logrus.Logger) (*Server, error) {
	logger.Info("Starting server initialization")

	catalog, err := connector.NewCatalog()
	if err != nil {
		return nil, err
	}
	if config.ConnectorsFile != "" {
		catalog, err = connector.LoadCatalog(config.ConnectorsFile)
		if err != nil {
			logger.WithError(err).WithField("file", config.ConnectorsFile).Error("Failed to load connectors")
			return nil, fmt.Errorf("failed to load connectors: %w", err)
		}
	}

	var fallback connector.Executor
	if config.ConnectorBaseURL != "" {
		fallback = connector.NewHTTPExecutor(config.ConnectorBaseURL, config.ConnectorTimeout, logger.WithField("component", "connector"))
		logger.WithField("baseURL", config.ConnectorBaseURL).Info("HTTP connector executor enabled")
	}
	router := connector.NewRouter(fallback)
	if err := localtools.Register(catalog, router, localtools.Builtins()...); err != nil {
		return nil, fmt.Errorf("failed to register builtin connectors: %w", err)
	}
	logger.WithField("connectorCount", catalog.Len()).Info("Connector catalog ready")

	bridge := lmbridge.New(lmbridge.BridgeOptions{
		Resolver: lmbridge.NewResolver(logger.WithField("component", "lmbridge")),
		CostLog:  config.CostLog,
		Logger:   logger.WithField("component", "lmbridge"),
	})

	return NewServerWithDependencies(config, logger, Dependencies{
		Bridge:   bridge,
		Catalog:  catalog,
		Executor: router,
	})
}

// NewServerWithDependencies creates a server around explicit collaborators.
func NewServerWithDependencies(config *Config, logger *logrus.Logger, deps Dependencies) (*Server, error) {
	manager, err := session.NewManager(session.ManagerOptions{
		Bridge: deps.Bridge,
		Logger: logger.WithField("component", "session"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	store := NewSessionStore(config.SessionMaxAge, config.CleanupInterval, config.MaxConcurrentSessions, logger)
	logger.WithField("sessionMaxAge", config.SessionMaxAge).Info("Session store initialized")

	logger.Info("Server initialization completed successfully")
	return &Server{
		manager:       manager,
		catalog:       deps.Catalog,
		executor:      deps.Executor,
		store:         store,
		cancelManager: NewCancelManager(),
		config:        config,
		logger:        logger,
	}, nil
}

// Shutdown cancels every running session and waits for their loops to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	cancelled := s.cancelManager.CancelAll()
	s.logger.WithField("cancelledSessions", cancelled).Info("Stopping sessions")
	defer s.store.Close()

	done := make(chan struct{})
	go func() {
		s.launches.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) requestLogger(c echo.Context, endpoint string) *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"method":   c.Request().Method,
		"clientIP": c.RealIP(),
	})
}

func (s *Server) connection(req CreateSessionRequest) (lmbridge.Connection, error) {
	conn := s.config.Connection()
	if req.Backend != "" {
		kind, err := lmbridge.ParseBackendKind(req.Backend)
		if err != nil {
			return conn, err
		}
		if kind != conn.Kind {
			conn.Kind = kind
			conn.Model = ""
			conn.BaseURL = ""
			if kind == lmbridge.KindOllama {
				conn.BaseURL = s.config.OllamaEndpoint
			}
		}
	}
	if req.Model != "" {
		conn.Model = req.Model
	}
	return conn, nil
}

func (s *Server) handleCreateSession(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/sessions")

	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse request body")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	conn, err := s.connection(req)
	if err != nil {
		requestLogger.WithError(err).Warn("Unsupported backend requested")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := s.store.Reserve(sessionID); err != nil {
		return s.storeError(c, requestLogger, err)
	}

	handler := NewSessionHandler(sessionID, s.catalog, s.executor, s.logger.WithField("sessionID", sessionID), s.config)
	sess, err := s.manager.Start(session.StartOptions{
		Connection:   conn,
		SessionID:    sessionID,
		PlatformInfo: stages.PlatformInfo{Prompt: req.PlatformPrompt},
		UserContext:  req.UserContext,
		Dialogs:      req.Dialogs,
		Delegate:     handler,
	})
	if err != nil {
		requestLogger.WithError(err).Warn("Failed to start session")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	hosted := newHostedSession(sess, handler)
	if err := s.store.Add(hosted); err != nil {
		return s.storeError(c, requestLogger, err)
	}
	if req.Message != "" {
		_ = handler.Deliver(req.Message)
	}
	s.launch(hosted)

	requestLogger.WithFields(logrus.Fields{
		"sessionID": sess.ID(),
		"backend":   conn.Kind,
		"model":     conn.ModelName(),
		"dialogs":   len(req.Dialogs),
	}).Info("Session created")
	return c.JSON(http.StatusCreated, hosted.Info(false))
}

// launch runs the session loop in the background until it ends or is
// cancelled through the cancel manager.
func (s *Server) launch(hosted *HostedSession) {
	id := hosted.Session.ID()
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.config.RequestTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), s.config.RequestTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	s.cancelManager.Add(id, cancel)

	s.launches.Add(1)
	go func() {
		defer s.launches.Done()
		defer cancel()

		err := s.runSession(ctx, hosted)
		s.cancelManager.Remove(id)
		hosted.Finish(err)
		hosted.Handler.broadcast(StreamMessage{Type: "ended", Content: string(hosted.Status())})
		s.logger.WithFields(logrus.Fields{
			"sessionID": id,
			"status":    hosted.Status(),
		}).Info("Session loop exited")
	}()
}

// runSession keeps a panicking session from taking the host down with it.
func (s *Server) runSession(ctx context.Context, hosted *HostedSession) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session panicked: %v", r)
			s.logger.WithField("sessionID", hosted.Session.ID()).WithError(err).Error("Recovered from session panic")
		}
	}()
	return hosted.Session.Launch(ctx)
}

func (s *Server) storeError(c echo.Context, requestLogger *logrus.Entry, err error) error {
	requestLogger.WithError(err).Warn("Session store rejected the request")
	switch {
	case errors.Is(err, errSessionExists):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, errTooManySessions):
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case errors.Is(err, errSessionNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Session not found"})
	case errors.Is(err, errSessionNotActive), errors.Is(err, errInboxFull):
		return c.JSON(http.StatusConflict, ControlResponse{Success: false, Message: err.Error()})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func (s *Server) lookup(c echo.Context) (*HostedSession, error) {
	sessionID := c.Param("sessionId")
	hosted, exists := s.store.Get(sessionID)
	if !exists {
		return nil, errSessionNotFound
	}
	return hosted, nil
}

// handleGetSession returns a session with its transcript and cost.
func (s *Server) handleGetSession(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/sessions/:sessionId").WithField("sessionID", c.Param("sessionId"))

	hosted, err := s.lookup(c)
	if err != nil {
		return s.storeError(c, requestLogger, err)
	}
	info := hosted.Info(true)
	requestLogger.WithField("dialogCount", info.DialogCount).Debug("Session information retrieved")
	return c.JSON(http.StatusOK, info)
}

// handleListSessions returns every stored session without transcripts.
func (s *Server) handleListSessions(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/sessions")

	all := s.store.All()
	infos := make([]SessionInfo, 0, len(all))
	for _, hosted := range all {
		infos = append(infos, hosted.Info(false))
	}

	requestLogger.WithField("sessionCount", len(infos)).Debug("Sessions listed")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": infos,
	})
}

// handleDeleteSession stops a session and removes it from the store.
func (s *Server) handleDeleteSession(c echo.Context) error {
	sessionID := c.Param("sessionId")
	requestLogger := s.requestLogger(c, "/sessions/:sessionId").WithField("sessionID", sessionID)

	stopped := s.cancelManager.Cancel(sessionID)
	if !s.store.Delete(sessionID) {
		return s.storeError(c, requestLogger, errSessionNotFound)
	}

	requestLogger.WithField("stopped", stopped).Info("Session deleted successfully")
	return c.JSON(http.StatusOK, ControlResponse{Success: true, Message: "Session deleted"})
}

// handlePostMessage delivers the next user utterance.
func (s *Server) handlePostMessage(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/sessions/:sessionId/messages").WithField("sessionID", c.Param("sessionId"))

	var req MessageRequest
	if err := c.Bind(&req); err != nil || req.Message == "" {
		requestLogger.Warn("Empty or malformed message")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Message is required"})
	}

	hosted, err := s.lookup(c)
	if err != nil {
		return s.storeError(c, requestLogger, err)
	}
	if hosted.Status() != StatusRunning {
		return s.storeError(c, requestLogger, errSessionNotActive)
	}
	if err := hosted.Handler.Deliver(req.Message); err != nil {
		return s.storeError(c, requestLogger, err)
	}
	hosted.Touch()

	requestLogger.WithField("messageLength", len(req.Message)).Info("User message queued")
	return c.JSON(http.StatusAccepted, ControlResponse{Success: true, Message: "Message queued"})
}

// handleAbort interrupts the current turn without ending the session.
func (s *Server) handleAbort(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/sessions/:sessionId/abort").WithField("sessionID", c.Param("sessionId"))

	hosted, err := s.lookup(c)
	if err != nil {
		return s.storeError(c, requestLogger, err)
	}
	if hosted.Status() != StatusRunning {
		return s.storeError(c, requestLogger, errSessionNotActive)
	}
	hosted.Session.Abort()
	hosted.Touch()

	requestLogger.Info("Current turn aborted")
	return c.JSON(http.StatusOK, ControlResponse{Success: true, Message: "Turn aborted"})
}

func (s *Server) handleListConnectors(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"connectors": s.catalog.Summaries(),
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/status")
	requestLogger.Debug("Health check requested")

	active := s.cancelManager.Active()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"sessions":       s.store.Stats(),
		"connectors":     s.catalog.Len(),
		"activeSessions": active,
		"time":           time.Now().UTC().Format(time.RFC3339),
	})
}

// RegisterRoutes registers all HTTP routes for the server
func (s *Server) RegisterRoutes(e *echo.Echo) {
	s.logger.Info("Registering routes")

	e.GET("/status", s.handleStatus)
	e.GET("/connectors", s.handleListConnectors)

	// Session routes
	e.POST("/sessions", s.handleCreateSession)
	e.GET("/sessions", s.handleListSessions)
	e.GET("/sessions/:sessionId", s.handleGetSession)
	e.DELETE("/sessions/:sessionId", s.handleDeleteSession)
	e.POST("/sessions/:sessionId/messages", s.handlePostMessage)
	e.POST("/sessions/:sessionId/abort", s.handleAbort)
	e.GET("/sessions/:sessionId/ws", s.handleWebSocket)

	s.logger.Info("Routes registered successfully")
}
