/*
Package main is the entry point of the meta-agent host.

The host exposes meta-agent sessions through a REST and websocket API built
on the Echo web framework. Initialization steps:
1. Load configuration from environment variables
2. Initialize structured logging
3. Initialize tracing
4. Create the core server with the connector catalog and the LLM bridge
5. Set up HTTP middleware (logging, recovery, CORS)
6. Register API routes
7. Serve until interrupted, then shut sessions and the server down
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"metaagent/core"
	"metaagent/telemetry"
)

const version = "0.1.0"

func main() {
	config := core.LoadConfig()

	logger := core.InitializeLogger(config)
	logger.Info("Starting meta-agent server")

	shutdownTracing, err := telemetry.Init(context.Background(), telemetry.Config{
		Enabled:      config.OTelEnabled,
		OTLPEndpoint: config.OTelEndpoint,
		ServiceName:  config.OTelServiceName,
		Version:      version,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize tracing")
	}

	server, err := core.NewServer(config, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create server")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server.RegisterRoutes(e)

	go func() {
		logger.WithField("port", config.Port).Info("Starting server")
		if err := e.Start(fmt.Sprintf(":%s", config.Port)); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("Sessions did not stop in time")
	}
	if err := e.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Failed to gracefully shutdown server")
	} else {
		logger.Info("Server shutdown complete")
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}
}
