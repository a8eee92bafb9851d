package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/inkwell-dev/roomsync/internal/coordinator"
	"github.com/inkwell-dev/roomsync/internal/transport"
	"github.com/inkwell-dev/roomsync/pkg/logger"
)

// Config holds all server configuration.
type Config struct {
	Port               string
	CmdQueueSize       int
	OutboundBufferSize int
	WSReadTimeout      time.Duration
	WSWriteTimeout     time.Duration
}

func main() {
	logger.Init()

	config := Config{
		Port:               getEnv("PORT", "3030"),
		CmdQueueSize:       getEnvInt("CMD_QUEUE_SIZE", 4096),
		OutboundBufferSize: getEnvInt("OUTBOUND_BUFFER_SIZE", 16),
		WSReadTimeout:      time.Duration(getEnvInt("WS_READ_TIMEOUT_MINUTES", 30)) * time.Minute,
		WSWriteTimeout:     time.Duration(getEnvInt("WS_WRITE_TIMEOUT_SECONDS", 10)) * time.Second,
	}

	logger.Info("Starting roomsync server...")
	logger.Info("Port: %s", config.Port)
	logger.Info("Command queue size: %d", config.CmdQueueSize)

	coord := coordinator.New(config.CmdQueueSize)
	stop := make(chan struct{})
	go coord.Run(stop)

	handle := coordinator.NewSessionHandle(coord)
	srv := transport.NewServer(handle, transport.Config{
		OutboundBufferSize: config.OutboundBufferSize,
		ReadTimeout:        config.WSReadTimeout,
		WriteTimeout:       config.WSWriteTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down...")
		cancel()
		srv.Shutdown(ctx)
		close(stop)
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%s", config.Port)
	log.Fatal(srv.ListenAndServe(addr))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
