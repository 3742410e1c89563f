package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"raknet-go/endpoint"
	"raknet-go/internal/clock"
	"raknet-go/pkg/logger"
	"raknet-go/pkg/raknet"
)

const (
	VERSION = "1.0.0"
	AUTHOR  = "raknet-go"
)

func main() {
	logger.Banner("RakNet Transport - Built with Go", VERSION)

	config := loadConfig()

	bus := endpoint.NewBus()
	bus.On(endpoint.EventConnectionCreated, func(ev endpoint.Event) {
		logger.Info("peer %d: session created", ev.PeerID)
	})
	bus.On(endpoint.EventConnectionAccepted, func(ev endpoint.Event) {
		logger.Success("peer %d: handshake complete", ev.PeerID)
	})
	bus.On(endpoint.EventDisconnect, func(ev endpoint.Event) {
		logger.Warn("peer %d: disconnected (%s)", ev.PeerID, ev.Reason)
	})
	bus.On(endpoint.EventGamePacket, func(ev endpoint.Event) {
		logger.Debug("peer %d: %d bytes on the game channel", ev.PeerID, len(ev.Payload))
	})

	ep := endpoint.NewWithBus(endpoint.Config{
		ListenAddr:           fmt.Sprintf("%s:%d", config.Host, config.Port),
		ServerID:             config.ServerID,
		ProtocolVersion:      raknet.ProtocolVersion,
		Clock:                clock.Real(),
		Timers:               clock.DefaultTimers(),
		OfflineRatePerSecond: config.OfflineRatePerSecond,
		OfflineRateBurst:     config.OfflineRateBurst,
	}, bus)

	logger.Info("Transport version: %s", VERSION)
	logger.Info("Listening on %s:%d", config.Host, config.Port)
	logger.Info("Server ID: %d", config.ServerID)
	logger.Info("Protocol version: %d", raknet.ProtocolVersion)
	logger.Success("Configuration loaded successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	errChan := make(chan error, 1)
	go func() {
		if err := ep.ListenAndServe(); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		logger.Fatal("endpoint error: %v", err)
	case sig := <-sigChan:
		logger.Warn("received signal: %v", sig)
		logger.Info("shutting down gracefully...")

		if err := ep.Close(); err != nil {
			logger.Warn("error closing endpoint: %v", err)
		}
		time.Sleep(1 * time.Second)

		logger.Success("transport stopped")
		os.Exit(0)
	}
}

// Config bundles the demo binary's runtime parameters. A real deployment
// would load these from flags or environment variables; this demo ships
// fixed defaults to keep the example self-contained.
type Config struct {
	Host                 string
	Port                 int
	ServerID             uint64
	OfflineRatePerSecond float64
	OfflineRateBurst     int
}

func loadConfig() Config {
	return Config{
		Host:                 "0.0.0.0",
		Port:                 19132,
		ServerID:             1,
		OfflineRatePerSecond: 20,
		OfflineRateBurst:     10,
	}
}
