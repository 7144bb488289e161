package main

import (
	"fleetprobe/internal/app"
	"fleetprobe/internal/handlers"
	"fleetprobe/internal/logger"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
)

func main() {
	log := logger.New("main")

	application, err := app.New()
	if err != nil {
		log.Er("failed to initialize application", err)
		os.Exit(1)
	}
	defer func() {
		if err := application.Close(); err != nil {
			log.Er("failed to close application cleanly", err)
		}
	}()

	application.Start()

	fiberApp := fiber.New(fiber.Config{
		AppName:               "fleetprobe",
		DisableStartupMessage: true,
	})

	if err := handlers.Router(fiberApp, application); err != nil {
		log.Er("failed to register routes", err)
		os.Exit(1)
	}

	go func() {
		address := fmt.Sprintf(":%d", application.Config.ServerPort)
		log.Info("listening", "address", address)
		if err := fiberApp.Listen(address); err != nil {
			log.Er("server stopped", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	if err := fiberApp.Shutdown(); err != nil {
		log.Er("failed to shut down server", err)
	}
}
