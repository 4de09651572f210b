package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/hubertat/servicemaker"

	"github.com/hubertat/linekit"
)

var (
	Version string
	Build   string

	configPath  = flag.String("config", "config.json", "path of the configuration file")
	flagInstall = flag.Bool("install", false, "install systemd service")
	flagDebug   = flag.Bool("debug", false, "enable debug logging")

	lkService = servicemaker.ServiceMaker{
		User:               "linekit",
		UserGroups:         []string{"gpio"},
		ServicePath:        "/etc/systemd/system/linekit.service",
		ServiceDescription: "linekit service: GPIO line ownership, control and edge monitoring. github.com/hubertat/linekit",
		ExecDir:            "/srv/linekit",
		ExecName:           "linekit",
	}
)

func main() {
	flag.Parse()

	if *flagDebug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "linekit",
		Level:           log.GetLevel(),
		ReportTimestamp: true,
	})
	logger.Info("linekit started", "version", Version, "build", Build)

	if *flagInstall {
		err := lkService.InstallService()
		if err != nil {
			logger.Fatal("failed to install service", "err", err)
		}
		logger.Info("service installed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kit := &linekit.LineKit{}
	raw, err := os.ReadFile(*configPath)
	if err == nil {
		err = json.Unmarshal(raw, kit)
		if err != nil {
			logger.Fatal("failed to parse config file", "path", *configPath, "err", err)
		}
	} else if os.IsNotExist(err) {
		logger.Warn("config file not found, running on defaults", "path", *configPath)
	} else {
		logger.Fatal("failed to read config file", "path", *configPath, "err", err)
	}

	err = kit.Setup(ctx, logger, Version)
	if err != nil {
		logger.Fatal("setup failed", "err", err)
	}
	defer kit.Shutdown()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-quit
		logger.Info("shutting down", "signal", sig)
		cancel()
	}()

	if len(kit.MqttBroker) > 0 {
		err = kit.InitMqtt(ctx)
		if err != nil {
			logger.Error("mqtt disabled", "err", err)
		}
	}

	go func() {
		err := kit.Supervise(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("supervisor stopped", "err", err)
		}
	}()

	go func() {
		err := kit.StartHTTP(ctx)
		if err != nil {
			logger.Error("http server stopped", "err", err)
			cancel()
		}
	}()

	if len(kit.HkPin) == 8 {
		logger.Info("starting with homekit bridge")
		err = kit.StartHomeKit(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("homekit server stopped", "err", err)
		}
	} else {
		logger.Info("homekit not configured, disabled")
		<-ctx.Done()
	}
}
