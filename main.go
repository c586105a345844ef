package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/voxbridge/phone-agent/ai"
	"github.com/voxbridge/phone-agent/api"
	"github.com/voxbridge/phone-agent/audio"
	"github.com/voxbridge/phone-agent/config"
	"github.com/voxbridge/phone-agent/dialer"
	"github.com/voxbridge/phone-agent/engine"
	"github.com/voxbridge/phone-agent/logging"
	"github.com/voxbridge/phone-agent/server"
	"github.com/voxbridge/phone-agent/session"
	"github.com/voxbridge/phone-agent/speech"
)

func main() {
	configPath := flag.String("config", "./configs/config.json", "path to config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	log, ring := logging.Setup(slog.LevelInfo)
	log.Info("phone agent starting")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Error("loading config failed", "path", *configPath, "error", err)
		os.Exit(1)
	}

	devices, err := config.LoadDevices(cfg.DevicesFile)
	if err != nil {
		log.Error("loading devices failed", "path", cfg.DevicesFile, "error", err)
		os.Exit(1)
	}
	log.Info("device registry loaded", "devices", devices.Count())

	dg, err := server.NewDiago(cfg)
	if err != nil {
		log.Error("SIP stack init failed", "error", err)
		os.Exit(1)
	}

	bus := session.NewManager(log)
	go logBusEvents(log, bus)

	capture := audio.NewCaptureServer(log, 8000)
	go serveCaptureEndpoint(log, cfg, capture)

	aiClient := ai.NewClient(log, cfg.BackendURL)
	stt := speech.NewHTTPTranscriber(log, cfg.TranscribeURL)
	tts := speech.NewHTTPSynthesizer(log, cfg.SpeechURL)
	player := audio.NewPlayer(log, cfg.SoundsDir)

	eng := engine.New(log, aiClient, stt, tts, player, bus, engine.Config{
		MaxTurns:         cfg.MaxTurns,
		UtteranceTimeout: time.Duration(cfg.UtteranceTimeoutMs) * time.Millisecond,
		QueryTimeout:     time.Duration(cfg.BackendTimeoutMs) * time.Millisecond,
	})

	d := dialer.New(log, dg, dialer.Config{
		OutboundHost: cfg.OutboundHost,
		OutboundPort: cfg.OutboundPort,
		DialPrefix:   cfg.DialPrefix,
		DefaultUser:  cfg.SIPDefaultUser,
		DefaultPass:  cfg.SIPDefaultPass,
	})

	controller := server.NewController(log, cfg, devices, bus, capture, eng, aiClient, d)

	apiServer := api.NewServer(log, bus, controller, devices, ring)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		log.Info("control API listening", "addr", addr)
		if err := apiServer.Router().Run(addr); err != nil {
			log.Error("control API stopped", "error", err)
		}
	}()

	if err := controller.Serve(ctx, dg); err != nil && ctx.Err() == nil {
		log.Error("SIP server stopped", "error", err)
		os.Exit(1)
	}
	log.Info("phone agent stopped")
}

func serveCaptureEndpoint(log *slog.Logger, cfg *config.Config, capture *audio.CaptureServer) {
	mux := http.NewServeMux()
	mux.Handle("/fork", capture.Handler())
	log.Info("capture endpoint listening", "addr", cfg.ForkListenAddress)
	if err := http.ListenAndServe(cfg.ForkListenAddress, mux); err != nil {
		log.Error("capture endpoint stopped", "error", err)
	}
}

func logBusEvents(log *slog.Logger, bus *session.Manager) {
	for ev := range bus.Events() {
		log.Info("lifecycle event", "event", ev.Type, "call_id", ev.CallID)
	}
}
