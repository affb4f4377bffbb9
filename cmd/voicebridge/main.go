// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Command voicebridge runs the call-session engine: it loads
// configuration, builds the configured carrier adapter, wires the
// session engine, and serves the webhook + media-stream HTTP
// endpoints alongside the stdio MCP tool dispatcher the upstream
// coding-assistant drives.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rapidaai/voicebridge/internal/config"
	"github.com/rapidaai/voicebridge/internal/dispatcher"
	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/mediastream"
	"github.com/rapidaai/voicebridge/internal/session"
	sttpkg "github.com/rapidaai/voicebridge/internal/stt"
	sttdeepgram "github.com/rapidaai/voicebridge/internal/stt/deepgram"
	"github.com/rapidaai/voicebridge/internal/telephony"
	"github.com/rapidaai/voicebridge/internal/telephony/telnyx"
	"github.com/rapidaai/voicebridge/internal/telephony/twilio"
	ttspkg "github.com/rapidaai/voicebridge/internal/tts"
	ttsdeepgram "github.com/rapidaai/voicebridge/internal/tts/deepgram"
	"github.com/rapidaai/voicebridge/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	carrier, err := buildCarrier(logger, cfg)
	if err != nil {
		return err
	}

	mediaStreamURL, err := url.Parse(fmt.Sprintf("wss://%s/media-stream", hostOf(cfg.PublicBaseURL)))
	if err != nil {
		return fmt.Errorf("voicebridge: invalid public_base_url: %w", err)
	}

	manager := session.NewManager()
	engine := session.NewEngine(logger, manager, carrier,
		func() sttpkg.Session {
			return sttdeepgram.New(logger, sttdeepgram.Config{
				APIKey:                cfg.DeepgramKey,
				Model:                 cfg.STTModel,
				SampleRate:            8000,
				EndOfUtteranceSilence: fmt.Sprintf("%d", cfg.EndOfUtteranceSilence.Milliseconds()),
			})
		},
		func() ttspkg.Client {
			return ttsdeepgram.New(logger, ttsdeepgram.Config{
				APIKey: cfg.DeepgramKey,
				Voice:  cfg.TTSVoice,
				// 24kHz linear PCM: the pacer downsamples to 8kHz and
				// mu-law encodes before it ever reaches the carrier.
				SampleRate: 24000,
			})
		},
		session.Config{
			FromNumber:        cfg.SourceNumber,
			MediaStreamURL:    mediaStreamURL,
			ConnectTimeout:    15 * time.Second,
			TranscriptTimeout: cfg.TranscriptTimeout,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	disp := dispatcher.New(logger, engine)
	go func() {
		if err := disp.ServeStdio(); err != nil {
			logger.Errorf("voicebridge: dispatcher stopped: %v", err)
			cancel()
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	ginEngine := gin.New()
	webhook.NewServer(logger, engine, carrier, cfg.AllowUnsignedWebhooks).Register(ginEngine)

	mux := http.NewServeMux()
	mux.Handle("/", ginEngine)
	mux.Handle("/media-stream", mediastream.NewServer(logger, engine))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.LocalPort),
		Handler: mux,
	}

	go func() {
		logger.Infow("voicebridge listening", "port", cfg.LocalPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("voicebridge: http server stopped: %v", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildCarrier(logger logging.Logger, cfg *config.AppConfig) (telephony.Carrier, error) {
	switch cfg.Provider {
	case config.ProviderTwilio:
		return twilio.New(logger, cfg.AccountID, cfg.Secret), nil
	case config.ProviderTelnyx:
		return telnyx.New(logger, cfg.Secret, cfg.AccountID, cfg.TelnyxWebhookPublicKey)
	default:
		return nil, fmt.Errorf("voicebridge: unknown provider %q", cfg.Provider)
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
