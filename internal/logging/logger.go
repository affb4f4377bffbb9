// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package logging provides the structured logger shape used throughout
// voicebridge, mirroring the commons.Logger interface the rest of the
// Rapida stack codes against, backed by zap.
package logging

import (
	"go.uber.org/zap"
)

// Logger is the structured logging interface every voicebridge component
// depends on. It matches the sugared-logger call shape (Infof/Errorw/...)
// used throughout the Rapida codebase so adapted components keep their
// original call sites unchanged.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	With(keysAndValues ...interface{}) Logger
	Sync() error
}

type sugared struct {
	*zap.SugaredLogger
}

// New builds a Logger at the given level ("debug", "info", "warn", "error").
// Production encoding (JSON) is used unless dev is true.
func New(level string, dev bool) (Logger, error) {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	lvl := zap.NewAtomicLevel()
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.SetLevel(zap.InfoLevel)
	}
	cfg.Level = lvl

	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &sugared{zl.Sugar()}, nil
}

// NewNop returns a Logger that discards everything, used in tests.
func NewNop() Logger {
	return &sugared{zap.NewNop().Sugar()}
}

func (s *sugared) With(keysAndValues ...interface{}) Logger {
	return &sugared{s.SugaredLogger.With(keysAndValues...)}
}

func (s *sugared) Sync() error {
	return s.SugaredLogger.Sync()
}
