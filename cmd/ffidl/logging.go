package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/dynffi/callback"
	"github.com/wippyai/dynffi/cif"
	"github.com/wippyai/dynffi/client"
	"github.com/wippyai/dynffi/engine"
	"github.com/wippyai/dynffi/engine/libffi"
	"github.com/wippyai/dynffi/library"
	"github.com/wippyai/dynffi/shell"
	"github.com/wippyai/dynffi/types"
)

func newLogger(cfg logConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// installLogger hands l to every package that logs.
func installLogger(l *zap.Logger) {
	types.SetLogger(l.Named("types"))
	cif.SetLogger(l.Named("cif"))
	callback.SetLogger(l.Named("callback"))
	library.SetLogger(l.Named("library"))
	client.SetLogger(l.Named("client"))
	shell.SetLogger(l.Named("shell"))
	engine.SetLogger(l.Named("wazero"))
	libffi.SetLogger(l.Named("libffi"))
}
