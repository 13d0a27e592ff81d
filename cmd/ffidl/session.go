package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/wippyai/dynffi"
	"github.com/wippyai/dynffi/engine"
	"github.com/wippyai/dynffi/engine/libffi"
	"github.com/wippyai/dynffi/manifest"
	"github.com/wippyai/dynffi/shell"
)

// session is one engine plus the shell running on it.
type session struct {
	engine dynffi.Engine
	shell  *shell.Shell
	log    *zap.Logger
}

func openEngine(ctx context.Context, cfg engineConfig, stdout, stderr io.Writer) (dynffi.Engine, error) {
	switch cfg.Name {
	case "wazero":
		e, err := engine.NewWazeroEngineWithConfig(ctx, &engine.Config{
			MemoryLimitPages: cfg.MemoryLimitPages,
			Stdout:           stdout,
			Stderr:           stderr,
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	case "libffi":
		e, err := libffi.New()
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Name)
	}
}

// newSession opens the configured engine, creates a shell on it and runs
// the preloads in order: type manifest, libraries, scripts.
func newSession(ctx context.Context, cfg config, log *zap.Logger, stdout, stderr io.Writer) (*session, error) {
	e, err := openEngine(ctx, cfg.Engine, stdout, stderr)
	if err != nil {
		return nil, fmt.Errorf("open %s engine: %w", cfg.Engine.Name, err)
	}
	sh, err := shell.New(shell.Config{Engine: e, Stdout: stdout, Stderr: stderr})
	if err != nil {
		_ = e.Close(ctx)
		return nil, err
	}
	s := &session{engine: e, shell: sh, log: log}

	if err := s.preload(ctx, cfg.Preload); err != nil {
		s.close(ctx)
		return nil, err
	}
	log.Debug("session ready",
		zap.String("engine", e.Name()),
		zap.String("host", e.Platform().Host),
		zap.String("config", cfg.path))
	return s, nil
}

func (s *session) preload(ctx context.Context, p preloadConfig) error {
	c := s.shell.Client()
	if p.Types != "" {
		n, err := manifest.Load(p.Types, c.Registry())
		if err != nil {
			return fmt.Errorf("preload types %s: %w", p.Types, err)
		}
		s.log.Debug("types preloaded", zap.String("path", p.Types), zap.Int("count", n))
	}
	for _, lib := range p.Libraries {
		if _, err := c.Library(lib, dynffi.BindDefault, dynffi.VisDefault); err != nil {
			return fmt.Errorf("preload library: %w", err)
		}
	}
	for _, script := range p.Scripts {
		if _, err := s.shell.RunFile(ctx, script); err != nil {
			return fmt.Errorf("preload script %s: %s", script, shell.Message(err))
		}
	}
	return nil
}

func (s *session) close(ctx context.Context) {
	if err := s.shell.Close(); err != nil {
		s.log.Warn("shell close failed", zap.Error(err))
	}
	if err := s.engine.Close(ctx); err != nil {
		s.log.Warn("engine close failed", zap.Error(err))
	}
}
