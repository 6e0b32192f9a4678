package main

import (
	ctxpkg "github.com/omc/kernel/internal/context"
	"github.com/omc/kernel/internal/logging"

	"github.com/omc/kernel/internal/config"
)

// app holds the one-process-lifetime dependencies every handler needs. A new
// app is built per hook invocation (spec §5: each hook is its own process);
// its only genuinely stateful member is the context Pipeline's in-memory
// cache, which exists purely to save a disk read within this single
// dispatch and is discarded when the process exits.
type app struct {
	root   string
	sid    string
	cfg    *config.Config
	logger *logging.Logger

	pipeline *ctxpkg.Pipeline
}

func newApp(root, sid string, cfg *config.Config, logger *logging.Logger) *app {
	return &app{
		root:     root,
		sid:      sid,
		cfg:      cfg,
		logger:   logger,
		pipeline: ctxpkg.New(root).WithMaxChars(cfg.Context.MaxChars),
	}
}

// Close releases the app's resources (the context Pipeline's fsnotify
// watcher).
func (a *app) Close() {
	if a.pipeline != nil {
		_ = a.pipeline.Close()
	}
}
