// Command omc-hook is the kernel's single entry point: the host invokes it
// as a subprocess for every hook event (spec §6.1), feeding one JSON object
// on stdin and reading exactly one JSON verdict back from stdout. Wiring
// order (load config → open logger → build dependencies → dispatch) mirrors
// the teacher's main()'s config-load → policy → repo → service sequence.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/omc/kernel/internal/config"
	"github.com/omc/kernel/internal/domain"
	"github.com/omc/kernel/internal/hookbus"
	"github.com/omc/kernel/internal/logging"
	"github.com/omc/kernel/internal/modes"
	"github.com/omc/kernel/internal/pathguard"
)

func main() {
	os.Exit(run(os.Stdin, os.Stdout, os.Stderr))
}

// run implements the full hook lifecycle and returns the process exit code.
// Per spec §4.5 point 4 the exit code is always 0 in nominal operation —
// even a malformed request degrades to a Suppressed verdict rather than a
// non-zero exit, since a non-zero exit is how the host would detect "hook
// crashed" and the kernel must never surface that for its own failures.
func run(stdin io.Reader, stdout, stderr io.Writer) int {
	raw, err := io.ReadAll(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "omc-hook: read stdin: %v\n", err)
		emit(stdout, domain.Suppressed())
		return 0
	}

	var event domain.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		fmt.Fprintf(stderr, "omc-hook: parse event: %v\n", err)
		emit(stdout, domain.Suppressed())
		return 0
	}

	guard := pathguard.New()
	root, err := guard.WorktreeRoot(event.Cwd)
	if err != nil || root == "" {
		root = event.Cwd
	}

	sid := event.SessionID
	if sid == "" {
		sid = fmt.Sprintf("pid-%d-%d", os.Getpid(), time.Now().UnixMilli())
	}

	logFile, err := pathguard.ResolveOmc("logs/kernel.log", root)
	if err != nil {
		logFile = filepath.Join(root, ".omc", "logs", "kernel.log")
	}
	logger := logging.New(logFile)

	cfg, err := config.Load(filepath.Join(root, "omc.yaml"))
	if err != nil {
		logger.Printf("config load failed, using defaults: %v", err)
		cfg = config.DefaultConfig()
	}
	modes.SetStalenessMs(cfg.StalenessMs)

	app := newApp(root, sid, cfg, logger)
	defer app.Close()

	bus := hookbus.New()
	app.registerHandlers(bus)

	deps := &hookbus.Deps{Root: root, Logger: logger}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	verdict := bus.Dispatch(ctx, &event, deps)
	emit(stdout, verdict)
	return 0
}

func emit(w io.Writer, v *domain.Verdict) {
	enc := json.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, "omc-hook: encode verdict:", err)
	}
}
