package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"

	"github.com/rbright/tospeak/internal/config"
	"github.com/rbright/tospeak/internal/daemon"
	"github.com/rbright/tospeak/internal/ipc"
	"github.com/rbright/tospeak/internal/observability"
)

// sdNotify is swapped in tests to observe readiness notifications.
var sdNotify = func(state string) {
	_, _ = sddaemon.SdNotify(false, state)
}

// commandRun owns the control socket and runs the daemon until stopped.
func (r Runner) commandRun(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			logger.Warn("daemon already running", "socket", socketPath)
		}
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	metrics := observability.NewMetrics("tospeak")
	d, err := daemon.New(ctx, cfg, logger, metrics)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("daemon init failed", "error", err.Error())
		return 1
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Warn("daemon close failed", "error", err.Error())
		}
	}()

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, d)
	}()

	runErr := d.Run(ctx, func() {
		sdNotify(sddaemon.SdNotifyReady)
		logger.Info("daemon ready", "socket", socketPath)
	})
	sdNotify(sddaemon.SdNotifyStopping)

	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	if runErr != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", runErr)
		return 1
	}
	logger.Info("daemon stopped")
	return 0
}
