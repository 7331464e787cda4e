package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/harun/parley/internal/config"
	"github.com/harun/parley/pkg/gateway"
	"github.com/harun/parley/pkg/session"
	"github.com/spf13/cobra"
)

var (
	serveWatch           bool
	servePIDFile         string
	serveShutdownTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket chat gateway",
	Long: `Run the WebSocket chat gateway in the foreground.
Every connection to /ws is one chat session. The process stops on SIGINT or
SIGTERM, closing open sessions first.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "reload the agent for new sessions when the config file changes")
	serveCmd.Flags().StringVar(&servePIDFile, "pid-file", "", "PID file path (default is $HOME/.parley/parley.pid)")
	serveCmd.Flags().DurationVar(&serveShutdownTimeout, "shutdown-timeout", 10*time.Second, "how long to wait for sessions to close on shutdown")
	rootCmd.AddCommand(serveCmd)
}

type serveOptions struct {
	watch           bool
	pidFile         string
	shutdownTimeout time.Duration
	// ready is called with the gateway address once it listens
	ready func(addr string)
}

func runServe(cmd *cobra.Command, args []string) error {
	pidFile := servePIDFile
	if pidFile == "" {
		pidFile = getPIDFilePath()
	}
	if isRunning(pidFile) {
		return fmt.Errorf("parley is already running (PID file: %s)", pidFile)
	}

	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := newRuntime(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, rt, loader, serveOptions{
		watch:           serveWatch,
		pidFile:         pidFile,
		shutdownTimeout: serveShutdownTimeout,
	})
}

// serve runs the gateway and the idle reaper until ctx ends
func serve(ctx context.Context, rt *runtime, loader *config.Loader, opts serveOptions) error {
	logger := rt.log.Component("serve")

	if opts.pidFile != "" {
		if err := writePIDFile(opts.pidFile); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() {
			if err := os.Remove(opts.pidFile); err != nil && !os.IsNotExist(err) {
				logger.Warn().Err(err).Msg("Failed to remove PID file")
			}
		}()
	}

	cleanup := session.NewCleanup(rt.sessions, rt.cfg.Session.IdleTimeout, rt.cfg.Session.SweepInterval, rt.log.Component("cleanup"))
	if err := cleanup.Start(); err != nil {
		return fmt.Errorf("failed to start session cleanup: %w", err)
	}
	defer cleanup.Stop()

	server, err := gateway.NewServer(gateway.Config{
		Host:         rt.cfg.Gateway.Host,
		Port:         rt.cfg.Gateway.Port,
		SharedSecret: rt.cfg.Gateway.SharedSecret,
		Handler:      rt.handler,
		Logger:       rt.log.Component("gateway"),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	if err := server.Start(); err != nil {
		return err
	}

	if opts.watch && loader != nil {
		watcher, err := config.NewWatcher(config.WatcherConfig{
			Loader:   loader,
			OnReload: rt.applyReload,
			Logger:   rt.log.Component("config"),
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Config watch disabled")
		} else if err := watcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Config watch disabled")
		} else {
			defer watcher.Stop()
		}
	}

	logger.Info().Str("addr", server.Addr()).Msg("Parley is serving")
	if opts.ready != nil {
		opts.ready(server.Addr())
	}

	<-ctx.Done()

	timeout := opts.shutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return server.Stop(stopCtx)
}

func getPIDFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "parley.pid")
	}
	return filepath.Join(home, ".parley", "parley.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

func isRunning(pidFile string) bool {
	pid, err := readPID(pidFile)
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds; signal 0 probes for existence
	return process.Signal(syscall.Signal(0)) == nil
}
