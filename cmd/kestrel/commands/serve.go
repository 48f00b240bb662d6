package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kestrelnotes/kestrel-go/internal/logging"
	"github.com/kestrelnotes/kestrel-go/internal/server"
)

// NewServeCmd constructs the `kestrel serve` command, which starts the HTTP
// bridge so editors and note apps can query the engine.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Kestrel HTTP bridge",
		Long: `Start the Kestrel HTTP server on localhost.

The server exposes search and ask endpoints (blocking and SSE streaming),
the backend catalogue, per-backend telemetry, and Prometheus metrics.

Examples:
  kestrel serve
  kestrel serve --port 9090
  KESTREL_PROVIDER=ollama kestrel serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New("", "")
			ctx = logging.WithLogger(ctx, log)

			rt, err := buildRuntime(ctx, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			log.Info("serve starting",
				slog.String("provider", rt.Pool.ActiveDisplayName()),
			)

			cfg := &server.Config{
				Host:   host,
				Port:   port,
				Logger: log,
				APIKey: os.Getenv("KESTREL_API_KEY"),
			}
			if v := os.Getenv("KESTREL_SERVER_HOST"); v != "" && !cmd.Flags().Changed("host") {
				cfg.Host = v
			}
			if v := os.Getenv("KESTREL_SERVER_PORT"); v != "" && !cmd.Flags().Changed("port") {
				if p, err := strconv.Atoi(v); err == nil {
					cfg.Port = p
				}
			}
			if v := os.Getenv("KESTREL_RATE_LIMIT"); v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					cfg.RateLimit = f
				}
			}
			if v := os.Getenv("KESTREL_RATE_BURST"); v != "" {
				if b, err := strconv.Atoi(v); err == nil {
					cfg.RateBurst = b
				}
			}

			srv, err := server.New(rt.Engine, rt.Pool, rt.Ledger, cfg)
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8765, "TCP port to listen on")

	return cmd
}
