package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/julienstroheker/tcprelay/internal/config"
	"github.com/julienstroheker/tcprelay/internal/logging"
	"github.com/julienstroheker/tcprelay/internal/metrics"
	"github.com/julienstroheker/tcprelay/internal/relay"
	proxyhttp "github.com/julienstroheker/tcprelay/proxy/http"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 5 * time.Second

var (
	listenFlag          string
	forwardFlag         string
	adminFlag           string
	chunkSizeFlag       int
	highWaterFlag       int
	backlogFlag         int
	pollTimeoutFlag     time.Duration
	shutdownTimeoutFlag time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start relaying connections",
	Long: `Listen on a local address and forward every accepted connection to the remote address.
Runs until SIGINT or SIGTERM.`,
	Example: "  tcprelay serve -l 127.0.0.1:8080 -f 10.0.0.2:80 --admin 127.0.0.1:9090",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.StringVarP(&listenFlag, "listen", "l", "", "Local HOST:PORT to accept clients on")
	flags.StringVarP(&forwardFlag, "forward", "f", "", "Remote HOST:PORT to forward every client to")
	flags.StringVar(&adminFlag, "admin", "", "Serve health, metrics and stats on this HOST:PORT")
	flags.IntVar(&chunkSizeFlag, "chunk-size", config.DefaultChunkSize, "Largest single read per relay step")
	flags.IntVar(&highWaterFlag, "high-water", config.DefaultChunkSize, "Pending bytes per direction before reading pauses")
	flags.IntVar(&backlogFlag, "backlog", config.DefaultBacklog, "Listen backlog")
	flags.DurationVar(&pollTimeoutFlag, "poll-timeout", config.DefaultPollTimeout, "Upper bound of each readiness wait")
	flags.DurationVar(&shutdownTimeoutFlag, "shutdown-timeout", defaultShutdownTimeout, "Graceful shutdown timeout of the admin server")
}

// applyServeFlags overrides c with the flags set on the command line
func applyServeFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		c.ListenAddr = listenFlag
	}
	if flags.Changed("forward") {
		c.RemoteAddr = forwardFlag
	}
	if flags.Changed("admin") {
		c.AdminAddr = adminFlag
	}
	if flags.Changed("chunk-size") {
		c.ChunkSize = chunkSizeFlag
		// keep the documented default of one chunk of buffering
		if !flags.Changed("high-water") && c.HighWater < c.ChunkSize {
			c.HighWater = c.ChunkSize
		}
	}
	if flags.Changed("high-water") {
		c.HighWater = highWaterFlag
	}
	if flags.Changed("backlog") {
		c.Backlog = backlogFlag
	}
	if flags.Changed("poll-timeout") {
		c.PollTimeout = pollTimeoutFlag
	}
}

func runServe(cmd *cobra.Command) error {
	c := *cfg
	applyServeFlags(cmd, &c)
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	m := metrics.New()
	srv, err := relay.NewServer(&relay.Options{
		ListenAddr:  c.ListenAddr,
		RemoteAddr:  c.RemoteAddr,
		ChunkSize:   c.ChunkSize,
		HighWater:   c.HighWater,
		Backlog:     c.Backlog,
		PollTimeout: c.PollTimeout,
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		return err
	}

	// The admin listener binds first so a relay bind fault can release it
	var admin *proxyhttp.Server
	if c.AdminAddr != "" {
		admin = proxyhttp.NewServer(&proxyhttp.Options{
			Addr:    c.AdminAddr,
			Stats:   srv,
			Metrics: m,
			Logger:  logger,
		})
		if err := admin.Listen(); err != nil {
			return fmt.Errorf("admin listen on %s: %w", c.AdminAddr, err)
		}
	}

	if err := srv.Listen(); err != nil {
		if admin != nil {
			_ = admin.Close()
		}
		return fmt.Errorf("listen on %s: %w", c.ListenAddr, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.Printf("Relaying %s -> %s\n", srv.Addr(), c.RemoteAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	if admin != nil {
		g.Go(admin.Serve)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeoutFlag)
			defer cancel()
			if err := admin.Shutdown(shutdownCtx); err != nil {
				_ = admin.Close()
				return fmt.Errorf("could not gracefully shutdown the admin server: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Shutdown complete", logging.String("listen", srv.Addr()))
	return nil
}
