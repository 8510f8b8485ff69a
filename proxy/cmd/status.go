package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienstroheker/tcprelay/internal/httpclient"
	"github.com/julienstroheker/tcprelay/internal/logging"
	"github.com/julienstroheker/tcprelay/internal/relay"
	proxyhttp "github.com/julienstroheker/tcprelay/proxy/http"
	"github.com/spf13/cobra"
)

var (
	statusAdminFlag   string
	statusWatchFlag   bool
	statusCountFlag   int
	statusTimeoutFlag time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the counters of a running relay",
	Long: `Query the admin server of a running relay (started with --admin) and print its counters as JSON.
With --watch, print one snapshot per line as the relay streams them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusAdminFlag, "admin", "http://"+proxyhttp.DefaultAddr, "Admin server URL")
	statusCmd.Flags().BoolVarP(&statusWatchFlag, "watch", "w", false, "Stream snapshots until interrupted")
	statusCmd.Flags().IntVar(&statusCountFlag, "count", 0, "Stop watching after this many snapshots (0 for no limit)")
	statusCmd.Flags().DurationVar(&statusTimeoutFlag, "timeout", 5*time.Second, "Timeout of one stats request")
}

func runStatus(cmd *cobra.Command) error {
	base, err := adminURL(statusAdminFlag)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if statusWatchFlag {
		return watchStats(ctx, cmd.OutOrStdout(), base, statusCountFlag)
	}

	client := httpclient.NewClient(&httpclient.Options{
		Timeout:    statusTimeoutFlag,
		MaxRetries: 2,
		RetryDelay: 200 * time.Millisecond,
		Logger:     logger,
		UserAgent:  "tcprelay/" + Version,
	})

	var snap relay.Snapshot
	if err := client.GetJSON(ctx, base.JoinPath("api", "stats").String(), &snap); err != nil {
		return fmt.Errorf("query relay stats: %w", err)
	}

	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

// adminURL accepts a bare HOST:PORT as well as a full URL
func adminURL(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid admin URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid admin URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid admin URL %q: missing host", raw)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// watchStats prints every streamed snapshot as one JSON line until ctx is done,
// the server closes the stream or limit snapshots were printed
func watchStats(ctx context.Context, w io.Writer, base *url.URL, limit int) error {
	u := base.JoinPath("api", "stats", "stream")
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}

	header := http.Header{}
	header.Set(httpclient.RequestIDHeader, uuid.NewString())
	header.Set("User-Agent", "tcprelay/"+Version)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", u.Redacted(), err)
	}
	defer func() {
		_ = conn.Close()
	}()
	logger.Debug("Watching relay stats", logging.String("url", u.Redacted()))

	// Unblocks ReadJSON when interrupted
	release := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer release()

	enc := json.NewEncoder(w)
	for n := 0; limit <= 0 || n < limit; n++ {
		var snap relay.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read stats stream: %w", err)
		}
		if err := enc.Encode(snap); err != nil {
			return err
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return nil
}
