// feedtail connects to the exchange feed and prints forwarded messages to
// the console.
// Usage: go run ./cmd/feedtail --products BTC-USD,ETH-USD --channels matches,ticker
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/coinbase-feed/internal/feed"
	"github.com/rickgao/coinbase-feed/internal/version"
)

func main() {
	url := flag.String("url", feed.DefaultURL, "feed websocket URL")
	products := flag.String("products", "BTC-USD", "comma-separated product ids")
	channels := flag.String("channels", "matches", "comma-separated channels")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	gaps := flag.Bool("gaps", false, "detect sequence gaps")
	statsInterval := flag.Duration("stats-interval", 10*time.Second, "stats log interval (0 disables)")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	logger.Info("starting feedtail", "version", version.String(), "url", *url)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	cfg := feed.DefaultConfig()
	cfg.URL = *url
	cfg.DetectSequenceGaps = *gaps

	client := feed.NewClient(cfg, feed.WithLogger(logger))
	if err := client.Start(ctx); err != nil {
		logger.Error("failed to start feed client", "error", err)
		os.Exit(1)
	}
	client.Subscribe(splitList(*products), splitList(*channels))

	if *statsInterval > 0 {
		go func() {
			ticker := time.NewTicker(*statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-client.Done():
					return
				case <-ticker.C:
					s := client.Stats()
					logger.Info("stats",
						"session", s.SessionState,
						"reconnects", s.Reconnects,
						"received", s.MessagesReceived,
						"forwarded", s.MessagesOutput,
						"heartbeats", s.Heartbeats,
						"protocol_errors", s.ProtocolErrors,
						"pings", s.PingsSent,
						"seq_gaps", s.SequenceGaps,
						"backlog", s.OutputBacklog,
					)
				}
			}
		}()
	}

	logger.Info("streaming started - press Ctrl+C to stop")

	// Receive returns false once the client stops and the queue is empty
	out := client.Output()
	for {
		msg, ok := out.Receive()
		if !ok {
			break
		}
		printMessage(msg, *verbose)
	}

	client.Stop()
	if err := client.Err(); err != nil {
		logger.Error("feed client stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func printMessage(msg feed.Message, verbose bool) {
	if verbose {
		fmt.Printf("[%s] %s\n", strings.ToUpper(msg.Type), msg.Raw)
		return
	}

	gap := ""
	if msg.SeqGap {
		gap = fmt.Sprintf(" gap=%d", msg.GapSize)
	}
	fmt.Printf("[%s] product=%s seq=%d time=%s%s\n",
		strings.ToUpper(msg.Type), msg.ProductID, msg.Sequence,
		msg.Time.Format(time.RFC3339Nano), gap)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
