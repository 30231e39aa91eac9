// marketwatch connects to a marketd event feed and prints events to the
// console, reconnecting when the connection drops.
//
// Usage: marketwatch --url ws://localhost:8080/v1/feed [--collection punks] [--verbose]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rickgao/nft-marketplace/internal/feed"
	"github.com/rickgao/nft-marketplace/internal/model"
)

func main() {
	var feedURL, token, collection string
	var verbose bool
	var maxBackoff time.Duration

	flagSet := pflag.NewFlagSet("marketwatch", pflag.ContinueOnError)
	flagSet.StringVar(&feedURL, "url", "ws://localhost:8080/v1/feed", "feed URL")
	flagSet.StringVar(&token, "token", os.Getenv("MARKET_TOKEN"), "bearer token (default $MARKET_TOKEN)")
	flagSet.StringVar(&collection, "collection", "", "only show events for this collection")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "print full event JSON")
	flagSet.DurationVar(&maxBackoff, "max-backoff", 30*time.Second, "maximum reconnect delay")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if collection != "" {
		u, err := url.Parse(feedURL)
		if err != nil {
			logger.Error("invalid feed url", "url", feedURL, "error", err)
			os.Exit(1)
		}
		q := u.Query()
		q.Set("collection", collection)
		u.RawQuery = q.Encode()
		feedURL = u.String()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := feed.DefaultClientConfig()
	cfg.URL = feedURL
	cfg.Token = token

	backoff := time.Second
	var received int64
	for ctx.Err() == nil {
		n, err := stream(ctx, cfg, verbose, logger)
		received += n
		if ctx.Err() != nil {
			break
		}
		if n > 0 {
			backoff = time.Second
		}
		logger.Warn("feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}

	logger.Info("shutdown complete", "events", received)
}

// stream prints events from one connection until it fails or ctx ends.
func stream(ctx context.Context, cfg feed.ClientConfig, verbose bool, logger *slog.Logger) (int64, error) {
	client := feed.NewClient(cfg, logger)
	if err := client.Connect(ctx); err != nil {
		return 0, err
	}
	defer client.Close()
	logger.Info("streaming started - press Ctrl+C to stop", "url", cfg.URL)

	var n int64
	for {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case err := <-client.Errors():
			return n, err
		case ev := <-client.Events():
			n++
			printEvent(ev, verbose)
		}
	}
}

func printEvent(ev model.Event, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(feed.NewEventMessage(ev), "", "  ")
		fmt.Printf("[%s] %s\n", ev.Kind, data)
		return
	}

	switch ev.Kind {
	case model.EventItemListed:
		fmt.Printf("[LISTED] seq=%d key=%s seller=%s price=%d\n", ev.Seq, ev.Key, ev.Seller, ev.Price)
	case model.EventItemRemoved:
		fmt.Printf("[REMOVED] seq=%d key=%s seller=%s reason=%s\n", ev.Seq, ev.Key, ev.Seller, ev.Reason)
	case model.EventItemBought:
		fmt.Printf("[BOUGHT] seq=%d key=%s seller=%s buyer=%s price=%d\n", ev.Seq, ev.Key, ev.Seller, ev.Actor, ev.Price)
	case model.EventProceedsWithdrawn:
		fmt.Printf("[WITHDRAWN] seq=%d identity=%s amount=%d\n", ev.Seq, ev.Actor, ev.Amount)
	}
}
