// Command livetail follows a live engine's sync channel and prints each
// message as a JSON line.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spyrothon/graphics-sub000/internal/livesync"
	applog "github.com/spyrothon/graphics-sub000/internal/log"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "sync channel URL")
	types := flag.String("types", "", "comma-separated message types to print (default all)")
	level := flag.String("log-level", "", "log level (default LOG_LEVEL, then info)")
	flag.Parse()

	// Logs go to stderr so stdout stays one message per line.
	applog.Configure(applog.Config{Level: *level, Output: os.Stderr, Service: "livetail"})
	logger := applog.WithComponent("livetail")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := livesync.NewClient(livesync.ClientOptions{
		URL:    *url,
		Logger: applog.WithComponent("livesync"),
	})
	client.OnConnectionChange = func(connected bool) {
		logger.Info().Str("url", *url).Bool("connected", connected).Msg("sync channel")
	}

	go func() {
		if err := client.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("sync client stopped")
		}
	}()

	if err := tail(client.Messages(), os.Stdout, parseTypes(*types)); err != nil {
		logger.Fatal().Err(err).Msg("write failed")
	}
}

// parseTypes returns the set of types to keep, or nil to keep everything.
func parseTypes(raw string) map[livesync.Type]bool {
	var keep map[livesync.Type]bool
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t == "" {
			continue
		}
		if keep == nil {
			keep = make(map[livesync.Type]bool)
		}
		keep[livesync.Type(t)] = true
	}
	return keep
}

// tail writes every kept message until msgs is closed.
func tail(msgs <-chan livesync.Message, w io.Writer, keep map[livesync.Type]bool) error {
	enc := json.NewEncoder(w)
	for msg := range msgs {
		if keep != nil && !keep[msg.Type] {
			continue
		}
		if err := enc.Encode(msg); err != nil {
			return err
		}
	}
	return nil
}
