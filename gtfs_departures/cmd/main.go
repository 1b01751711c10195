// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"

	"github.com/kasmar00/gtfs-departures/gtfs_departures/config"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/entry"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/metrics"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/server"
	"github.com/kasmar00/gtfs-departures/gtfs_departures/util/http2"
)

var (
	flagConfig   = flag.String("config", "config.yml", "path to the YAML configuration")
	flagDumpFeed = flag.String("dump-feed", "", "print the GTFS-Realtime feed at the given URL in text format and exit")
	flagVerbose  = flag.Bool("verbose", false, "show DEBUG logging")
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	flag.Parse()
	if *flagVerbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	// Both files are optional, values already in the environment win.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *flagDumpFeed != "" {
		return dumpFeed(ctx, *flagDumpFeed, os.Stdout)
	}

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	entries := make([]*entry.Entry, 0, len(cfg.Sources))
	defer func() {
		for _, e := range entries {
			if err := e.Close(); err != nil {
				slog.Error("Failed to close store", "source", e.Name(), "error", err)
			}
		}
	}()
	for _, src := range cfg.Sources {
		e, err := entry.Open(src, cfg.Storage.Directory, m)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}

	return serve(ctx, cfg, entries)
}

func serve(ctx context.Context, cfg *config.Config, entries []*entry.Entry) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, e := range entries {
		g.Go(func() error {
			if err := e.Start(ctx); err != nil {
				// Other sources keep working, this one stays unavailable.
				slog.Error("Static load failed", "source", e.Name(), "error", err)
				return nil
			}
			return e.Run(ctx)
		})
	}

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           server.New(entries, prometheus.DefaultGatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		slog.Info("Listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func dumpFeed(ctx context.Context, url string, w io.Writer) error {
	data, err := http2.GetBytes(ctx, nil, url, nil, time.Minute)
	if err != nil {
		return err
	}

	feed := new(gtfs.FeedMessage)
	if err := proto.Unmarshal(data, feed); err != nil {
		return fmt.Errorf("%s: %w", url, err)
	}

	text, err := prototext.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(feed)
	if err != nil {
		return err
	}
	_, err = w.Write(text)
	return err
}
