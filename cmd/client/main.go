// Command client is a demo canvas client: it connects to a sync server,
// mirrors the server's element set into a local scene, logs every event it
// receives, and periodically pushes a full sync back.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"canvas-backend/client"
	"canvas-backend/domain/events"

	"go.uber.org/zap"
)

func main() {
	serverURL := flag.String("server", "http://localhost:3000", "sync server base URL")
	syncEvery := flag.Duration("sync-every", 0, "push a full sync at this interval (0 disables)")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	c, err := client.New(*serverURL, client.Options{
		OnUnknown: func(ev events.Unknown) {
			logger.Info("unknown event forwarded", zap.String("eventType", ev.Type))
		},
	}, logger)
	if err != nil {
		logger.Fatal("failed to build client", zap.Error(err))
	}

	if err := c.Connect(); err != nil {
		// The channel retries on its own; a failed first dial is not fatal.
		logger.Warn("initial connect failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *syncEvery > 0 {
		go func() {
			ticker := time.NewTicker(*syncEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := c.FullSync(ctx); err != nil {
						logger.Warn("periodic sync failed", zap.Error(err))
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	logger.Info("signal caught", zap.String("sig", sig.String()))

	cancel()
	c.Close()
}
