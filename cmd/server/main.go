package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/matst80/husky/internal/credentials"
	"github.com/matst80/husky/internal/handshake"
	"github.com/matst80/husky/internal/obs"
	"github.com/matst80/husky/internal/ratelimit"
	"github.com/matst80/husky/internal/reactor"
	"github.com/matst80/husky/internal/session"
)

func main() {
	flag.Parse()
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	obs.Info("server.start", obs.Fields{"listen": cfg.ListenAddr, "metrics": cfg.MetricsAddr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds, err := loadCredentials(ctx, &cfg)
	if err != nil {
		obs.Error("server.credentials", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	obs.Info("server.credentials", obs.Fields{"users": len(creds.Names())})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		obs.Error("listen.relay", obs.Fields{"err": err.Error(), "addr": cfg.ListenAddr})
		os.Exit(1)
	}

	authLimiter := ratelimit.NewLimiter(cfg.AuthRate, cfg.AuthBurst)
	connLimiter := ratelimit.NewLimiter(cfg.ConnRate, cfg.ConnBurst)
	machine := session.New(creds, session.Options{AuthLimiter: authLimiter})
	srv := reactor.New(reactor.Config{
		ReadChunk:    cfg.ReadChunk,
		MaxFrameSize: cfg.MaxFrameSize,
		Handshake: handshake.Options{
			MaxHeaderSize: cfg.MaxHeaderSize,
			Timeout:       cfg.HandshakeTimeout,
		},
		OutboxLimit:       cfg.OutboxLimit,
		TCPUserTimeout:    cfg.TCPUserTimeout,
		MaxProtocolErrors: cfg.MaxProtocolErrors,
		ConnLimiter:       connLimiter,
	}, machine)

	var lc lifecycle
	machineCtx, stopMachine := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); machine.Run(machineCtx) }()
	wg.Add(1)
	go func() { defer wg.Done(); startMetricsServer(ctx, cfg.MetricsAddr, newMetricsMux(machine, &lc)) }()
	go runPruneLoop(ctx, time.Minute, authLimiter, connLimiter)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()
	lc.ready.Store(true)
	obs.Info("server.ready", obs.Fields{})

	select {
	case <-ctx.Done():
		obs.Info("server.shutdown.signal", obs.Fields{})
		lc.closing.Store(true)
		err = <-served
	case err = <-served:
		// Accept failed for good.
		lc.closing.Store(true)
		stop()
	}
	stopMachine()
	wg.Wait()
	if err != nil {
		obs.Error("server.serve", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	obs.Info("server.shutdown.complete", obs.Fields{})
}

func loadCredentials(ctx context.Context, c *Config) (*credentials.Store, error) {
	if c.RedisAddr != "" {
		return credentials.LoadRedis(ctx, credentials.RedisSource{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
			Prefix:   c.RedisPrefix,
		}, c.AccessKey)
	}
	return credentials.LoadFile(c.AccessKey, c.UsersFile, c.inlineUsers())
}

// runPruneLoop forgets idle rate limit buckets.
func runPruneLoop(ctx context.Context, every time.Duration, limiters ...*ratelimit.Limiter) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, l := range limiters {
				if n := l.Prune(); n > 0 {
					obs.Debug("ratelimit.prune", obs.Fields{"removed": n, "left": l.Len()})
				}
			}
		}
	}
}
