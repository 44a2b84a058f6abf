package main

import (
	"flag"
	"strings"
	"time"
)

// Config holds all runtime configuration derived from flags.
type Config struct {
	ListenAddr  string
	MetricsAddr string
	Debug       bool

	AccessKey string
	UsersFile string
	Users     string // comma separated username:secret pairs

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	ReadChunk         int
	MaxFrameSize      int64
	MaxHeaderSize     int
	HandshakeTimeout  time.Duration
	OutboxLimit       int
	TCPUserTimeout    time.Duration
	MaxProtocolErrors int

	ConnRate  int
	ConnBurst int
	AuthRate  int
	AuthBurst int
}

var cfg Config

// init registers flags into the global flag set. main() parses and uses cfg.
func init() {
	flag.StringVar(&cfg.ListenAddr, "listen", ":8000", "relay listen address")
	flag.StringVar(&cfg.MetricsAddr, "metrics", ":9100", "metrics, health and preconnect listen address")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")

	flag.StringVar(&cfg.AccessKey, "access-key", "", "shared access key (read from redis when empty and -redis is set)")
	flag.StringVar(&cfg.UsersFile, "users-file", "", "file with one username:secret per line")
	flag.StringVar(&cfg.Users, "users", "", "comma separated username:secret pairs")

	flag.StringVar(&cfg.RedisAddr, "redis", "", "redis address; when set credentials are loaded from redis")
	flag.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database")
	flag.StringVar(&cfg.RedisPrefix, "redis-prefix", "husky", "redis key prefix")

	flag.IntVar(&cfg.ReadChunk, "read-chunk", 100000, "bytes read from a connection per call")
	flag.Int64Var(&cfg.MaxFrameSize, "max-frame", 16<<20, "largest accepted frame payload in bytes (0 = unlimited)")
	flag.IntVar(&cfg.MaxHeaderSize, "max-header-size", 32*1024, "maximum handshake header bytes")
	flag.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", 10*time.Second, "time limit for the upgrade handshake")
	flag.IntVar(&cfg.OutboxLimit, "outbox-limit", 1024, "frames queued per connection before it is dropped (0 = unlimited)")
	flag.DurationVar(&cfg.TCPUserTimeout, "tcp-user-timeout", 0, "TCP_USER_TIMEOUT for accepted sockets (0 = kernel default)")
	flag.IntVar(&cfg.MaxProtocolErrors, "max-protocol-errors", 0, "consecutive malformed frames before close (0 = never)")

	flag.IntVar(&cfg.ConnRate, "conn-rate", 0, "accepted connections per second per IP (0 = unlimited)")
	flag.IntVar(&cfg.ConnBurst, "conn-burst", 0, "connection burst per IP (defaults to rate)")
	flag.IntVar(&cfg.AuthRate, "auth-rate", 0, "AUTH attempts per second per IP (0 = unlimited)")
	flag.IntVar(&cfg.AuthBurst, "auth-burst", 0, "AUTH burst per IP (defaults to rate)")
}

func (c *Config) inlineUsers() []string {
	if c.Users == "" {
		return nil
	}
	var out []string
	for _, u := range strings.Split(c.Users, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}
