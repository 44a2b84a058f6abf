package main

import (
	"flag"
	"time"
)

// Config holds client runtime configuration.
type Config struct {
	ServerAddr string // relay host:port
	HTTPBase   string // base URL of the preconnect probe
	AccessKey  string
	User       string
	Secret     string
	Timeout    time.Duration
}

var cfg Config

// init registers all client flags into the default flag set.
func init() {
	flag.StringVar(&cfg.ServerAddr, "server", "127.0.0.1:8000", "relay address")
	flag.StringVar(&cfg.HTTPBase, "http", "http://127.0.0.1:9100", "base URL answering /preconnect.php; empty skips the probe")
	flag.StringVar(&cfg.AccessKey, "access-key", "", "shared access key")
	flag.StringVar(&cfg.User, "user", "", "username")
	flag.StringVar(&cfg.Secret, "secret", "", "user secret")
	flag.DurationVar(&cfg.Timeout, "timeout", 5*time.Second, "probe and dial timeout")
}

func (c *Config) authPayload() string {
	return "A" + c.AccessKey + "/" + c.User + ":" + c.Secret
}
