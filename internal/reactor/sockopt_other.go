//go:build !linux

package reactor

import (
	"net"
	"time"
)

func setUserTimeout(net.Conn, time.Duration) error { return nil }
