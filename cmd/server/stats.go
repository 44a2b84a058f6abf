package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/matst80/husky/internal/session"
)

// Stats represents current server stats for dashboards & API.
type Stats struct {
	session.Stats
	Now string `json:"now"`
}

type statsSource interface {
	Stats(ctx context.Context) (session.Stats, error)
}

func collectStats(ctx context.Context, src statsSource) (Stats, error) {
	st, err := src.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Stats: st, Now: time.Now().UTC().Format(time.RFC3339)}, nil
}

// ToTemplateMap returns a map suited for html/template rendering with expected capitalized keys.
func (s Stats) ToTemplateMap() map[string]any {
	return map[string]any{
		"Connections": s.Connections,
		"Approved":    s.Approved,
		"Waiting":     s.Waiting,
		"Ties":        s.Ties,
	}
}

// lifecycle tracks readiness for /readyz and the preconnect probe.
type lifecycle struct {
	ready   atomic.Bool
	closing atomic.Bool
}

func (l *lifecycle) serving() bool { return l.ready.Load() && !l.closing.Load() }
