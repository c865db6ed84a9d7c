// Package backoff paces repeated attempts with exponentially growing delays.
package backoff

import (
	"math"
	"sync"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 50ms
	Max     time.Duration // default: 2s
}

func (c *Config) withDefaults() Config {
	out := Config{Initial: 50 * time.Millisecond, Max: 2 * time.Second}
	if c != nil {
		if c.Initial > 0 {
			out.Initial = c.Initial
		}
		if c.Max > 0 {
			out.Max = c.Max
		}
	}
	return out
}

// Exponential returns the delay before the given attempt.
// Attempt 1 returns Initial, attempt 2 returns Initial*2, and so on up to Max.
func Exponential(attempt int, cfg *Config) time.Duration {
	c := cfg.withDefaults()
	if attempt < 1 {
		return c.Initial
	}
	d := float64(c.Initial) * math.Pow(2.0, float64(attempt-1))
	if d > float64(c.Max) {
		d = float64(c.Max)
	}
	return time.Duration(d)
}

// Pacer tracks consecutive failed attempts and hands out the matching delay.
// It is safe for concurrent use.
type Pacer struct {
	mu      sync.Mutex
	cfg     Config
	attempt int
}

// NewPacer creates a pacer. cfg may be nil.
func NewPacer(cfg *Config) *Pacer {
	return &Pacer{cfg: cfg.withDefaults()}
}

// Delay returns how long to wait before the next attempt; zero when the last attempt succeeded.
func (p *Pacer) Delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attempt == 0 {
		return 0
	}
	return Exponential(p.attempt, &p.cfg)
}

// Failure records a failed attempt.
func (p *Pacer) Failure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempt++
}

// Success clears the failure streak.
func (p *Pacer) Success() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempt = 0
}
