package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Cleanup periodically ends idle sessions
type Cleanup struct {
	manager       *Manager
	idleTimeout   time.Duration
	sweepInterval time.Duration
	logger        zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewCleanup creates a new idle session reaper. An idleTimeout of zero disables it.
func NewCleanup(manager *Manager, idleTimeout, sweepInterval time.Duration, logger zerolog.Logger) *Cleanup {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	return &Cleanup{
		manager:       manager,
		idleTimeout:   idleTimeout,
		sweepInterval: sweepInterval,
		logger:        logger,
	}
}

// Start schedules the sweep
func (c *Cleanup) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("cleanup is already running")
	}
	if c.idleTimeout <= 0 {
		c.logger.Info().Msg("Idle session cleanup disabled")
		return nil
	}

	c.cron = cron.New()
	if _, err := c.cron.AddFunc(fmt.Sprintf("@every %s", c.sweepInterval), func() { c.Sweep() }); err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}
	c.cron.Start()
	c.running = true

	c.logger.Info().
		Dur("idle_timeout", c.idleTimeout).
		Dur("sweep_interval", c.sweepInterval).
		Msg("Idle session cleanup started")

	return nil
}

// Stop stops the schedule and waits for a running sweep to finish
func (c *Cleanup) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	<-c.cron.Stop().Done()
	c.running = false

	c.logger.Info().Msg("Idle session cleanup stopped")
	return nil
}

// Sweep ends idle sessions once and returns how many were removed
func (c *Cleanup) Sweep() int {
	if c.idleTimeout <= 0 {
		return 0
	}

	reaped := c.manager.ReapIdle(c.idleTimeout)
	for _, id := range reaped {
		c.logger.Info().Str("session_id", id).Msg("Idle session reaped")
	}
	return len(reaped)
}
