package form

import (
	"time"

	"go.uber.org/zap"

	"github.com/skuwata/outreachd/internal/outreach"
)

// Config bounds form channel operations.
type Config struct {
	SubmitTimeout time.Duration
	Headless      bool
}

// Channel implements outreach.FormSender. Detection and extraction work on
// fetched HTML; submission drives a real browser because inquiry forms
// routinely depend on JavaScript.
type Channel struct {
	fetcher outreach.Fetcher
	clock   outreach.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs the form channel.
func New(fetcher outreach.Fetcher, clock outreach.Clock, cfg Config, logger *zap.Logger) *Channel {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{fetcher: fetcher, clock: clock, cfg: cfg, logger: logger}
}
