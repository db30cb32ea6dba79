package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Mode is one of the closed set of trading modes. Each variant carries its
// own round-generation policy.
type Mode interface {
	Name() string
	// BuildRounds is the number of opening rounds the mode plans.
	BuildRounds() int
	run(ctx context.Context, c *Controller) error
}

// InstantClose opens a pair and closes it again after CloseDelay, Rounds times.
type InstantClose struct {
	Rounds     int
	CloseDelay time.Duration
}

// BuildHoldClose opens Rounds pairs, holds, then closes everything.
type BuildHoldClose struct {
	Rounds int
	Hold   time.Duration
}

// BuildHold opens Rounds pairs and leaves them open.
type BuildHold struct {
	Rounds int
}

// CloseExisting flattens whatever both accounts already hold.
type CloseExisting struct{}

func (InstantClose) Name() string   { return "instant" }
func (BuildHoldClose) Name() string { return "build_hold_close" }
func (BuildHold) Name() string      { return "build_hold" }
func (CloseExisting) Name() string  { return "close_existing" }

func (m InstantClose) BuildRounds() int   { return m.Rounds }
func (m BuildHoldClose) BuildRounds() int { return m.Rounds }
func (m BuildHold) BuildRounds() int      { return m.Rounds }
func (CloseExisting) BuildRounds() int    { return 0 }

// ParseMode maps a config/CLI mode name onto its variant.
func ParseMode(name string, rounds int, hold, closeDelay time.Duration) (Mode, error) {
	if rounds <= 0 {
		rounds = 1
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "instant", "open_close", "":
		return InstantClose{Rounds: rounds, CloseDelay: closeDelay}, nil
	case "build_hold_close", "bhc":
		return BuildHoldClose{Rounds: rounds, Hold: hold}, nil
	case "build_hold", "bh":
		return BuildHold{Rounds: rounds}, nil
	case "close_existing", "close":
		return CloseExisting{}, nil
	default:
		return nil, fmt.Errorf("unknown run mode %q", name)
	}
}

func (m InstantClose) run(ctx context.Context, c *Controller) error {
	for i := 0; i < m.Rounds; i++ {
		if err := c.boundary(ctx, i > 0); err != nil {
			return err
		}
		if ok, err := c.marginOK(ctx); err != nil || !ok {
			return err
		}
		r, err := c.open(ctx)
		if err != nil {
			return err
		}
		if r.HedgedSize() < c.opts.Market.MinSize {
			continue
		}
		// the close belongs to this pair and is not subject to the stop flag
		if err := sleepCtx(ctx, m.CloseDelay); err != nil {
			return err
		}
		if _, err := c.closeHedge(ctx, r.HedgedSize()); err != nil {
			return err
		}
	}
	return nil
}

func (m BuildHoldClose) run(ctx context.Context, c *Controller) error {
	if err := c.build(ctx, m.Rounds); err != nil {
		return err
	}
	if m.Hold > 0 {
		c.log.Info("⏳ Holding positions", slog.String("hold", m.Hold.String()))
		if err := c.wait(ctx, m.Hold); err != nil {
			return err
		}
	}
	return c.closeAll(ctx, m.Rounds+closeSlack)
}

func (m BuildHold) run(ctx context.Context, c *Controller) error {
	return c.build(ctx, m.Rounds)
}

func (CloseExisting) run(ctx context.Context, c *Controller) error {
	if err := c.closeAll(ctx, closeSlack); err != nil {
		return err
	}
	return c.flattenResiduals(ctx)
}
