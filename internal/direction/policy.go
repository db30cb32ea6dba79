// Package direction decides which account holds the long side of a run.
package direction

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

// Policy is the operator's direction choice.
type Policy string

const (
	Random        Policy = "random"
	Account1Long  Policy = "account1_long"
	Account1Short Policy = "account1_short"
)

// ParsePolicy accepts the config/CLI spellings, including "long"/"short"
// shorthands that refer to account1.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "random", "rand":
		return Random, nil
	case "account1_long", "long", "a1_long":
		return Account1Long, nil
	case "account1_short", "short", "a1_short":
		return Account1Short, nil
	default:
		return "", fmt.Errorf("unknown direction policy %q", s)
	}
}

// Chooser resolves a policy to an assignment once per run and returns the
// same assignment for every subsequent call.
type Chooser struct {
	policy Policy
	coin   func() bool

	once   sync.Once
	locked domain.Assignment
}

// NewChooser builds a chooser. coin may be nil to use math/rand.
func NewChooser(p Policy, coin func() bool) *Chooser {
	if coin == nil {
		coin = func() bool { return rand.IntN(2) == 0 }
	}
	return &Chooser{policy: p, coin: coin}
}

// Policy returns the configured policy.
func (c *Chooser) Policy() Policy { return c.policy }

// Assignment returns the run's locked assignment, resolving it on first use.
func (c *Chooser) Assignment() domain.Assignment {
	c.once.Do(func() {
		c.locked = c.resolve()
	})
	return c.locked
}

// Lock fixes the assignment explicitly. It has no effect once Assignment has
// been resolved and reports whether the lock was applied.
func (c *Chooser) Lock(a domain.Assignment) bool {
	applied := false
	c.once.Do(func() {
		c.locked = a
		applied = true
	})
	return applied
}

func (c *Chooser) resolve() domain.Assignment {
	switch c.policy {
	case Account1Long:
		return domain.Assignment{Long: domain.Account1}
	case Account1Short:
		return domain.Assignment{Long: domain.Account2}
	default:
		if c.coin() {
			return domain.Assignment{Long: domain.Account1}
		}
		return domain.Assignment{Long: domain.Account2}
	}
}

// FromPositions infers the assignment of an existing hedged pair. It returns
// false unless the two positions are strictly opposite.
func FromPositions(p1, p2 quant.QtySats) (domain.Assignment, bool) {
	switch {
	case p1 > 0 && p2 < 0:
		return domain.Assignment{Long: domain.Account1}, true
	case p1 < 0 && p2 > 0:
		return domain.Assignment{Long: domain.Account2}, true
	default:
		return domain.Assignment{}, false
	}
}

// SeedFromPositions locks a random policy to an already open hedge so that
// subsequent rounds keep adding to it. Fixed policies are left alone.
func (c *Chooser) SeedFromPositions(p1, p2 quant.QtySats) bool {
	if c.policy != Random {
		return false
	}
	a, ok := FromPositions(p1, p2)
	if !ok {
		return false
	}
	return c.Lock(a)
}
