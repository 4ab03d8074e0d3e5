// Package executor contains the pre-trade validator and the trade execution
// coordinator that drives validator, gateway, venue adapter, and position
// persistence.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/alanyoungcy/venuebot/internal/domain"
)

// Verdict is the outcome of a passing validation: the live balance read and
// the resolved trade parameters downstream steps reuse.
type Verdict struct {
	FreeBalanceUSD float64
	NotionalUSD    float64
	SlippageBps    int
}

// Validator runs the ordered pre-trade checks. Business rejections surface as
// *domain.ValidationError; anything else is an infrastructure failure and
// propagates unchanged.
type Validator struct {
	statuses domain.VenueStatusStore
	registry domain.TokenRegistryStore
}

// NewValidator creates a Validator over the capability and registry stores.
func NewValidator(statuses domain.VenueStatusStore, registry domain.TokenRegistryStore) *Validator {
	return &Validator{statuses: statuses, registry: registry}
}

// Validate runs the checks in order, short-circuiting on the first failure:
// venue/token availability, non-zero free balance, notional bounds, and (for
// spot) a registered token address. token must already be canonical.
func (v *Validator) Validate(ctx context.Context, sig domain.Signal, dep domain.Deployment, token string, adapter domain.VenueAdapter) (Verdict, error) {
	// (a) venue+token must be a recognized, enabled pair.
	status, err := v.statuses.Get(ctx, sig.Venue, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Verdict{}, &domain.ValidationError{
				Reason: fmt.Sprintf("token %s is not available on venue %s", token, sig.Venue),
			}
		}
		return Verdict{}, fmt.Errorf("executor: venue status lookup: %w", err)
	}
	if !status.Enabled {
		return Verdict{}, &domain.ValidationError{
			Reason: fmt.Sprintf("token %s is disabled on venue %s", token, sig.Venue),
		}
	}
	if status.MaxLeverage > 0 && sig.Sizing.Leverage > status.MaxLeverage {
		return Verdict{}, &domain.ValidationError{
			Reason: fmt.Sprintf("leverage %.1f exceeds venue maximum %.1f", sig.Sizing.Leverage, status.MaxLeverage),
		}
	}

	// (b) the wallet must hold free funding balance. Read live, never cached.
	free, err := adapter.FreeCollateral(ctx, dep.Wallet)
	if err != nil {
		return Verdict{}, fmt.Errorf("executor: free balance read: %w", err)
	}
	if free <= 0 {
		return Verdict{}, &domain.ValidationError{Reason: "insufficient balance: wallet holds no free funding balance"}
	}

	// (c) the computed notional must clear the venue minimum and, for fixed
	// sizing, fit inside the available balance.
	notional := sig.Sizing.Notional(free)
	if notional < status.MinNotionalUSD {
		return Verdict{}, &domain.ValidationError{
			Reason: fmt.Sprintf("notional %.2f below venue minimum %.2f", notional, status.MinNotionalUSD),
		}
	}
	if sig.Sizing.Kind == domain.SizingFixedNotional && notional > free {
		return Verdict{}, &domain.ValidationError{
			Reason: fmt.Sprintf("insufficient balance: requested %.2f, available %.2f", notional, free),
		}
	}

	// (d) spot trades need an on-chain token mapping.
	if sig.Venue == domain.VenueSpot {
		chain := strconv.FormatInt(dep.ChainID, 10)
		if _, err := v.registry.Get(ctx, chain, token); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return Verdict{}, &domain.ValidationError{
					Reason: fmt.Sprintf("token %s has no address mapping on chain %s", token, chain),
				}
			}
			return Verdict{}, fmt.Errorf("executor: token registry lookup: %w", err)
		}
	}

	return Verdict{
		FreeBalanceUSD: free,
		NotionalUSD:    notional,
		SlippageBps:    status.SlippageBps,
	}, nil
}
