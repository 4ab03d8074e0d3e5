package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alanyoungcy/venuebot/internal/domain"
)

func validatorFixture() (*Validator, fakeStatuses, fakeRegistry) {
	statuses := fakeStatuses{
		statusKey(domain.VenueHyperliquid, "ETH"): {
			Venue:          domain.VenueHyperliquid,
			TokenSymbol:    "ETH",
			Enabled:        true,
			MinNotionalUSD: 10,
			MaxLeverage:    20,
			SlippageBps:    50,
		},
		statusKey(domain.VenueHyperliquid, "DOGE"): {
			Venue:       domain.VenueHyperliquid,
			TokenSymbol: "DOGE",
			Enabled:     false,
		},
		statusKey(domain.VenueSpot, "ETH"): {
			Venue:          domain.VenueSpot,
			TokenSymbol:    "ETH",
			Enabled:        true,
			MinNotionalUSD: 1,
		},
	}
	registry := fakeRegistry{
		"8453:ETH": {Chain: "8453", TokenSymbol: "ETH", Address: "0xeth", Decimals: 18},
	}
	return NewValidator(statuses, registry), statuses, registry
}

func validationSignal(venue domain.Venue, sizing domain.Sizing) domain.Signal {
	return domain.Signal{
		ID:          "sig-v",
		Deployment:  "dep-1",
		Venue:       venue,
		TokenSymbol: "ETH",
		Side:        domain.SideLong,
		Sizing:      sizing,
	}
}

func TestValidatePercentageSizing(t *testing.T) {
	v, _, _ := validatorFixture()
	adapter := &fakeAdapter{venue: domain.VenueHyperliquid, free: 400}
	sig := validationSignal(domain.VenueHyperliquid, domain.Sizing{Kind: domain.SizingPercentage, Value: 25, Leverage: 2})

	verdict, err := v.Validate(context.Background(), sig, domain.Deployment{Wallet: "0xw"}, "ETH", adapter)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if verdict.NotionalUSD != 100 {
		t.Errorf("NotionalUSD = %v, want 100 (25%% of live balance)", verdict.NotionalUSD)
	}
	if verdict.FreeBalanceUSD != 400 {
		t.Errorf("FreeBalanceUSD = %v, want 400", verdict.FreeBalanceUSD)
	}
	if verdict.SlippageBps != 50 {
		t.Errorf("SlippageBps = %v, want 50", verdict.SlippageBps)
	}
}

func TestValidateFixedWithinBalance(t *testing.T) {
	v, _, _ := validatorFixture()
	adapter := &fakeAdapter{venue: domain.VenueHyperliquid, free: 500}
	sig := validationSignal(domain.VenueHyperliquid, domain.Sizing{Kind: domain.SizingFixedNotional, Value: 100, Leverage: 1})

	verdict, err := v.Validate(context.Background(), sig, domain.Deployment{Wallet: "0xw"}, "ETH", adapter)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if verdict.NotionalUSD != 100 {
		t.Errorf("NotionalUSD = %v, want the fixed 100", verdict.NotionalUSD)
	}
}

func TestValidateFixedExceedsBalance(t *testing.T) {
	v, _, _ := validatorFixture()
	adapter := &fakeAdapter{venue: domain.VenueHyperliquid, free: 100}
	sig := validationSignal(domain.VenueHyperliquid, domain.Sizing{Kind: domain.SizingFixedNotional, Value: 250, Leverage: 1})

	_, err := v.Validate(context.Background(), sig, domain.Deployment{Wallet: "0xw"}, "ETH", adapter)
	if !domain.IsValidation(err) {
		t.Fatalf("err = %v, want validation rejection", err)
	}
	if !strings.Contains(err.Error(), "insufficient balance") {
		t.Errorf("err = %q, want insufficient balance message", err.Error())
	}
}

func TestValidateRejections(t *testing.T) {
	v, _, _ := validatorFixture()

	tests := []struct {
		name    string
		sig     domain.Signal
		adapter *fakeAdapter
		wantIn  string
	}{
		{
			name: "unknown token",
			sig: func() domain.Signal {
				s := validationSignal(domain.VenueHyperliquid, domain.Sizing{Kind: domain.SizingPercentage, Value: 10, Leverage: 1})
				s.TokenSymbol = "XYZ"
				return s
			}(),
			adapter: &fakeAdapter{venue: domain.VenueHyperliquid, free: 1000},
			wantIn:  "not available",
		},
		{
			name: "disabled token",
			sig: func() domain.Signal {
				s := validationSignal(domain.VenueHyperliquid, domain.Sizing{Kind: domain.SizingPercentage, Value: 10, Leverage: 1})
				s.TokenSymbol = "DOGE"
				return s
			}(),
			adapter: &fakeAdapter{venue: domain.VenueHyperliquid, free: 1000},
			wantIn:  "disabled",
		},
		{
			name:    "excess leverage",
			sig:     validationSignal(domain.VenueHyperliquid, domain.Sizing{Kind: domain.SizingPercentage, Value: 10, Leverage: 50}),
			adapter: &fakeAdapter{venue: domain.VenueHyperliquid, free: 1000},
			wantIn:  "leverage",
		},
		{
			name:    "empty wallet",
			sig:     validationSignal(domain.VenueHyperliquid, domain.Sizing{Kind: domain.SizingPercentage, Value: 10, Leverage: 1}),
			adapter: &fakeAdapter{venue: domain.VenueHyperliquid, free: 0},
			wantIn:  "insufficient balance",
		},
		{
			name:    "below venue minimum",
			sig:     validationSignal(domain.VenueHyperliquid, domain.Sizing{Kind: domain.SizingPercentage, Value: 1, Leverage: 1}),
			adapter: &fakeAdapter{venue: domain.VenueHyperliquid, free: 100},
			wantIn:  "below venue minimum",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := domain.CanonicalToken(tt.sig.TokenSymbol)
			_, err := v.Validate(context.Background(), tt.sig, domain.Deployment{Wallet: "0xw"}, token, tt.adapter)
			if !domain.IsValidation(err) {
				t.Fatalf("err = %v, want validation rejection", err)
			}
			if !strings.Contains(err.Error(), tt.wantIn) {
				t.Errorf("err = %q, want it to mention %q", err.Error(), tt.wantIn)
			}
		})
	}
}

func TestValidateSpotNeedsTokenMapping(t *testing.T) {
	v, _, _ := validatorFixture()
	adapter := &fakeAdapter{venue: domain.VenueSpot, free: 1000}
	sig := validationSignal(domain.VenueSpot, domain.Sizing{Kind: domain.SizingPercentage, Value: 10, Leverage: 1})

	// Mapped chain passes.
	if _, err := v.Validate(context.Background(), sig, domain.Deployment{Wallet: "0xw", ChainID: 8453}, "ETH", adapter); err != nil {
		t.Fatalf("Validate on mapped chain: %v", err)
	}

	// Unmapped chain is a business rejection, not an infra error.
	_, err := v.Validate(context.Background(), sig, domain.Deployment{Wallet: "0xw", ChainID: 42161}, "ETH", adapter)
	if !domain.IsValidation(err) {
		t.Fatalf("err = %v, want validation rejection", err)
	}
	if !strings.Contains(err.Error(), "no address mapping") {
		t.Errorf("err = %q, want mapping rejection", err.Error())
	}
}

func TestValidateInfraErrorPropagates(t *testing.T) {
	v, _, _ := validatorFixture()
	infra := errors.New("sidecar unreachable")
	adapter := &fakeAdapter{venue: domain.VenueHyperliquid, freeErr: infra}
	sig := validationSignal(domain.VenueHyperliquid, domain.Sizing{Kind: domain.SizingPercentage, Value: 10, Leverage: 1})

	_, err := v.Validate(context.Background(), sig, domain.Deployment{Wallet: "0xw"}, "ETH", adapter)
	if domain.IsValidation(err) {
		t.Fatal("infrastructure failures must not masquerade as validation rejections")
	}
	if !errors.Is(err, infra) {
		t.Errorf("err = %v, want wrapped %v", err, infra)
	}
}
