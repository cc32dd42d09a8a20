package x402

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing merchant",
			cfg:     Config{},
			wantErr: "merchant address is required",
		},
		{
			name:    "bad merchant address",
			cfg:     Config{Merchant: "not-an-address"},
			wantErr: "invalid merchant address",
		},
		{
			name:    "short merchant address",
			cfg:     Config{Merchant: "0x1234"},
			wantErr: "invalid merchant address",
		},
		{
			name: "negative ttl",
			cfg:  Config{Merchant: testMerchant, ChallengeTTL: -time.Minute},

			wantErr: "challenge TTL must be positive",
		},
		{
			name: "bad pricing rule",
			cfg: Config{
				Merchant:        testMerchant,
				EndpointPricing: map[string]PricingRule{"/x": {Price: "free"}},
			},
			wantErr: "non-negative decimal",
		},
		{
			name: "negative price",
			cfg: Config{
				Merchant:        testMerchant,
				EndpointPricing: map[string]PricingRule{"/x": {Price: "-1"}},
			},
			wantErr: "non-negative decimal",
		},
		{
			name: "bad default pricing",
			cfg: Config{
				Merchant:       testMerchant,
				DefaultPricing: &PricingRule{},
			},
			wantErr: "price is required",
		},
		{
			name: "valid",
			cfg: Config{
				Merchant: testMerchant,
				EndpointPricing: map[string]PricingRule{
					"/x": {Price: "0.01"},
					"/y": {Price: "12"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigValidate_FillsDefaults(t *testing.T) {
	cfg := Config{Merchant: testMerchant}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.ChainID != DefaultChainID {
		t.Errorf("expected chain id %d, got %d", DefaultChainID, cfg.ChainID)
	}
	if cfg.Currency != DefaultCurrency {
		t.Errorf("expected currency %s, got %s", DefaultCurrency, cfg.Currency)
	}
	if cfg.ChallengeTTL != DefaultChallengeTTL {
		t.Errorf("expected TTL %s, got %s", DefaultChallengeTTL, cfg.ChallengeTTL)
	}
}

func TestMatchEndpoint(t *testing.T) {
	cfg := Config{
		Merchant: testMerchant,
		EndpointPricing: map[string]PricingRule{
			"/v1/paid":      {Price: "0.01"},
			"/v1/reports/*": {Price: "0.25"},
			"/v1/*":         {Price: "0.05"},
		},
		SkipPaths: []string{"/healthz", "/public/*"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tests := []struct {
		path      string
		wantPrice string
		wantMatch bool
	}{
		{"/v1/paid", "0.01", true},
		{"/v1/reports/42", "0.25", true}, // longest pattern wins
		{"/v1/other", "0.05", true},
		{"/v2/paid", "", false},
		{"/healthz", "", false},
		{"/public/docs", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rule, ok := cfg.MatchEndpoint(tt.path)
			if ok != tt.wantMatch {
				t.Fatalf("match=%v, want %v", ok, tt.wantMatch)
			}
			if ok && rule.Price != tt.wantPrice {
				t.Errorf("price=%s, want %s", rule.Price, tt.wantPrice)
			}
		})
	}
}

func TestMatchEndpoint_DefaultPricing(t *testing.T) {
	cfg := Config{
		Merchant:       testMerchant,
		DefaultPricing: &PricingRule{Price: "0.001"},
		SkipPaths:      []string{"/healthz"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	rule, ok := cfg.MatchEndpoint("/anything")
	if !ok || rule.Price != "0.001" {
		t.Errorf("expected default pricing, got ok=%v rule=%+v", ok, rule)
	}
	if _, ok := cfg.MatchEndpoint("/healthz"); ok {
		t.Error("skip paths take precedence over default pricing")
	}
}

func TestMatchMethod(t *testing.T) {
	cfg := Config{
		Merchant: testMerchant,
		MethodPricing: map[string]PricingRule{
			"/api.Reports/Get": {Price: "0.25"},
			"/api.Search/*":    {Price: "0.10"},
		},
		SkipMethods: []string{"/grpc.health.v1.Health/*"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if rule, ok := cfg.MatchMethod("/api.Reports/Get"); !ok || rule.Price != "0.25" {
		t.Errorf("exact method: ok=%v rule=%+v", ok, rule)
	}
	if rule, ok := cfg.MatchMethod("/api.Search/Query"); !ok || rule.Price != "0.10" {
		t.Errorf("wildcard method: ok=%v rule=%+v", ok, rule)
	}
	if _, ok := cfg.MatchMethod("/api.Other/Do"); ok {
		t.Error("unpriced method must not match")
	}
	if _, ok := cfg.MatchMethod("/grpc.health.v1.Health/Check"); ok {
		t.Error("skipped method must not match")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("X402_MERCHANT_ADDRESS", testMerchant)
	t.Setenv("X402_CHAIN_ID", "84532")
	t.Setenv("X402_CURRENCY", "EURC")
	t.Setenv("X402_CHALLENGE_TTL", "90s")
	t.Setenv("X402_SKIP_PATHS", "/healthz,/metrics")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.Merchant != testMerchant {
		t.Errorf("merchant=%s", cfg.Merchant)
	}
	if cfg.ChainID != 84532 {
		t.Errorf("chain id=%d", cfg.ChainID)
	}
	if cfg.Currency != "EURC" {
		t.Errorf("currency=%s", cfg.Currency)
	}
	if cfg.ChallengeTTL != 90*time.Second {
		t.Errorf("ttl=%s", cfg.ChallengeTTL)
	}
	if len(cfg.SkipPaths) != 2 || cfg.SkipPaths[0] != "/healthz" {
		t.Errorf("skip paths=%v", cfg.SkipPaths)
	}
}

func TestConfigFromEnv_MissingMerchant(t *testing.T) {
	t.Setenv("X402_MERCHANT_ADDRESS", "")

	_, err := ConfigFromEnv()
	if PaymentErrorCode(err) != ErrCodeMissingMerchant {
		t.Fatalf("expected %s, got %v", ErrCodeMissingMerchant, err)
	}
}
