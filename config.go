package x402

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Defaults applied when the corresponding Config field is zero.
const (
	DefaultChainID      = 8453
	DefaultCurrency     = "USDC"
	DefaultChallengeTTL = 5 * time.Minute
)

// Config holds one merchant configuration. A Config is immutable once handed
// to NewServer; reconfiguration means constructing a new Server with a new
// Config, never mutating a shared one in place.
type Config struct {
	// Merchant is the account address that receives payment. Required.
	Merchant string `env:"X402_MERCHANT_ADDRESS"`

	// ChainID is the network identifier signatures are bound to.
	ChainID int64 `env:"X402_CHAIN_ID" envDefault:"8453"`

	// Currency is the default token symbol for issued challenges.
	Currency string `env:"X402_CURRENCY" envDefault:"USDC"`

	// ChallengeTTL is how long an issued challenge stays valid.
	ChallengeTTL time.Duration `env:"X402_CHALLENGE_TTL" envDefault:"5m"`

	// EndpointPricing maps URL patterns to pricing rules. Patterns support
	// exact matches ("/v1/paid") and wildcards ("/v1/*").
	EndpointPricing map[string]PricingRule `env:"-"`

	// MethodPricing maps gRPC method names to pricing rules. Methods are full
	// names like "/package.Service/Method"; "/package.Service/*" matches all
	// methods in a service.
	MethodPricing map[string]PricingRule `env:"-"`

	// DefaultPricing is used when no pattern matches (optional). If nil,
	// unmatched endpoints don't require payment.
	DefaultPricing *PricingRule `env:"-"`

	// SkipPaths lists URL patterns that bypass payment checks entirely.
	SkipPaths []string `env:"X402_SKIP_PATHS" envSeparator:","`

	// SkipMethods lists gRPC methods that bypass payment checks.
	SkipMethods []string `env:"-"`
}

// PricingRule defines the payment required for an endpoint. Zero-valued
// fields other than Price fall back to the Config defaults.
type PricingRule struct {
	// Price is the amount in token units, as a non-negative decimal string.
	Price string

	// Currency overrides Config.Currency for this endpoint (optional).
	Currency string

	// ChainID overrides Config.ChainID for this endpoint (optional).
	ChainID int64

	// Description explains what this payment is for.
	Description string
}

// ConfigFromEnv loads a Config from environment variables, reading a .env
// file first when one is present.
func ConfigFromEnv() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse x402 environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var priceRe = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Merchant == "" {
		return NewPaymentError(ErrCodeMissingMerchant, "merchant address is required", nil)
	}
	if !common.IsHexAddress(c.Merchant) {
		return NewPaymentError(ErrCodeInvalidConfig, fmt.Sprintf("invalid merchant address %q", c.Merchant), nil)
	}
	if c.ChainID == 0 {
		c.ChainID = DefaultChainID
	}
	if c.ChainID < 0 {
		return NewPaymentError(ErrCodeInvalidConfig, fmt.Sprintf("invalid chain id %d", c.ChainID), nil)
	}
	if c.Currency == "" {
		c.Currency = DefaultCurrency
	}
	if c.ChallengeTTL == 0 {
		c.ChallengeTTL = DefaultChallengeTTL
	}
	if c.ChallengeTTL < 0 {
		return NewPaymentError(ErrCodeInvalidConfig, "challenge TTL must be positive", nil)
	}

	for pattern, rule := range c.EndpointPricing {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("invalid pricing rule for pattern %q: %w", pattern, err)
		}
	}
	for method, rule := range c.MethodPricing {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("invalid pricing rule for method %q: %w", method, err)
		}
	}
	if c.DefaultPricing != nil {
		if err := c.DefaultPricing.Validate(); err != nil {
			return fmt.Errorf("invalid default pricing rule: %w", err)
		}
	}

	return nil
}

// Validate checks if the pricing rule is valid.
func (p *PricingRule) Validate() error {
	if p.Price == "" {
		return fmt.Errorf("price is required")
	}
	if !priceRe.MatchString(p.Price) {
		return fmt.Errorf("price %q must be a non-negative decimal string", p.Price)
	}
	if p.ChainID < 0 {
		return fmt.Errorf("invalid chain id %d", p.ChainID)
	}
	return nil
}

// MatchEndpoint finds the pricing rule for a given path.
func (c *Config) MatchEndpoint(requestPath string) (*PricingRule, bool) {
	for _, skipPath := range c.SkipPaths {
		if matchPath(requestPath, skipPath) {
			return nil, false
		}
	}
	return matchRules(requestPath, c.EndpointPricing, c.DefaultPricing)
}

// MatchMethod finds the pricing rule for a given gRPC method.
func (c *Config) MatchMethod(fullMethod string) (*PricingRule, bool) {
	for _, skipMethod := range c.SkipMethods {
		if matchPath(fullMethod, skipMethod) {
			return nil, false
		}
	}
	return matchRules(fullMethod, c.MethodPricing, c.DefaultPricing)
}

func matchRules(name string, rules map[string]PricingRule, fallback *PricingRule) (*PricingRule, bool) {
	if rule, ok := rules[name]; ok {
		return &rule, true
	}

	var bestMatch string
	var bestRule *PricingRule
	for pattern, rule := range rules {
		if matchPath(name, pattern) && len(pattern) > len(bestMatch) {
			bestMatch = pattern
			ruleCopy := rule
			bestRule = &ruleCopy
		}
	}
	if bestRule != nil {
		return bestRule, true
	}

	if fallback != nil {
		return fallback, true
	}
	return nil, false
}

func matchPath(requestPath, pattern string) bool {
	if requestPath == pattern {
		return true
	}

	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return strings.HasPrefix(requestPath, prefix+"/") || requestPath == prefix
	}

	matched, _ := path.Match(pattern, requestPath)
	return matched
}
