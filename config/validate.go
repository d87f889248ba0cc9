package config

import "fmt"

var (
	// MaxCurrencyDecimals bounds pool currency precision; anything beyond
	// quantity precision cannot be represented by conversions.
	MaxCurrencyDecimals = uint8(18)
	// MinOracleMaxAgeSeconds keeps the freshness window from collapsing
	// to zero, which would refuse every observation.
	MinOracleMaxAgeSeconds = int64(1)
)

// ValidateConfig rejects section values the runtime cannot operate on.
func ValidateConfig(g Global) error {
	if g.Ledger.CurrencyDecimals > MaxCurrencyDecimals {
		return fmt.Errorf("ledger: currency_decimals > %d", MaxCurrencyDecimals)
	}
	if g.Oracle.MaxAgeSeconds < MinOracleMaxAgeSeconds {
		return fmt.Errorf("oracle: max_age_seconds < %d", MinOracleMaxAgeSeconds)
	}
	for _, source := range g.Oracle.Priority {
		if source == "" {
			return fmt.Errorf("oracle: empty source name in priority list")
		}
	}
	if g.Reporting.DSN == "" {
		return fmt.Errorf("reporting: dsn required")
	}
	return nil
}
