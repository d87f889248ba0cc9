package config

// Ledger captures the pool currency and persistence location of the loan
// ledger core.
type Ledger struct {
	DataDir          string
	CurrencyDecimals uint8
	CurrencySigned   bool
}

// Oracle bundles the price feed knobs enforced at valuation time.
type Oracle struct {
	// MaxAgeSeconds is the freshness window; observations older than this
	// are refused for settlement and valuation.
	MaxAgeSeconds int64
	// Priority orders the registered sources; earlier entries win.
	Priority []string
	// Endpoint and APIKey configure the optional HTTP source.
	Endpoint string
	APIKey   string
}

// Pauses flips individual modules into a read-only state.
type Pauses struct {
	Loans     bool
	Oracle    bool
	Reporting bool
}

// Reporting configures snapshot persistence and file exports.
type Reporting struct {
	// DSN selects the snapshot database; file paths open an embedded
	// sqlite store, postgres URLs a server.
	DSN string
	// ExportDir receives generated report files.
	ExportDir string
}

// Global bundles the runtime sections enforced by ValidateConfig.
type Global struct {
	Ledger    Ledger
	Oracle    Oracle
	Pauses    Pauses
	Reporting Reporting
}
