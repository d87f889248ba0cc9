package config

import (
	"tranchor/fixedpoint"
	nativecommon "tranchor/native/common"
)

// Currency resolves the configured ledger precision into a runtime value.
func (g Global) Currency() fixedpoint.Precision {
	return fixedpoint.Precision{
		Decimals: g.Ledger.CurrencyDecimals,
		Signed:   g.Ledger.CurrencySigned,
	}
}

// PauseView converts the configured pause switches into the view consumed by
// the engines.
func (g Global) PauseView() nativecommon.StaticPauses {
	return nativecommon.StaticPauses{
		nativecommon.ModuleLoans:     g.Pauses.Loans,
		nativecommon.ModuleOracle:    g.Pauses.Oracle,
		nativecommon.ModuleReporting: g.Pauses.Reporting,
	}
}
