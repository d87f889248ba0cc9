// Package common holds the small shared surface of the native modules:
// pause guards and the module names they key on.
package common

import "errors"

// ErrModulePaused is returned by Guard when the named module is halted.
var ErrModulePaused = errors.New("module paused")

// Module names recognised by the pause switchboard.
const (
	ModuleLoans     = "loans"
	ModuleOracle    = "oracle"
	ModuleReporting = "reporting"
)

// PauseView reports whether a module is administratively halted. Mutating
// operations consult it before touching state; valuation reads do not.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when the pause view halts the module. A nil
// view or empty module name always passes.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// StaticPauses is a fixed PauseView, handy for configuration-driven halts.
type StaticPauses map[string]bool

// IsPaused implements PauseView.
func (s StaticPauses) IsPaused(module string) bool {
	return s[module]
}
