// Package logging wires github.com/luxfi/log into spacepanda components.
//
// Components take a log.Logger field rather than reaching for a package
// global, so tests can swap in a no-op logger the way luxfi-consensus's
// confidence_test.go swaps in stub dependencies.
package logging

import (
	"github.com/luxfi/log"
)

// New returns a logger tagged with the named component. It is built on
// the same no-op logger as NewNoOp, so it also discards everything.
func New(component string) log.Logger {
	return log.NewNoOpLogger().With("component", component)
}

// NewNoOp returns a logger that discards everything, for tests.
func NewNoOp() log.Logger {
	return log.NewNoOpLogger()
}
