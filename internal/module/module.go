// Package module defines the three pluggable module contracts (Monitor,
// Command, Connector) that the Monitor Manager, Command Handler and
// Connection Manager coordinate. Bodies belong to internal/modules/*; this
// package only fixes the shape every implementation must satisfy, modelled
// as small capability interfaces rather than a class hierarchy (see DESIGN.md).
package module

import (
	"github.com/nmslite/nmslite/internal/domain"
)

// Metadata is common to every module variant.
type Metadata struct {
	Spec           domain.ModuleSpecification
	ParentModule   *domain.ModuleSpecification // nil for a base module
	DisplayOptions domain.DisplayOptions
}

// Base is embedded by all three variants so the registry can type-switch on
// the capability interfaces below without inheritance.
type Base interface {
	Metadata() Metadata
	ModuleSpec() domain.ModuleSpecification
}

// Monitor is a read-only probe. A monitor whose Metadata().ParentModule is
// nil is a "base" module; otherwise it is an "extension" fed the base's
// DataPoint as parentDatapoint.
//
// ConnectorSpec may return (spec, false) to indicate a "no-connector"
// monitor that synthesizes its DataPoint without any transport at all; the
// scheduler treats that the same as a monitor requiring no additional
// connector resolution step. A monitor that must ride whatever connector a
// host happens to be configured with, rather than one fixed spec (e.g.
// platform-info's bootstrap probe), resolves that choice once at
// construction time from its settings instead of here.
type Monitor interface {
	Base
	ConnectorSpec() (domain.ModuleSpecification, bool)
	// ConnectorMessages builds the messages for a ConnectorRequest. parent is
	// nil for a base module's initial dispatch.
	ConnectorMessages(host domain.Host, parent *domain.DataPoint) ([]string, error)
	// ProcessResponses turns the ordered results into one DataPoint. An Err
	// with an empty message signals "no opinion" — the Monitor Manager falls
	// back to ProcessResponse on the first response.
	ProcessResponses(host domain.Host, responses []domain.ResponseMessage, parent *domain.DataPoint) (domain.DataPoint, error)
	// ProcessResponse handles a single response; used for no-connector
	// modules and as the ProcessResponses fallback.
	ProcessResponse(host domain.Host, response domain.ResponseMessage, parent *domain.DataPoint) (domain.DataPoint, error)
}

// Command is an operator-invoked action.
type Command interface {
	Base
	ConnectorSpec() (domain.ModuleSpecification, bool)
	ConnectorMessages(host domain.Host, targetIDs []string) ([]string, error)
	ProcessResponse(host domain.Host, responses []domain.ResponseMessage) (domain.CommandResult, error)
}

// Connector is a transport module: it turns a message string into a
// ResponseMessage. Implementations own their own live connection and must
// be safe to construct once and reused across many Send calls from a single
// Connection Manager worker (never called concurrently for the same
// instance — the worker model guarantees that).
type Connector interface {
	Base
	// Connect establishes the underlying transport (dial + authenticate).
	// It may be called again after a prior connection has failed; doing so
	// must be safe (idempotent rebuild).
	Connect(host domain.Host, credentials map[string]string) error
	// Send executes one message and returns its raw response.
	Send(requestType domain.RequestType, message string) (domain.ResponseMessage, error)
	Close() error
}

// ErrFallback is the canonical "no opinion" signal a Monitor's
// ProcessResponses may return to ask the Monitor Manager to fall back to
// ProcessResponse on the first response: an Err whose message is empty.
var ErrFallback = &emptyError{}

type emptyError struct{}

func (*emptyError) Error() string { return "" }

// IsFallback reports whether err is the empty-message fallback sentinel.
func IsFallback(err error) bool {
	return err != nil && err.Error() == ""
}

// UnknownModuleError is returned by the registry for an unrecognized
// ModuleSpecification. It is one of the two error kinds allowed to escape
// the engine (the other being a Config error).
type UnknownModuleError struct {
	Kind string
	Spec domain.ModuleSpecification
}

func (e *UnknownModuleError) Error() string {
	return "unknown " + e.Kind + " module: " + e.Spec.String()
}
