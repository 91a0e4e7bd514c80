// Package vmierrors collects the sentinel errors returned across the VMI
// runtime, so callers can test for them with errors.Is regardless of which
// package wraps them.
package vmierrors

import "errors"

var (
	// ErrNotInitialized is returned when an operation is attempted on a
	// component that has not completed its Init lifecycle step.
	ErrNotInitialized = errors.New("vmicore: component not initialized")

	// ErrNotFound is returned when a lookup by name finds nothing
	// registered, e.g. registry.Get or a plugin/event producer lookup.
	ErrNotFound = errors.New("vmicore: not found")

	// ErrAlreadyRegistered is returned when a name is registered twice
	// against the service registry.
	ErrAlreadyRegistered = errors.New("vmicore: already registered")

	// ErrProducerExists is returned when a plugin attempts to register as
	// the producer for an event kind that already has one.
	ErrProducerExists = errors.New("vmicore: event producer already exists")

	// ErrTranslation is returned when a guest virtual address cannot be
	// translated to a physical address (unmapped or faulting page table).
	ErrTranslation = errors.New("vmicore: address translation failed")

	// ErrPermUpdateViolation is returned when an SLP permission update
	// would violate the write-xor-execute invariant.
	ErrPermUpdateViolation = errors.New("vmicore: permission update violates w xor x")

	// ErrMethodConflict is returned when a single step is requested on a
	// CPU that already has a different method armed.
	ErrMethodConflict = errors.New("vmicore: single-step method conflict")

	// ErrQemuFeature is returned when the hypervisor rejects a feature
	// toggle request (debug, MTF, LBR, SLP, task-switch tracking).
	ErrQemuFeature = errors.New("vmicore: hypervisor feature request failed")

	// ErrSymbolResolution is returned when an OS facade cannot resolve a
	// requested kernel symbol or structure offset.
	ErrSymbolResolution = errors.New("vmicore: symbol resolution failed")
)
