package event

// Event types published by the kernel core. The dotted segments form the
// hierarchy used by wildcard subscriptions: `inject.*` matches `inject`,
// `inject.requested` and `inject.requested.retry`.
const (
	// Injection lifecycle.
	TypeInjectRequested = "inject.requested"
	TypeInjectResumed   = "inject.resumed"
	TypeInjectDropped   = "inject.dropped"

	// Resize lifecycle.
	TypeResizeRequested = "resize.requested"
	TypeResizeStarted   = "resize.started"

	// State vector changes.
	TypePaneStateChanged = "pane.state.changed"

	// Contract engine.
	TypeContractChecked         = "contract.checked"
	TypeContractViolation       = "contract.violation"
	TypeContractShadowViolation = "contract.shadow.violation"
	TypeContractPromoted        = "contract.promoted"

	// Cascading-violation circuit breaker.
	TypeSafeModeEntered = "safemode.entered"
	TypeSafeModeExited  = "safemode.exited"

	// Delivery tracker.
	TypeDeliveryTimeout = "delivery.timeout"
	TypeDeliverySkipped = "delivery.skipped"

	// Best-effort telemetry fault channel. Never re-entrant.
	TypeBusError = "bus.error"
)

// Suffixes appended to a type root by the deferred queue when an entry is
// resumed or dropped, e.g. `inject.resumed`, `resize.dropped`.
const (
	SuffixResumed = "resumed"
	SuffixDropped = "dropped"
)
