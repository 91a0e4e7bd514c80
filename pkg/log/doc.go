/*
Package log provides structured logging for the VMI runtime using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. Because the runtime lives inside a hypervisor's
stopped-VM window, log calls made from dispatch and continue-hooks must stay
cheap — zerolog's zero-allocation disabled levels are the reason it was picked
over a more featureful but heavier logging library.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - zerolog.Logger, set by log.Init()        │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("events")                  │          │
	│  │  - WithPlugin("breakpoint")                 │          │
	│  │  - WithCPU(n) / WithGFN(gfn)                │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output (JSON or console)     │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	slpLog := log.WithComponent("slp")
	slpLog.Debug().Uint64("gfn", gfn).Bool("r", r).Bool("w", w).Bool("x", x).
		Msg("permissions committed")

	bpLog := log.WithPlugin("breakpoint").With().Uint64("gpa", gpa).Logger()
	bpLog.Info().Msg("breakpoint armed")

# Design Patterns

Global logger plus child-logger-with-context mirrors the rest of this
codebase family: a single Init() at process start, then cheap
With()-derived loggers passed down into coordinators so every log line
carries the CPU/gfn/plugin that produced it without repeating fields by
hand at every call site.

Do:
  - Log state transitions (Armed/Hidden, armed_method changes) at Debug.
  - Log recovered panics from subscriber callbacks at Error, with the
    subscription's kind and the panic value.
  - Log fatal startup failures (producer collisions) at Fatal.

Don't:
  - Log inside the hot per-instruction single-step path at Info or above.
  - Block on log writes from within a continue-hook.
*/
package log
