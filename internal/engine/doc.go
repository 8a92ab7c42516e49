// Package engine implements the form submission recovery run.
//
// A run walks every configured form in order. For each form it first
// fetches every submission page (snapshot isolation: writes made during
// the run cannot change what the run processes), then takes submissions
// one at a time through a fixed pipeline:
//
//	MapFields -> Resolver.FindByEmail -> Decide -> Applier.Apply
//
// ARCHITECTURE:
//
// Sequential Execution:
// Forms and submissions are processed strictly one after another. The
// pacing governor reads remaining-call headers from the latest response;
// that signal is only accurate when calls do not overlap. Event lines are
// therefore also totally ordered within a run.
//
// Explicit State Machine:
// Each submission moves through the states in state.go, validated against
// a transition table. Every move emits a debug-level submission_state
// event; terminal states emit the info-level outcome event and feed
// exactly one counter, so processed = updated + skipped + errors holds at
// every point of the run.
//
// CRITICAL PATTERNS:
//
// No-Overwrite Guard:
// Decide only ever writes a property whose current value is absent or
// blank. Re-running is safe: the second pass finds everything populated.
//
// Failure Containment:
// Component failures are returned as *RunError and converted to counters
// and events by the orchestrator. Nothing is retried at this level, and
// the hubspot client sends each search and update exactly once.
package engine
