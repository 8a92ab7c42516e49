// Package harness runs recovery scenarios end to end.
//
// A scenario describes the upstream world (forms, submissions, contacts,
// injected failures and rate headers), the run to trigger, and what must
// hold afterwards. The harness runs the real orchestrator and HubSpot
// client against an in-memory fake, so the whole path from fetch to patch
// is exercised.
//
// # Scenario Format
//
//	name: fill_empty_property
//	description: "An empty property is filled from the submission"
//	run_id: run-0001
//	mode: write
//	forms:
//	  - id: f1
//	    fields: { plan: plan_tier }
//	submissions:
//	  f1:
//	    - values: [{ name: email, value: a@x.com }, { name: plan, value: gold }]
//	contacts:
//	  - id: "1"
//	    properties: { email: a@x.com }
//	expect: { processed: 1, updated: 1, skipped: 0, errors: 0 }
//	assertions:
//	  - type: event_contains
//	    event: submission_processed
//	    fields: { outcome: updated }
//	  - type: final_contact
//	    contact: "1"
//	    expect: { plan_tier: gold }
//
// # Assertion Types
//
//   - event_contains: an event with the name and a subset of fields exists
//   - event_order: the named events first appear in the given order
//   - event_count: an event appears exactly N times
//   - call_count: the fake received exactly N calls of a method
//   - final_contact: a contact ends with the expected property values
//
// # Deterministic Testing
//
// Scenarios run with a fixed run ID (testutil.FixedRunIDGenerator), a
// deterministic sequence (testutil.DeterministicClock), a stepping wall
// clock and a sleeper that records pauses instead of sleeping. The same
// scenario always yields byte-identical traces, which RunWithGolden
// compares against testdata/golden.
package harness
