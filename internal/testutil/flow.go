package testutil

// DefaultRunID is used when a scenario names no run ID.
const DefaultRunID = "run-scenario"

// FixedRunIDGenerator returns the same run ID every time.
//
// This enables deterministic scenario execution and golden trace comparison:
// the same scenario produces byte-identical event streams.
//
// Unlike engine.FixedGenerator, which steps through a list, this generator
// never changes, so repeated runs of one scenario share an ID.
//
// Thread-safety: FixedRunIDGenerator is stateless and safe for concurrent use.
type FixedRunIDGenerator struct {
	id string
}

// NewFixedRunIDGenerator creates a generator for id. If id is empty,
// Generate returns DefaultRunID.
//
// The ID is typically set in the scenario YAML:
//
//	run_id: "run-0001"
func NewFixedRunIDGenerator(id string) *FixedRunIDGenerator {
	if id == "" {
		id = DefaultRunID
	}
	return &FixedRunIDGenerator{id: id}
}

// Generate returns the fixed run ID.
//
// Implements engine.RunIDGenerator.
func (g *FixedRunIDGenerator) Generate() string {
	return g.id
}
