package engine

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/formrecovery/internal/model"
)

func TestUUIDv7Generator_ValidFormat(t *testing.T) {
	gen := UUIDv7Generator{}
	id := gen.Generate()

	// Verify 36 characters (hyphenated UUID format)
	assert.Equal(t, 36, len(id), "run ID should be 36 characters")

	// Verify it's a valid UUID
	parsed, err := uuid.Parse(id)
	require.NoError(t, err, "run ID should be a valid UUID")

	// Verify it's UUIDv7 (version 7)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestUUIDv7Generator_Uniqueness(t *testing.T) {
	gen := UUIDv7Generator{}
	const iterations = 1000

	ids := make(map[string]bool, iterations)

	// Generate many ids
	for i := 0; i < iterations; i++ {
		id := gen.Generate()
		require.False(t, ids[id], "id %s generated twice", id)
		ids[id] = true
	}

	assert.Equal(t, iterations, len(ids), "all run IDs should be unique")
}

func TestUUIDv7Generator_HyphenatedFormat(t *testing.T) {
	gen := UUIDv7Generator{}
	id := gen.Generate()

	// Verify hyphenated format: 8-4-4-4-12
	// Example: "550e8400-e29b-41d4-a716-446655440000"
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, id)
}

func TestUUIDv7Generator_Concurrent(t *testing.T) {
	gen := UUIDv7Generator{}
	const goroutines = 100

	ids := make(chan string, goroutines)
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- gen.Generate()
		}()
	}

	wg.Wait()
	close(ids)

	// Verify all ids are unique
	seen := make(map[string]bool)
	for id := range ids {
		require.False(t, seen[id], "duplicate run ID generated")
		seen[id] = true
	}

	assert.Equal(t, goroutines, len(seen))
}

func TestFixedGenerator_Sequential(t *testing.T) {
	gen := NewFixedGenerator("run-1", "run-2", "run-3")

	assert.Equal(t, "run-1", gen.Generate())
	assert.Equal(t, "run-2", gen.Generate())
	assert.Equal(t, "run-3", gen.Generate())
}

func TestFixedGenerator_RepeatsLastWhenExhausted(t *testing.T) {
	gen := NewFixedGenerator("run-1")

	assert.Equal(t, "run-1", gen.Generate())
	assert.Equal(t, "run-1", gen.Generate())
}

func TestFixedGenerator_EmptyIDs(t *testing.T) {
	gen := NewFixedGenerator()
	assert.Equal(t, "run-fixed", gen.Generate())
}

func TestOrchestrator_UsesUUIDv7RunIDs(t *testing.T) {
	fake := newFake(t)
	fake.AddForm("f1")

	var seen []string
	orch, err := New(func(runID string) (Upstream, error) {
		seen = append(seen, runID)
		return newClient(t, fake, nil), nil
	}, Options{Forms: []model.FormSpec{form("f1", "plan", "plan_tier")}, Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := orch.Run(context.Background(), Request{Mode: model.ModeSmoke})
		require.NoError(t, err)
	}

	require.Len(t, seen, 2)
	assert.NotEqual(t, seen[0], seen[1], "every run gets a fresh ID")
	for _, id := range seen {
		parsed, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), parsed.Version())
	}
}
