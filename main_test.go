package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"smc-trading-engine/config"
)

func TestOpenStorageDisabledLeavesPersistenceNil(t *testing.T) {
	cfg := &config.Config{}

	repo, persistence, closeStorage, err := openStorage(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closeStorage()

	if repo != nil {
		t.Error("expected no repository with the database disabled")
	}
	// The interface must be untyped nil; a nil *Repository inside it would
	// pass the engine's nil checks and panic on the first storage write.
	if persistence != nil {
		t.Error("persistence interface must be nil with the database disabled")
	}
}
