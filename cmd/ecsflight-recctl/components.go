package main

import (
	"fmt"
	"math/rand"

	ecs "github.com/flightcore/ecsflight"
)

// Position and Health are the demo schema's fixed-size components;
// Name is managed (variable-length, codec-serialized). Registering a
// small, fixed schema gives record/replay/seek something concrete to
// exercise without pulling in a real game's component set — the same
// role sloty's synthetic bulk/seq commands play for slotcache.
type Position struct {
	X, Y float32
}

type Health struct {
	HP int32
}

type Name struct {
	Value string
}

// registerDemoSchema registers the fixed demo component set on repo.
// Returns an error wrapping whichever registration failed.
func registerDemoSchema(repo *ecs.Repo) error {
	if _, err := ecs.RegisterComponent[Position](repo, ecs.RegisterOptions{}); err != nil {
		return fmt.Errorf("register Position: %w", err)
	}

	if _, err := ecs.RegisterComponent[Health](repo, ecs.RegisterOptions{}); err != nil {
		return fmt.Errorf("register Health: %w", err)
	}

	if _, err := ecs.RegisterComponent[Name](repo, ecs.RegisterOptions{Managed: true}); err != nil {
		return fmt.Errorf("register Name: %w", err)
	}

	return nil
}

// seedWorld populates repo with a small deterministic batch of
// entities, so a freshly built repo has something worth capturing.
// rng is caller-seeded to keep `record` runs reproducible.
func seedWorld(repo *ecs.Repo, rng *rand.Rand, count int) ([]ecs.Entity, error) {
	entities := make([]ecs.Entity, 0, count)

	for i := 0; i < count; i++ {
		e, err := repo.CreateEntity()
		if err != nil {
			return nil, fmt.Errorf("create entity %d: %w", i, err)
		}

		if err := ecs.AddComponent(repo, e, Position{X: float32(rng.Intn(100)), Y: float32(rng.Intn(100))}); err != nil {
			return nil, fmt.Errorf("add Position to entity %d: %w", i, err)
		}

		if err := ecs.AddComponent(repo, e, Health{HP: int32(50 + rng.Intn(50))}); err != nil {
			return nil, fmt.Errorf("add Health to entity %d: %w", i, err)
		}

		if rng.Intn(2) == 0 {
			if err := ecs.AddManagedComponent(repo, e, Name{Value: fmt.Sprintf("entity-%d", i)}); err != nil {
				return nil, fmt.Errorf("add Name to entity %d: %w", i, err)
			}
		}

		entities = append(entities, e)
	}

	return entities, nil
}
