package hub

import (
	"testing"

	"yankcord/internal/models"
)

func TestRegistryAttachIdentityEvictsPriorConnection(t *testing.T) {
	r := newRegistry()
	first := newConnection("conn1", noopClose)
	second := newConnection("conn2", noopClose)
	r.register(first)
	r.register(second)

	if evicted := r.attachIdentity(first, models.Identity{UserID: "u1", Username: "alice"}); evicted != nil {
		t.Fatalf("first attach should not evict anything, got %v", evicted)
	}
	if first.State() != stateAuthenticated {
		t.Fatal("expected first connection to become authenticated")
	}

	evicted := r.attachIdentity(second, models.Identity{UserID: "u1", Username: "alice"})
	if evicted == nil || evicted.ID != "conn1" {
		t.Fatalf("expected second attach to evict conn1, got %v", evicted)
	}

	c, ok := r.byUser("alice")
	if !ok || c.ID != "conn2" {
		t.Fatal("expected alice to now resolve to conn2")
	}
}

func TestRegistryIsLastForUsername(t *testing.T) {
	r := newRegistry()
	c := newConnection("conn1", noopClose)
	r.register(c)
	r.attachIdentity(c, models.Identity{UserID: "u1", Username: "alice"})

	if !r.isLastForUsername("alice", "conn1") {
		t.Fatal("expected conn1 to be the last live session for alice")
	}

	second := newConnection("conn2", noopClose)
	r.register(second)
	r.attachIdentity(second, models.Identity{UserID: "u1", Username: "alice"})

	if r.isLastForUsername("alice", "conn1") {
		t.Fatal("conn1 was evicted; it should no longer be considered the last session")
	}
}

func TestRegistryDropIsIdempotentAfterEviction(t *testing.T) {
	r := newRegistry()
	first := newConnection("conn1", noopClose)
	second := newConnection("conn2", noopClose)
	r.register(first)
	r.register(second)
	r.attachIdentity(first, models.Identity{UserID: "u1", Username: "alice"})
	r.attachIdentity(second, models.Identity{UserID: "u1", Username: "alice"})

	// Dropping the evicted connection must not remove the successor's
	// username mapping.
	r.drop(first)

	c, ok := r.byUser("alice")
	if !ok || c.ID != "conn2" {
		t.Fatal("dropping the evicted connection clobbered the live one's username mapping")
	}

	r.drop(second)
	if _, ok := r.byUser("alice"); ok {
		t.Fatal("expected alice to have no live connection after dropping conn2")
	}
}
