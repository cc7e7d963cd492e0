package memory

import (
	"context"
	"testing"
	"time"

	"github.com/lookym/authgate/internal/domain/auth"
)

func TestPersister_SaveLoadClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := NewPersister()

	got, err := p.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got != nil {
		t.Fatalf("Load() on empty persister = %v, want nil", got)
	}

	now := time.Now()
	sess, err := auth.NewSession(auth.User{ID: "u1"}, "at", "rt", now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("NewSession() error: %v", err)
	}
	if err := p.Save(ctx, sess); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	// Mutating the original must not affect the stored copy.
	sess.AccessToken = "changed"

	got, err = p.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got == nil || got.AccessToken != "at" {
		t.Errorf("Load() = %v, want stored copy with token at", got)
	}
	if p.Saves() != 1 {
		t.Errorf("Saves() = %d, want 1", p.Saves())
	}

	if err := p.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if got, _ := p.Load(ctx); got != nil {
		t.Errorf("Load() after Clear = %v, want nil", got)
	}
}
