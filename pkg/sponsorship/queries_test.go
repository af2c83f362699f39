package sponsorship

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/statsgallery/sponsorship/pkg/auth"
)

func TestQueriesBySlice(t *testing.T) {
	now := time.Now()
	elapsed := time.Duration(0)
	store, _ := newTestStore(t)
	store.WithClock(func() time.Time { return now.Add(elapsed) })
	ctx := context.Background()

	// Five proposals: 1 accepted, 2 rejected, 3 rescinded, 4 pending,
	// 5 pending but submitted with a short window so it expires first.
	for i := 0; i < 4; i++ {
		if _, err := store.Submit(ctx, testSubmission()); err != nil {
			t.Fatal(err)
		}
	}
	short := testSubmission()
	short.TTL = 10 * time.Minute
	if _, err := store.Submit(ctx, short); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Accept(ctx, "owner-acct", 1, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Reject(ctx, "owner-acct", 2, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Rescind(ctx, "alice", 3); err != nil {
		t.Fatal(err)
	}

	elapsed = 30 * time.Minute

	all := store.All(Page{})
	if len(all) != 5 {
		t.Fatalf("expected 5 proposals, got %d", len(all))
	}
	for i, p := range all {
		if p.ID != uint64(i+1) {
			t.Fatalf("expected submission order, got id %d at index %d", p.ID, i)
		}
	}

	pending := store.Pending(Page{})
	if len(pending) != 1 || pending[0].ID != 4 {
		t.Fatalf("expected only proposal 4 pending, got %v", pending)
	}

	expired := store.ExpiredPending(Page{})
	if len(expired) != 1 || expired[0].ID != 5 {
		t.Fatalf("expected only proposal 5 expired, got %v", expired)
	}

	rejected := store.ByStatus(StatusRejected, Page{})
	if len(rejected) != 1 || rejected[0].ID != 2 {
		t.Fatalf("expected only proposal 2 rejected, got %v", rejected)
	}
}

func TestQueryPaging(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.Submit(ctx, testSubmission()); err != nil {
			t.Fatal(err)
		}
	}

	page := store.All(Page{Offset: 1, Limit: 2})
	if len(page) != 2 || page[0].ID != 2 || page[1].ID != 3 {
		t.Fatalf("expected ids 2,3, got %v", page)
	}

	tail := store.All(Page{Offset: 4, Limit: 10})
	if len(tail) != 1 || tail[0].ID != 5 {
		t.Fatalf("expected id 5, got %v", tail)
	}

	beyond := store.All(Page{Offset: 50, Limit: 10})
	if len(beyond) != 0 {
		t.Fatalf("expected empty page, got %v", beyond)
	}
}

func TestTagRegistry(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	tags := store.Tags()
	if len(tags) != 2 || tags[0] != "gold" || tags[1] != "silver" {
		t.Fatalf("expected sorted seed tags, got %v", tags)
	}

	if err := store.AddTags(ctx, "mallory", []string{"bronze"}); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := store.AddTags(ctx, "owner-acct", []string{"Bronze!"}); !errors.Is(err, ErrInvalidTag) {
		t.Fatalf("expected invalid tag, got %v", err)
	}

	if err := store.AddTags(ctx, "owner-acct", []string{"bronze", "gold"}); err != nil {
		t.Fatal(err)
	}
	if !store.HasTag("bronze") {
		t.Fatal("expected bronze registered")
	}

	sub := testSubmission()
	sub.Tag = "bronze"
	if _, err := store.Submit(ctx, sub); err != nil {
		t.Fatal(err)
	}

	if err := store.RemoveTags(ctx, "owner-acct", []string{"bronze", "never-was"}); err != nil {
		t.Fatal(err)
	}
	if store.HasTag("bronze") {
		t.Fatal("expected bronze removed")
	}
	if _, err := store.Submit(ctx, sub); !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("expected unknown tag after removal, got %v", err)
	}

	// Proposals already submitted under the removed tag keep it.
	existing, err := store.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if existing.Tag != "gold" {
		t.Fatalf("expected tag preserved, got %q", existing.Tag)
	}
}

func TestEmptyRegistryBlocksSubmissions(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	if err := store.RemoveTags(ctx, "owner-acct", []string{"gold", "silver"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Submit(ctx, testSubmission()); !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("expected unknown tag with empty registry, got %v", err)
	}
}
