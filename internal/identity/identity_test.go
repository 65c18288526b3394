package identity_test

import (
	"os"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/Adamhviid/chatterbox-relay/internal/identity"
	"github.com/Adamhviid/chatterbox-relay/internal/store"
)

func newStoreBackedAssigner(t *testing.T) *identity.Assigner {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "identity-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()
	db, err := bolt.Open(f.Name(), 0600, nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	hs, err := store.NewHistoryStore(db)
	if err != nil {
		t.Fatalf("NewHistoryStore: %v", err)
	}
	return identity.NewAssigner(hs)
}

func TestAssign_StoreBackedReconnectKeepsIdentity(t *testing.T) {
	a := newStoreBackedAssigner(t)

	first, err := a.Assign("203.0.113.7")
	if err != nil {
		t.Fatalf("Assign first: %v", err)
	}
	if first == "" {
		t.Fatal("expected a non-empty identity")
	}

	second, err := a.Assign("203.0.113.7")
	if err != nil {
		t.Fatalf("Assign second: %v", err)
	}
	if second != first {
		t.Errorf("reconnect from the same origin changed identity: %q -> %q", first, second)
	}

	other, err := a.Assign("203.0.113.8")
	if err != nil {
		t.Fatalf("Assign other origin: %v", err)
	}
	if other == first {
		t.Errorf("different origins shared identity %q", first)
	}
}

func TestAssign_ConcurrentFirstContactBindsOneIdentity(t *testing.T) {
	a := newStoreBackedAssigner(t)

	const workers = 8
	results := make(chan string, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			id, err := a.Assign("203.0.113.9")
			if err != nil {
				errs <- err
				return
			}
			results <- id
		}()
	}

	var first string
	for i := 0; i < workers; i++ {
		select {
		case err := <-errs:
			t.Fatalf("Assign: %v", err)
		case id := <-results:
			if first == "" {
				first = id
			} else if id != first {
				t.Fatalf("concurrent first contact produced identities %q and %q", first, id)
			}
		}
	}
}
