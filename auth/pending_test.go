package auth

import (
	"sync"
	"testing"
	"time"
)

func TestPendingCreateConsume(t *testing.T) {
	store := NewPendingStore()

	sess := store.Create()
	if sess.ID == "" || sess.CSRFToken == "" || sess.Nonce == "" || sess.PKCEVerifier == "" {
		t.Fatalf("expected all secrets to be populated: %+v", sess)
	}

	got, ok := store.Consume(sess.ID)
	if !ok {
		t.Fatalf("expected consume to find the session")
	}
	if got.CSRFToken != sess.CSRFToken || got.Nonce != sess.Nonce || got.PKCEVerifier != sess.PKCEVerifier {
		t.Fatalf("consume returned different secrets")
	}
}

func TestPendingConsumeIsSingleUse(t *testing.T) {
	store := NewPendingStore()
	sess := store.Create()

	if _, ok := store.Consume(sess.ID); !ok {
		t.Fatalf("first consume should succeed")
	}
	if _, ok := store.Consume(sess.ID); ok {
		t.Fatalf("second consume of the same id must fail")
	}
}

func TestPendingConsumeUnknownID(t *testing.T) {
	store := NewPendingStore()
	if _, ok := store.Consume("never-created"); ok {
		t.Fatalf("consume of unknown id must fail")
	}
}

func TestPendingSecretsAreUnique(t *testing.T) {
	store := NewPendingStore()
	a := store.Create()
	b := store.Create()
	if a.ID == b.ID || a.CSRFToken == b.CSRFToken || a.Nonce == b.Nonce || a.PKCEVerifier == b.PKCEVerifier {
		t.Fatalf("two sessions share secrets")
	}
}

func TestPendingSweepDropsAbandonedAttempts(t *testing.T) {
	store := NewPendingStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	stale := store.Create()
	now = now.Add(LoginWindow + time.Second)
	fresh := store.Create()

	if _, ok := store.Consume(stale.ID); ok {
		t.Fatalf("abandoned session should have been swept")
	}
	if _, ok := store.Consume(fresh.ID); !ok {
		t.Fatalf("fresh session should survive the sweep")
	}
}

func TestPendingConcurrentAccess(t *testing.T) {
	store := NewPendingStore()

	var wg sync.WaitGroup
	consumed := make(chan bool, 200)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess := store.Create()
			_, ok := store.Consume(sess.ID)
			consumed <- ok
		}()
	}
	wg.Wait()
	close(consumed)

	for ok := range consumed {
		if !ok {
			t.Fatalf("concurrent consume lost a session")
		}
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, %d entries left", store.Len())
	}
}
