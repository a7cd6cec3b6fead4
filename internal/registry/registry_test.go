package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tariel-x/meshcall/internal/models"
)

func TestCreateCallGeneratesUniqueIDs(t *testing.T) {
	reg := New()
	base := time.Unix(1_700_000_000, 0)

	first, err := reg.Create("alice", "Alice", models.CallTypeAudio, nil, base)
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	second, err := reg.Create("bob", "Bob", models.CallTypeVideo, nil, base.Add(time.Second))
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}

	if first.ID == second.ID {
		t.Fatalf("expected unique call IDs, got duplicate %s", first.ID)
	}
	if first.Status != models.CallStatusRinging {
		t.Fatalf("new call should ring, got %s", first.Status)
	}
	if !first.IsParticipant("alice") || len(first.Participants) != 1 {
		t.Fatalf("host must be the sole participant, got %+v", first.Participants)
	}
}

func TestCreateRetriesOnIDCollision(t *testing.T) {
	reg := New()
	ids := []string{"same", "same", "other"}
	reg.newID = func() (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}

	a, _ := reg.Create("alice", "Alice", models.CallTypeAudio, nil, time.Now())
	b, err := reg.Create("bob", "Bob", models.CallTypeAudio, nil, time.Now())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if a.ID != "same" || b.ID != "other" {
		t.Fatalf("unexpected ids %s %s", a.ID, b.ID)
	}
}

func TestCreateRejectsBusyHost(t *testing.T) {
	reg := New()
	if _, err := reg.Create("alice", "Alice", models.CallTypeAudio, nil, time.Now()); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := reg.Create("alice", "Alice", models.CallTypeAudio, nil, time.Now()); !errors.Is(err, ErrAlreadyInCall) {
		t.Fatalf("expected ErrAlreadyInCall, got %v", err)
	}
}

func TestFindByInviter(t *testing.T) {
	reg := New()
	call, _ := reg.Create("alice", "Alice", models.CallTypeAudio, nil, time.Now())
	if !reg.Claim("bob", call.ID) {
		t.Fatalf("claim for bob failed")
	}

	found, err := reg.FindByInviter("alice")
	if err != nil || found.ID != call.ID {
		t.Fatalf("expected to find call by host, got %v %v", found, err)
	}
	// bob occupies the call but does not host it
	if _, err := reg.FindByInviter("bob"); !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("expected ErrCallNotFound for non-host, got %v", err)
	}
}

func TestClaimIsExclusive(t *testing.T) {
	reg := New()
	callA, _ := reg.Create("alice", "Alice", models.CallTypeAudio, nil, time.Now())
	callB, _ := reg.Create("bob", "Bob", models.CallTypeAudio, nil, time.Now())

	if !reg.Claim("carol", callA.ID) {
		t.Fatalf("carol should be free")
	}
	if !reg.Claim("carol", callA.ID) {
		t.Fatalf("re-claiming the same call should succeed")
	}
	if reg.Claim("carol", callB.ID) {
		t.Fatalf("carol must not occupy two calls")
	}
	if reg.Claim("dave", "missing") {
		t.Fatalf("claiming an unknown call must fail")
	}

	reg.Release("carol", callB.ID)
	if id, ok := reg.OccupiedBy("carol"); !ok || id != callA.ID {
		t.Fatalf("release for another call must not clear the entry, got %q %v", id, ok)
	}
	reg.Release("carol", callA.ID)
	if _, ok := reg.OccupiedBy("carol"); ok {
		t.Fatalf("carol should be free after release")
	}
}

func TestConcurrentClaimsOnlyOneWins(t *testing.T) {
	reg := New()
	calls := make([]*models.CallSession, 8)
	for i := range calls {
		calls[i], _ = reg.Create(fmt.Sprintf("host-%d", i), "Host", models.CallTypeAudio, nil, time.Now())
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, call := range calls {
		wg.Add(1)
		go func(callID string) {
			defer wg.Done()
			if reg.Claim("target", callID) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(call.ID)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", wins)
	}
}

func TestRemovePurgesIndex(t *testing.T) {
	reg := New()
	call, _ := reg.Create("alice", "Alice", models.CallTypeAudio, nil, time.Now())
	reg.Claim("bob", call.ID)

	reg.Remove(call.ID)

	if _, err := reg.Get(call.ID); !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("expected ErrCallNotFound after remove, got %v", err)
	}
	for _, user := range []string{"alice", "bob"} {
		if _, ok := reg.OccupiedBy(user); ok {
			t.Fatalf("%s still indexed after remove", user)
		}
	}
	if _, err := reg.Create("alice", "Alice", models.CallTypeAudio, nil, time.Now()); err != nil {
		t.Fatalf("alice should be able to start a new call: %v", err)
	}
}

func TestListByStatusTracksUpdates(t *testing.T) {
	reg := New()
	base := time.Unix(1_700_200_000, 0)

	callA, _ := reg.Create("alice", "Alice", models.CallTypeAudio, nil, base)
	callB, _ := reg.Create("bob", "Bob", models.CallTypeAudio, nil, base.Add(time.Second))

	if ringing := reg.ListByStatus(models.CallStatusRinging); len(ringing) != 2 || ringing[0].ID != callA.ID {
		t.Fatalf("expected both calls ringing in start order, got %+v", ringing)
	}

	reg.SetStatus(callA.ID, models.CallStatusActive)

	ringing := reg.ListByStatus(models.CallStatusRinging)
	if len(ringing) != 1 || ringing[0].ID != callB.ID {
		t.Fatalf("expected only callB ringing, got %+v", ringing)
	}
	active := reg.ListByStatus(models.CallStatusActive)
	if len(active) != 1 || active[0].ID != callA.ID {
		t.Fatalf("expected callA active, got %+v", active)
	}

	counts, occupied := reg.Counts()
	if counts[models.CallStatusActive] != 1 || counts[models.CallStatusRinging] != 1 || occupied != 2 {
		t.Fatalf("unexpected counts %v occupied=%d", counts, occupied)
	}
}
