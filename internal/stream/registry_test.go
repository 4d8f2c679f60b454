package stream

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistry_GetOrCreate_reuses_live_session(t *testing.T) {
	reg := NewRegistry()
	var spawns atomic.Int32
	spawn := func() (*Session, error) {
		spawns.Add(1)
		return startTestSession("rtsp://cam/1", true, newFakeUpstream("rtsp://cam/1"), reg), nil
	}

	s1, err := reg.GetOrCreate("rtsp://cam/1", true, spawn)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := reg.GetOrCreate("rtsp://cam/1", true, spawn)
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Error("expected the same session for the same locator")
	}
	if n := spawns.Load(); n != 1 {
		t.Errorf("expected 1 spawn, got %d", n)
	}
	if reg.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", reg.Len())
	}
}

func TestRegistry_GetOrCreate_concurrent_first_requests(t *testing.T) {
	reg := NewRegistry()
	var spawns atomic.Int32
	spawn := func() (*Session, error) {
		spawns.Add(1)
		// Keep the creation window open so callers pile up.
		time.Sleep(20 * time.Millisecond)
		return startTestSession("rtsp://cam/7", true, newFakeUpstream("rtsp://cam/7"), reg), nil
	}

	const callers = 32
	results := make([]*Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := reg.GetOrCreate("rtsp://cam/7", true, spawn)
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			results[i] = s
		}(i)
	}
	wg.Wait()

	if n := spawns.Load(); n != 1 {
		t.Fatalf("expected exactly one spawn, got %d", n)
	}
	for i, s := range results {
		if s != results[0] {
			t.Errorf("caller %d got a different session", i)
		}
	}
}

func TestRegistry_GetOrCreate_distinct_locators(t *testing.T) {
	reg := NewRegistry()
	for _, l := range []Locator{"rtsp://a", "rtsp://b"} {
		l := l
		if _, err := reg.GetOrCreate(l, true, func() (*Session, error) {
			return startTestSession(l, true, newFakeUpstream(l), reg), nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	got := reg.Locators()
	if len(got) != 2 || got[0] != "rtsp://a" || got[1] != "rtsp://b" {
		t.Errorf("Locators: got %v", got)
	}
}

func TestRegistry_GetOrCreate_private_never_registered(t *testing.T) {
	reg := NewRegistry()
	seen := map[*Session]bool{}
	for i := 0; i < 5; i++ {
		s, err := reg.GetOrCreate("rtsp://cam/1?start=1", false, func() (*Session, error) {
			return startTestSession("rtsp://cam/1?start=1", false, newFakeUpstream("x"), nil), nil
		})
		if err != nil {
			t.Fatal(err)
		}
		seen[s] = true
	}
	if len(seen) != 5 {
		t.Errorf("expected 5 independent sessions, got %d", len(seen))
	}
	if reg.Len() != 0 {
		t.Errorf("private sessions must not be registered, got %d entries", reg.Len())
	}
}

func TestRegistry_dead_session_is_replaced(t *testing.T) {
	reg := NewRegistry()
	spawn := func() (*Session, error) {
		return startTestSession("rtsp://cam/1", true, newFakeUpstream("rtsp://cam/1"), reg), nil
	}

	first, _ := reg.GetOrCreate("rtsp://cam/1", true, spawn)
	sink := newRecordSink()
	first.Attach(sink)
	first.Detach(sink)

	if _, ok := reg.Lookup("rtsp://cam/1"); ok {
		t.Fatal("dead session must not be found")
	}

	second, err := reg.GetOrCreate("rtsp://cam/1", true, spawn)
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Error("expected a fresh session after teardown")
	}
	if second.State() == StateDead {
		t.Error("fresh session should not be dead")
	}
}

func TestRegistry_Remove_only_matching_instance(t *testing.T) {
	reg := NewRegistry()
	old := startTestSession("rtsp://cam/1", true, newFakeUpstream("x"), nil)
	cur := startTestSession("rtsp://cam/1", true, newFakeUpstream("x"), nil)
	reg.sessions["rtsp://cam/1"] = cur

	if reg.Remove("rtsp://cam/1", old) {
		t.Error("removing a stale session must not erase the current entry")
	}
	if s, ok := reg.Lookup("rtsp://cam/1"); !ok || s != cur {
		t.Error("current entry should remain")
	}
	if !reg.Remove("rtsp://cam/1", cur) {
		t.Error("expected current entry to be removed")
	}
	if reg.Remove("rtsp://cam/1", cur) {
		t.Error("second removal should report false")
	}
}

func TestRegistry_spawn_error_registers_nothing(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("exec: \"ffmpeg\": executable file not found in $PATH")
	_, err := reg.GetOrCreate("rtsp://cam/1", true, func() (*Session, error) {
		return nil, &SpawnError{Locator: "rtsp://cam/1", Err: boom}
	})
	if !errors.Is(err, ErrSpawn) || !errors.Is(err, boom) {
		t.Fatalf("expected spawn error, got %v", err)
	}
	if reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Len())
	}

	// The next request tries again.
	s, err := reg.GetOrCreate("rtsp://cam/1", true, func() (*Session, error) {
		return startTestSession("rtsp://cam/1", true, newFakeUpstream("x"), reg), nil
	})
	if err != nil || s == nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestRegistry_session_dead_before_insert_is_not_registered(t *testing.T) {
	reg := NewRegistry()
	s, err := reg.GetOrCreate("rtsp://cam/1", true, func() (*Session, error) {
		s := startTestSession("rtsp://cam/1", true, newFakeUpstream("x"), reg)
		s.Stop()
		return s, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if s.State() != StateDead {
		t.Fatal("expected the stopped session back")
	}
	if reg.Len() != 0 {
		t.Error("dead session must not be inserted")
	}
}
