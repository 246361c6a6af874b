package registry

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestRegisterIsExclusivePerGame(t *testing.T) {
	r := New()

	job, err := r.Register("g1", "ch1", "pack-1", func() {})
	if err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if job.GameID != "g1" || job.Channel != "ch1" || job.PackID != "pack-1" {
		t.Errorf("registered job = %+v", job)
	}
	if job.StartedAt.IsZero() {
		t.Error("StartedAt not set")
	}

	if _, err := r.Register("g1", "ch2", "pack-2", func() {}); err != ErrJobActive {
		t.Errorf("second Register = %v, want ErrJobActive", err)
	}

	// A different game is unaffected.
	if _, err := r.Register("g2", "ch3", "pack-3", func() {}); err != nil {
		t.Errorf("Register for another game failed: %v", err)
	}

	r.Unregister("g1")
	if _, err := r.Register("g1", "ch4", "pack-4", func() {}); err != nil {
		t.Errorf("Register after Unregister failed: %v", err)
	}
}

func TestRegisterConcurrent(t *testing.T) {
	r := New()
	var wins int32
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Register("g1", "ch", "pack", func() {}); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d registrations succeeded, want exactly 1", wins)
	}
}

func TestCancelFiresHandleAndKeepsEntry(t *testing.T) {
	r := New()
	fired := false
	if _, err := r.Register("g1", "ch1", "pack-1", func() { fired = true }); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if !r.Cancel("g1") {
		t.Error("Cancel reported no active job")
	}
	if !fired {
		t.Error("cancellation handle not fired")
	}

	// The entry survives until the pipeline unregisters itself, keeping
	// the exclusivity lock held through the wind-down.
	if _, ok := r.Get("g1"); !ok {
		t.Error("Cancel removed the entry")
	}
	if !r.Cancel("g1") {
		t.Error("repeated Cancel reported no active job")
	}

	r.Unregister("g1")
	if r.Cancel("g1") {
		t.Error("Cancel after Unregister reported an active job")
	}
}

func TestGetUnknownGame(t *testing.T) {
	r := New()
	if _, ok := r.Get("nope"); ok {
		t.Error("Get reported a job for an unknown game")
	}
}
