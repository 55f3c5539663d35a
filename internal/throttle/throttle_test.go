package throttle

import (
	"sync"
	"testing"
	"time"
)

func TestBeginFirstRunAccepted(t *testing.T) {
	l := NewLedger()
	if !l.Begin("conv-1", time.Now(), 15*time.Second) {
		t.Fatal("first run should always be accepted")
	}
}

func TestBeginWithinIntervalRejected(t *testing.T) {
	l := NewLedger()
	now := time.Now()
	l.Begin("conv-1", now, 15*time.Second)

	if l.Begin("conv-1", now.Add(5*time.Second), 15*time.Second) {
		t.Error("run within the interval should be rejected")
	}
	if !l.Begin("conv-1", now.Add(16*time.Second), 15*time.Second) {
		t.Error("run after the interval should be accepted")
	}
}

func TestBeginRecordsStartNotFinish(t *testing.T) {
	l := NewLedger()
	now := time.Now()
	l.Begin("conv-1", now, 15*time.Second)

	last, ok := l.Last("conv-1")
	if !ok || !last.Equal(now) {
		t.Fatalf("expected start time recorded, got %v (ok=%v)", last, ok)
	}
}

func TestBeginKeysIndependent(t *testing.T) {
	l := NewLedger()
	now := time.Now()
	l.Begin("conv-1", now, 15*time.Second)

	if !l.Begin("conv-2", now, 15*time.Second) {
		t.Error("different conversations must throttle independently")
	}
}

func TestBeginConcurrentSingleWinner(t *testing.T) {
	l := NewLedger()
	now := time.Now()

	var wg sync.WaitGroup
	accepted := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			accepted <- l.Begin("conv-1", now, 15*time.Second)
		}()
	}
	wg.Wait()
	close(accepted)

	wins := 0
	for ok := range accepted {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one accepted run, got %d", wins)
	}
}
