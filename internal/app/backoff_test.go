package app

import (
	"testing"
	"time"
)

func TestBackoff_Doubles(t *testing.T) {
	b := NewBackoff(time.Millisecond, 4*time.Millisecond)
	stop := make(chan struct{})

	want := []time.Duration{2 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond}
	for i, w := range want {
		if !b.Wait(stop) {
			t.Fatalf("Wait() #%d returned false", i)
		}
		if b.Current() != w {
			t.Errorf("Current() after wait #%d = %v, want %v", i, b.Current(), w)
		}
	}

	b.Reset()
	if b.Current() != time.Millisecond {
		t.Errorf("Current() after Reset = %v, want 1ms", b.Current())
	}
}

func TestBackoff_StopInterrupts(t *testing.T) {
	b := NewBackoff(time.Hour, time.Hour)
	stop := make(chan struct{})
	close(stop)

	start := time.Now()
	if b.Wait(stop) {
		t.Error("Wait() = true, want false after stop")
	}
	if time.Since(start) > time.Second {
		t.Error("Wait() did not return promptly after stop")
	}
}
