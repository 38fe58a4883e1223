package kvlog

import "testing"

func TestNopDiscardsWithoutPanicking(t *testing.T) {
	l := Nop()
	l.Infow("hello", "k", "v")
	l.Warnw("warning")
	l.Errorw("boom", "err", "oops")
	if err := l.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

func TestDevelopmentReturnsUsableLogger(t *testing.T) {
	l, err := Development()
	if err != nil {
		t.Fatalf("development: %v", err)
	}
	l.Infow("started")
}
