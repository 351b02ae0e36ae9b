package config

import (
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	t.Setenv("TEST_INTERVAL", "")
	d, err := Duration("TEST_INTERVAL", 5*time.Minute)
	if err != nil || d != 5*time.Minute {
		t.Fatalf("expected fallback, got %v (%v)", d, err)
	}

	t.Setenv("TEST_INTERVAL", "90s")
	d, err = Duration("TEST_INTERVAL", time.Minute)
	if err != nil || d != 90*time.Second {
		t.Fatalf("expected 90s, got %v (%v)", d, err)
	}

	t.Setenv("TEST_INTERVAL", "-1m")
	if _, err := Duration("TEST_INTERVAL", time.Minute); err == nil {
		t.Fatal("expected error for negative duration")
	}
}

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "70000")
	if _, err := Port("TEST_PORT", "8080"); err == nil {
		t.Fatal("expected error for out of range port")
	}
	t.Setenv("TEST_PORT", "")
	p, err := Port("TEST_PORT", "8080")
	if err != nil || p != "8080" {
		t.Fatalf("expected fallback port, got %q (%v)", p, err)
	}
}

func TestIntAndBool(t *testing.T) {
	t.Setenv("TEST_WORKERS", "4")
	n, err := Int("TEST_WORKERS", 1)
	if err != nil || n != 4 {
		t.Fatalf("expected 4, got %d (%v)", n, err)
	}
	t.Setenv("TEST_WORKERS", "four")
	if _, err := Int("TEST_WORKERS", 1); err == nil {
		t.Fatal("expected parse error")
	}

	t.Setenv("TEST_FLAG", "off")
	if Bool("TEST_FLAG", true) {
		t.Fatal("expected false")
	}
	t.Setenv("TEST_FLAG", "maybe")
	if !Bool("TEST_FLAG", true) {
		t.Fatal("expected fallback true")
	}
}
