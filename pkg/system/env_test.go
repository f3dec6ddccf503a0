package system

import (
	"context"
	"errors"
	"os/exec"
	"testing"
)

func TestPathCacheMemoizesMisses(t *testing.T) {
	cache := NewPathCache()
	calls := 0
	resolve := func(file string) (string, error) {
		calls++
		if file == "apt-get" {
			return "/usr/bin/apt-get", nil
		}
		return "", exec.ErrNotFound
	}

	for i := 0; i < 3; i++ {
		if p, err := cache.Lookup("apt-get", resolve); err != nil || p != "/usr/bin/apt-get" {
			t.Fatalf("Lookup(apt-get) = %q, %v", p, err)
		}
		if _, err := cache.Lookup("dnf", resolve); !errors.Is(err, exec.ErrNotFound) {
			t.Fatalf("Lookup(dnf) error = %v", err)
		}
	}

	if calls != 2 {
		t.Errorf("resolver called %d times, want 2", calls)
	}

	cache.Forget("dnf")
	if cache.Len() != 1 {
		t.Errorf("Len() = %d after Forget, want 1", cache.Len())
	}
}

func TestLocalRun(t *testing.T) {
	env := NewLocal()

	out, err := env.Run(context.Background(), "/bin/sh", "-c", "echo out; echo err >&2; exit 2")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Stdout != "out\n" || out.Stderr != "err\n" || out.ExitCode != 2 {
		t.Errorf("unexpected output: %+v", out)
	}
	if out.Success() {
		t.Error("exit 2 must not be success")
	}
}

func TestLocalRunMissingBinary(t *testing.T) {
	if _, err := NewLocal().Run(context.Background(), "/nonexistent/bin"); err == nil {
		t.Error("expected error for missing binary")
	}
}

func TestLocalLookPathUsesCache(t *testing.T) {
	env := NewLocal()
	if !Has(env, "sh") {
		t.Skip("sh not in PATH")
	}
	if env.Paths().Len() != 1 {
		t.Errorf("expected lookup to be cached")
	}
}
