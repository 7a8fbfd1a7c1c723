package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	if _, err := p.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("get missing = %v, want ErrCacheMiss", err)
	}

	if err := p.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := p.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("get = %q, want v", got)
	}

	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("get after del = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryProviderExpiry(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return current }

	if err := p.Set(ctx, "k", []byte("v"), 10*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}

	current = current.Add(5 * time.Second)
	if _, err := p.Get(ctx, "k"); err != nil {
		t.Fatalf("get before expiry: %v", err)
	}

	current = current.Add(6 * time.Second)
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("get after expiry = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryProviderSetNX(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	ok, err := p.SetNX(ctx, "k", []byte("first"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first setnx = %v, %v", ok, err)
	}
	ok, err = p.SetNX(ctx, "k", []byte("second"), time.Minute)
	if err != nil || ok {
		t.Fatalf("second setnx = %v, %v, want false", ok, err)
	}

	got, err := p.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "first" {
		t.Fatalf("setnx overwrote value: %q", got)
	}
}

func TestMemoryProviderCopiesValues(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	buf := []byte("original")
	if err := p.Set(ctx, "k", buf, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	buf[0] = 'X'

	got, err := p.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("stored value aliased caller buffer: %q", got)
	}
}

func TestNoopProvider(t *testing.T) {
	ctx := context.Background()
	var p NoopProvider

	if err := p.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("noop get = %v, want ErrCacheMiss", err)
	}
}
