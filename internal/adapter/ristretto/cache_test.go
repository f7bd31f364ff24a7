package ristretto

import (
	"context"
	"testing"
	"time"
)

func TestSetThenGet(t *testing.T) {
	c, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "verdict:1", []byte(`{"id":"1"}`), time.Minute); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.Get(ctx, "verdict:1")
	if err != nil || !ok {
		t.Fatalf("expected hit right after Set, ok=%v err=%v", ok, err)
	}
	if string(got) != `{"id":"1"}` {
		t.Errorf("got %s", got)
	}

	if err := c.Delete(ctx, "verdict:1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "verdict:1"); ok {
		t.Error("expected miss after Delete")
	}
}

func TestMiss(t *testing.T) {
	c, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, ok, err := c.Get(context.Background(), "absent"); ok || err != nil {
		t.Errorf("expected clean miss, ok=%v err=%v", ok, err)
	}
}

func TestNewRejectsZeroSize(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatal("expected error for zero size")
	}
}
