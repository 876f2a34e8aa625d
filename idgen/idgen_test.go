// Copyright (c) 2025 BVK Chaitanya

package idgen

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
)

func TestIDGen(t *testing.T) {
	seed := "kucoin:test-key"

	g1 := New(seed, 0)
	g1ids := make(map[uint64]uuid.UUID)
	for i := 0; i < 20; i++ {
		g1ids[g1.Offset()] = g1.NextID()
	}

	g2 := New(seed, 1)
	for i := 0; i < 19; i++ {
		offset := g2.Offset()
		if id := g2.NextID(); id != g1ids[offset] {
			t.Fatalf("id at offset %d: want %v, got %v", offset, g1ids[offset], id)
		}
	}

	other := New("another seed", 0)
	if id := other.NextID(); id == g1ids[0] {
		t.Fatalf("different seeds produced the same id %v", id)
	}
}

func TestIDGenOffset(t *testing.T) {
	seed := "kucoin:another-key"

	g1 := New(seed, 0)
	for i := 0; i < rand.Intn(20)+1; i++ {
		g1.NextID()
	}

	g2 := New(seed, g1.Offset())
	if a, b := g1.NextID(), g2.NextID(); a != b {
		t.Fatalf("want %v, got %v", a, b)
	}
}
