// Copyright (c) 2025 BVK Chaitanya

// Package idgen produces deterministic sequences of client order ids.
// Venues deduplicate order placement on the client id, so a retried
// placement must resend the same id. Ids are uuids derived from a seed
// string and a sequence number.
package idgen

import (
	"crypto/md5"
	"encoding/binary"

	"github.com/google/uuid"
)

// Generator yields the uuid chain for one seed. Two generators with the
// same seed and offset yield the same ids.
type Generator struct {
	seed []byte
	next uint64
}

func New(seed string, offset uint64) *Generator {
	base := md5.Sum([]byte(seed))
	return &Generator{seed: base[:], next: offset}
}

// Offset is the sequence number of the next id. Persist it to continue
// the chain across restarts.
func (g *Generator) Offset() uint64 {
	return g.next
}

// NextID returns the id at the current offset and advances.
func (g *Generator) NextID() uuid.UUID {
	var buf [md5.Size + 8]byte
	copy(buf[:md5.Size], g.seed)
	binary.BigEndian.PutUint64(buf[md5.Size:], g.next)
	g.next++
	return uuid.UUID(md5.Sum(buf[:]))
}
