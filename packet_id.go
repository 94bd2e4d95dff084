package mqttclient

import (
	"math/bits"
)

const (
	maxPacketID     = 65535
	packetIDWords   = (maxPacketID + 1) / 64
	allWordBitsUsed = ^uint64(0)
)

// PacketIDAllocator hands out packet identifiers in [1, limit], always
// returning the lowest free one. It is owned by a single connection loop
// and is not safe for concurrent use.
type PacketIDAllocator struct {
	used  [packetIDWords]uint64
	limit uint16
	inUse int
	// hint is the index of the lowest word that may contain a free id.
	hint int
}

// NewPacketIDAllocator creates an allocator for ids 1..limit. A limit of 0
// means the full 16-bit range.
func NewPacketIDAllocator(limit uint16) *PacketIDAllocator {
	if limit == 0 {
		limit = maxPacketID
	}
	a := &PacketIDAllocator{limit: limit}
	// id 0 is never valid
	a.used[0] = 1
	return a
}

// Allocate reserves and returns the lowest free identifier.
func (a *PacketIDAllocator) Allocate() (uint16, error) {
	if a.inUse >= int(a.limit) {
		return 0, ErrPacketIDExhausted
	}
	lastWord := int(a.limit) / 64
	for w := a.hint; w <= lastWord; w++ {
		word := a.used[w]
		if word == allWordBitsUsed {
			continue
		}
		bit := bits.TrailingZeros64(^word)
		id := w*64 + bit
		if id > int(a.limit) {
			break
		}
		a.used[w] |= 1 << bit
		a.inUse++
		a.hint = w
		return uint16(id), nil
	}
	return 0, ErrPacketIDExhausted
}

// Reserve marks a specific identifier as used, for flows restored from a
// FlowStore. It returns false if the id is out of range or already taken.
func (a *PacketIDAllocator) Reserve(id uint16) bool {
	if id == 0 || id > a.limit || a.IsUsed(id) {
		return false
	}
	a.used[id/64] |= 1 << (id % 64)
	a.inUse++
	return true
}

// Release frees an identifier. Releasing a free id is a no-op.
func (a *PacketIDAllocator) Release(id uint16) {
	if id == 0 || !a.IsUsed(id) {
		return
	}
	a.used[id/64] &^= 1 << (id % 64)
	a.inUse--
	if w := int(id / 64); w < a.hint {
		a.hint = w
	}
}

// IsUsed reports whether id is currently allocated.
func (a *PacketIDAllocator) IsUsed(id uint16) bool {
	if id == 0 {
		return false
	}
	return a.used[id/64]&(1<<(id%64)) != 0
}

// InUse returns the number of allocated identifiers.
func (a *PacketIDAllocator) InUse() int {
	return a.inUse
}

// Reset frees every identifier.
func (a *PacketIDAllocator) Reset() {
	a.used = [packetIDWords]uint64{}
	a.used[0] = 1
	a.inUse = 0
	a.hint = 0
}
