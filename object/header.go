// ABOUTME: Encoding of the one-word object header as a tagged atomic value
// ABOUTME: Covers mark epoch, zone, forwarding, contention and the aux slot

package object

// Zone identifies which heap space an object lives in. It is recorded in the
// header at allocation time and changes only when the object is copied into a
// different space.
type Zone uint8

const (
	ZoneInvalid Zone = iota
	ZoneYoung        // copying nursery
	ZoneMature       // block/line mark-region space
	ZoneLarge        // individually tracked large object space
)

// String returns a human-readable zone name, for diagnostics.
func (z Zone) String() string {
	switch z {
	case ZoneYoung:
		return "young"
	case ZoneMature:
		return "mature"
	case ZoneLarge:
		return "large"
	default:
		return "invalid"
	}
}

// Meaning is the tag of the aux slot in the header word. The slot carries at
// most one inline fact about an object: its identity, its thin lock, or its
// external handle. Once the slot is inflated it stays inflated; every later
// state change goes through the inflated record instead.
type Meaning uint8

const (
	MeaningEmpty Meaning = iota
	MeaningObjectID
	MeaningLock
	MeaningHandle
	MeaningInflated
)

// String returns a human-readable meaning name, for diagnostics.
func (m Meaning) String() string {
	switch m {
	case MeaningEmpty:
		return "empty"
	case MeaningObjectID:
		return "object-id"
	case MeaningLock:
		return "lock"
	case MeaningHandle:
		return "handle"
	case MeaningInflated:
		return "inflated"
	default:
		return "unknown"
	}
}

// Word is the decoded/encoded form of the single header word. All header
// transitions are compare-and-swaps of one Word against another, so a reader
// always observes a consistent combination of fields.
//
// Layout:
//
//	bits 0-1   mark epoch (1 or 2, rotated after each full collection)
//	bits 2-3   zone
//	bit  4     forwarded (a copy exists; the forward pointer is valid)
//	bit  5     lock contended
//	bit  6     foreign (holds unmanaged-visible mutable state, rescan on finish)
//	bits 8-10  aux meaning
//	bits 32-63 aux payload
type Word uint64

const (
	markShift    = 0
	markMask     = 0x3
	zoneShift    = 2
	zoneMask     = 0x3
	forwardedBit = 1 << 4
	contendedBit = 1 << 5
	foreignBit   = 1 << 6
	meaningShift = 8
	meaningMask  = 0x7
	payloadShift = 32
)

// Mark returns the mark epoch stored in the word. Zero means the object has
// not been marked since its epoch bits were last cleared.
func (w Word) Mark() uint8 {
	return uint8(w >> markShift & markMask)
}

// WithMark returns a copy of the word carrying the given mark epoch.
func (w Word) WithMark(mark uint8) Word {
	return w&^(markMask<<markShift) | Word(mark&markMask)<<markShift
}

// Zone returns the zone stored in the word.
func (w Word) Zone() Zone {
	return Zone(w >> zoneShift & zoneMask)
}

// WithZone returns a copy of the word placed in the given zone.
func (w Word) WithZone(z Zone) Word {
	return w&^(zoneMask<<zoneShift) | Word(z&zoneMask)<<zoneShift
}

// Forwarded reports whether the object has been copied elsewhere and the
// forward pointer must be followed.
func (w Word) Forwarded() bool {
	return w&forwardedBit != 0
}

// WithForwarded returns a copy of the word with the forwarded bit set or
// cleared.
func (w Word) WithForwarded(on bool) Word {
	if on {
		return w | forwardedBit
	}
	return w &^ forwardedBit
}

// Contended reports whether some thread is waiting for this object's thin
// lock. The holder must inflate the lock and wake waiters on unlock.
func (w Word) Contended() bool {
	return w&contendedBit != 0
}

// WithContended returns a copy of the word with the contended bit set or
// cleared.
func (w Word) WithContended(on bool) Word {
	if on {
		return w | contendedBit
	}
	return w &^ contendedBit
}

// Foreign reports whether the object holds mutable state visible to
// unmanaged code. Writes to such objects are not barrier-tracked, so the
// collector rescans them during the finish phase.
func (w Word) Foreign() bool {
	return w&foreignBit != 0
}

// WithForeign returns a copy of the word with the foreign bit set.
func (w Word) WithForeign() Word {
	return w | foreignBit
}

// Meaning returns the tag of the aux slot.
func (w Word) Meaning() Meaning {
	return Meaning(w >> meaningShift & meaningMask)
}

// Payload returns the aux slot payload. Its interpretation depends on the
// meaning: object id, packed lock state, handle index, or inflated record
// index.
func (w Word) Payload() uint32 {
	return uint32(w >> payloadShift)
}

// WithAux returns a copy of the word carrying the given aux meaning and
// payload.
func (w Word) WithAux(m Meaning, payload uint32) Word {
	w = w &^ (meaningMask << meaningShift)
	w = w &^ (Word(^uint32(0)) << payloadShift)
	return w | Word(m&meaningMask)<<meaningShift | Word(payload)<<payloadShift
}

// Thin lock payload packing: owner thread id in the high half, recursion
// count in the low half.

// MaxThinLockCount is the largest recursion count the inline lock field can
// hold. One more recursive acquire forces inflation.
const MaxThinLockCount = 0xffff

// LockPayload packs a thin-lock owner and recursion count into an aux
// payload.
func LockPayload(owner uint16, count uint16) uint32 {
	return uint32(owner)<<16 | uint32(count)
}

// LockOwner returns the owning thread id of a thin-locked word. Only valid
// when Meaning() == MeaningLock.
func (w Word) LockOwner() uint16 {
	return uint16(w.Payload() >> 16)
}

// LockCount returns the recursion count of a thin-locked word. Only valid
// when Meaning() == MeaningLock.
func (w Word) LockCount() uint16 {
	return uint16(w.Payload())
}
