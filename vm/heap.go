package vm

import "github.com/patacongo/Pascal-sub003/vmerr"

// Heap chunk header layout (spec.md §3 "Heap chunk", §4.4, §9):
// exactly 16 bytes, addressed heap-relative (0 == first byte of the
// heap region). Forward/back offsets are counted in 16-byte units so
// a 12-bit field reaches the full 64KiB heap extent.
const (
	heapHeaderSize = 16
	heapAlign      = 16

	hdrForward = 0 // word: low 12 bits = forward units, bit 12 = in-use flag
	hdrBack    = 2 // word: low 12 bits = back units (previous chunk's size)
	hdrOwnAddr = 4 // word: this chunk's heap-relative address
	hdrPrev    = 6 // word: previous free chunk (heap-relative), valid only if free
	hdrNext    = 8 // word: next free chunk (heap-relative), valid only if free

	inUseBit  = 0x1000
	unitsMask = 0x0FFF
)

const noChunk = 0xFFFF

// heapInit lays a single free chunk across the heap region, less a
// 16-byte in-use terminal sentinel that bounds physical traversal.
func (m *Machine) heapInit() {
	usableUnits := int(m.cfg.HpSize) / heapAlign
	if usableUnits == 0 {
		m.freeHead = noChunk
		return
	}
	sentinelOff := uint16((usableUnits - 1) * heapAlign)
	m.setHeaderWord(sentinelOff, hdrForward, inUseBit) // forward=0, in-use
	m.setHeaderWord(sentinelOff, hdrBack, 0)
	m.setHeaderWord(sentinelOff, hdrOwnAddr, sentinelOff)

	if usableUnits == 1 {
		m.freeHead = noChunk
		return
	}
	freeUnits := usableUnits - 1
	m.setHeaderWord(0, hdrForward, uint16(freeUnits))
	m.setHeaderWord(0, hdrBack, 0)
	m.setHeaderWord(0, hdrOwnAddr, 0)
	m.setHeaderWord(0, hdrPrev, noChunk)
	m.setHeaderWord(0, hdrNext, noChunk)
	m.freeHead = 0
}

func (m *Machine) heapAddr(heapRelative uint16) uint16 { return m.HPB + heapRelative }

func (m *Machine) setHeaderWord(chunkOff uint16, fieldOff uint16, v uint16) {
	_ = m.WriteWord(m.heapAddr(chunkOff)+fieldOff, v)
}

func (m *Machine) headerWord(chunkOff uint16, fieldOff uint16) uint16 {
	v, _ := m.ReadWord(m.heapAddr(chunkOff) + fieldOff)
	return v
}

func (m *Machine) chunkSizeUnits(chunkOff uint16) uint16 {
	return m.headerWord(chunkOff, hdrForward) & unitsMask
}

func (m *Machine) chunkInUse(chunkOff uint16) bool {
	return m.headerWord(chunkOff, hdrForward)&inUseBit != 0
}

func (m *Machine) setChunkInUse(chunkOff uint16, inUse bool) {
	units := m.chunkSizeUnits(chunkOff)
	v := units
	if inUse {
		v |= inUseBit
	}
	m.setHeaderWord(chunkOff, hdrForward, v)
}

func (m *Machine) setChunkSizeUnits(chunkOff uint16, units uint16, inUse bool) {
	v := units & unitsMask
	if inUse {
		v |= inUseBit
	}
	m.setHeaderWord(chunkOff, hdrForward, v)
	m.setHeaderWord(chunkOff, hdrOwnAddr, chunkOff)
}

func (m *Machine) chunkBackUnits(chunkOff uint16) uint16 {
	return m.headerWord(chunkOff, hdrBack) & unitsMask
}

func (m *Machine) setChunkBackUnits(chunkOff uint16, units uint16) {
	m.setHeaderWord(chunkOff, hdrBack, units&unitsMask)
}

// nextPhysical returns the heap-relative offset of the chunk
// immediately following chunkOff, or the terminal sentinel if
// chunkOff already is the sentinel.
func (m *Machine) nextPhysical(chunkOff uint16) uint16 {
	return chunkOff + m.chunkSizeUnits(chunkOff)*heapAlign
}

// prevPhysical returns the heap-relative offset of the chunk
// immediately preceding chunkOff, or noChunk if chunkOff is the first
// chunk in the heap.
func (m *Machine) prevPhysical(chunkOff uint16) uint16 {
	back := m.chunkBackUnits(chunkOff)
	if back == 0 {
		return noChunk
	}
	return chunkOff - back*heapAlign
}

// --- Free list (ordered ascending by chunk size) ---

func (m *Machine) freeListRemove(chunkOff uint16) {
	prev := m.headerWord(chunkOff, hdrPrev)
	next := m.headerWord(chunkOff, hdrNext)
	if prev == noChunk {
		m.freeHead = next
	} else {
		m.setHeaderWord(prev, hdrNext, next)
	}
	if next != noChunk {
		m.setHeaderWord(next, hdrPrev, prev)
	}
}

func (m *Machine) freeListInsert(chunkOff uint16) {
	size := m.chunkSizeUnits(chunkOff)
	if m.freeHead == noChunk {
		m.setHeaderWord(chunkOff, hdrPrev, noChunk)
		m.setHeaderWord(chunkOff, hdrNext, noChunk)
		m.freeHead = chunkOff
		return
	}
	cur := m.freeHead
	var prev uint16 = noChunk
	for cur != noChunk && m.chunkSizeUnits(cur) < size {
		prev = cur
		cur = m.headerWord(cur, hdrNext)
	}
	m.setHeaderWord(chunkOff, hdrPrev, prev)
	m.setHeaderWord(chunkOff, hdrNext, cur)
	if cur != noChunk {
		m.setHeaderWord(cur, hdrPrev, chunkOff)
	}
	if prev == noChunk {
		m.freeHead = chunkOff
	} else {
		m.setHeaderWord(prev, hdrNext, chunkOff)
	}
}

// --- Public allocation API ---

// HeapNew allocates size usable bytes from the heap, rounded up to a
// 16-byte multiple, and returns the D-space address of the user
// pointer (chunkBase + headerSize). It returns NewFailed if no chunk
// is large enough (spec.md §4.4).
func (m *Machine) HeapNew(size uint16) (uint16, error) {
	needUnits := uint16((int(size)+heapHeaderSize+heapAlign-1)/heapAlign)
	if needUnits == 0 {
		needUnits = 1
	}

	cur := m.freeHead
	for cur != noChunk {
		if m.chunkSizeUnits(cur) >= needUnits {
			break
		}
		cur = m.headerWord(cur, hdrNext)
	}
	if cur == noChunk {
		return 0, vmerr.New(vmerr.NewFailed, "vm: heap exhausted")
	}

	chunkOff := cur
	chunkUnits := m.chunkSizeUnits(chunkOff)
	m.freeListRemove(chunkOff)

	// Split if the remainder can hold at least a bare header chunk.
	const minSplitUnits = 1
	if chunkUnits-needUnits >= minSplitUnits {
		remOff := chunkOff + needUnits*heapAlign
		remUnits := chunkUnits - needUnits
		m.setChunkSizeUnits(chunkOff, needUnits, true)
		m.setChunkSizeUnits(remOff, remUnits, false)
		m.setChunkBackUnits(remOff, needUnits)
		nextOff := m.nextPhysical(remOff)
		m.setChunkBackUnits(nextOff, remUnits)
		m.freeListInsert(remOff)
	} else {
		m.setChunkInUse(chunkOff, true)
	}

	return m.heapAddr(chunkOff) + heapHeaderSize, nil
}

// HeapDispose releases the chunk whose user pointer is ptr, coalescing
// with free physical neighbors (spec.md §4.4). It returns
// InternalError if ptr lies outside the heap region or is not the user
// pointer of a chunk (its header's own-address field does not match),
// and DoubleFree if that chunk is already free.
func (m *Machine) HeapDispose(ptr uint16) error {
	if ptr < m.HPB+heapHeaderSize || ptr >= m.HSP {
		return vmerr.New(vmerr.InternalError, "vm: dispose address outside heap region")
	}
	chunkOff := (ptr - m.HPB) - heapHeaderSize
	if m.headerWord(chunkOff, hdrOwnAddr) != chunkOff {
		return vmerr.New(vmerr.InternalError, "vm: dispose address is not a chunk's user pointer")
	}
	if !m.chunkInUse(chunkOff) {
		return vmerr.New(vmerr.DoubleFree, "vm: dispose of already-free chunk")
	}

	m.setChunkInUse(chunkOff, false)

	// Coalesce with physical successor if free.
	succ := m.nextPhysical(chunkOff)
	if succ < m.HSP-m.HPB && !m.chunkInUse(succ) {
		m.freeListRemove(succ)
		merged := m.chunkSizeUnits(chunkOff) + m.chunkSizeUnits(succ)
		m.setChunkSizeUnits(chunkOff, merged, false)
		next := m.nextPhysical(chunkOff)
		m.setChunkBackUnits(next, merged)
	}

	// Coalesce with physical predecessor if free.
	pred := m.prevPhysical(chunkOff)
	if pred != noChunk && !m.chunkInUse(pred) {
		m.freeListRemove(pred)
		merged := m.chunkSizeUnits(pred) + m.chunkSizeUnits(chunkOff)
		m.setChunkSizeUnits(pred, merged, false)
		next := m.nextPhysical(pred)
		m.setChunkBackUnits(next, merged)
		chunkOff = pred
	}

	m.freeListInsert(chunkOff)
	return nil
}

// HeapStats reports the free-list totals (free bytes, largest free
// chunk, free-chunk count) for diagnostics (SPEC_FULL.md C4 [NEW]).
type HeapStats struct {
	FreeBytes      int
	LargestFree    int
	FreeChunkCount int
}

func (m *Machine) HeapStats() HeapStats {
	var st HeapStats
	cur := m.freeHead
	for cur != noChunk {
		units := int(m.chunkSizeUnits(cur))
		bytes := units*heapAlign - heapHeaderSize
		st.FreeBytes += bytes
		if bytes > st.LargestFree {
			st.LargestFree = bytes
		}
		st.FreeChunkCount++
		cur = m.headerWord(cur, hdrNext)
	}
	return st
}
