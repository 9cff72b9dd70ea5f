// Package freemap implements the external "Free-Space Map" collaborator
// spec.md §2 describes: allocate(size, hints) -> (fileno, offset) and
// free(fileno, offset, size). Hints support both "exact size" reuse
// (any freed slot of the right size) and "fixed location" (reserving a
// specific address while reloading an existing on-disk layout).
//
// Allocation granularity equals the page size the owning component
// (btree or docmap) was configured with; every unit the map hands out
// is exactly one page. A roaring.Bitmap per file tracks free units so
// membership tests and reservation during Load stay O(1) amortized
// instead of scanning a Go slice.
package freemap

import (
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/mgtoolkit/mgstore/mgerr"
	"github.com/mgtoolkit/mgstore/page"
)

// Hints steers an Allocate call.
type Hints struct {
	// Fixed, if non-nil, requests a specific address be reserved
	// (used while reloading an existing layout during Load). The
	// location is marked used whether or not it was previously known
	// to the map.
	Fixed *page.Location
}

// FreeMap tracks free and used page-sized units across a numbered
// file set for one component (one B+tree, or one document map).
type FreeMap struct {
	mu          sync.Mutex
	granularity int64
	maxFileSize int64

	free map[uint32]*roaring.Bitmap // fileno -> free unit indices
	used map[uint32]*roaring.Bitmap // fileno -> used unit indices (for Free's sanity check)

	tailFileno uint32
	tailUnit   uint32
}

// New creates a FreeMap for pages of `granularity` bytes, rolling to a
// new fileno once a file would exceed maxFileSize.
func New(granularity, maxFileSize int64) *FreeMap {
	return &FreeMap{
		granularity: granularity,
		maxFileSize: maxFileSize,
		free:        map[uint32]*roaring.Bitmap{},
		used:        map[uint32]*roaring.Bitmap{},
	}
}

func (m *FreeMap) unitsPerFile() uint32 {
	return uint32(m.maxFileSize / m.granularity)
}

func (m *FreeMap) bitmapFor(set map[uint32]*roaring.Bitmap, fileno uint32) *roaring.Bitmap {
	b, ok := set[fileno]
	if !ok {
		b = roaring.New()
		set[fileno] = b
	}
	return b
}

// Allocate reserves one page-sized unit. When hints.Fixed is set, that
// exact location is reserved (Load's "reserve every page's location"
// pass). Otherwise the map reuses a freed unit if one exists anywhere,
// else appends at the tail. newFile reports whether the caller must
// fileset.Create the returned fileno before writing to it.
func (m *FreeMap) Allocate(size int64, hints Hints) (loc page.Location, newFile bool, err error) {
	if size != m.granularity {
		return page.Location{}, false, mgerr.Newf(mgerr.Arg, "freemap: size %d != granularity %d", size, m.granularity)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if hints.Fixed != nil {
		fileno := hints.Fixed.Fileno
		unit := uint32(hints.Fixed.Offset / m.granularity)
		m.bitmapFor(m.free, fileno).Remove(unit)
		m.bitmapFor(m.used, fileno).Add(unit)
		if fileno > m.tailFileno || (fileno == m.tailFileno && unit >= m.tailUnit) {
			m.tailFileno = fileno
			m.tailUnit = unit + 1
		}
		return *hints.Fixed, false, nil
	}

	// Reuse any freed unit, preferring the tail file for locality.
	if order := m.freeFilenosLocked(); len(order) > 0 {
		for _, fileno := range order {
			fb := m.free[fileno]
			if fb.IsEmpty() {
				continue
			}
			unit := fb.Minimum()
			fb.Remove(unit)
			m.bitmapFor(m.used, fileno).Add(unit)
			return page.Location{Fileno: fileno, Offset: int64(unit) * m.granularity}, false, nil
		}
	}

	// Append at the tail, rolling to a new file if this file is full.
	unitsPerFile := m.unitsPerFile()
	if m.tailUnit >= unitsPerFile {
		m.tailFileno++
		m.tailUnit = 0
		newFile = true
	}
	loc = page.Location{Fileno: m.tailFileno, Offset: int64(m.tailUnit) * m.granularity}
	m.bitmapFor(m.used, m.tailFileno).Add(m.tailUnit)
	m.tailUnit++
	return loc, newFile, nil
}

// freeFilenosLocked returns filenos with a non-empty free bitmap,
// tail-file first.
func (m *FreeMap) freeFilenosLocked() []uint32 {
	var out []uint32
	if fb, ok := m.free[m.tailFileno]; ok && !fb.IsEmpty() {
		out = append(out, m.tailFileno)
	}
	for fileno, fb := range m.free {
		if fileno == m.tailFileno || fb.IsEmpty() {
			continue
		}
		out = append(out, fileno)
	}
	return out
}

// Free releases a previously allocated unit back to the map.
func (m *FreeMap) Free(loc page.Location, size int64) error {
	if size != m.granularity {
		return mgerr.Newf(mgerr.Arg, "freemap: size %d != granularity %d", size, m.granularity)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	unit := uint32(loc.Offset / m.granularity)
	ub := m.bitmapFor(m.used, loc.Fileno)
	if !ub.Contains(unit) {
		return mgerr.Newf(mgerr.Arg, "freemap: unit %d@%d not allocated", unit, loc.Fileno)
	}
	ub.Remove(unit)
	m.bitmapFor(m.free, loc.Fileno).Add(unit)
	return nil
}

// Utilised reports the number of units currently allocated.
func (m *FreeMap) Utilised() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total uint64
	for _, ub := range m.used {
		total += ub.GetCardinality()
	}
	return total
}

// Tail reports the next append location, useful for diagnostics and
// for bootstrapping a brand-new store's first page.
func (m *FreeMap) Tail() page.Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	return page.Location{Fileno: m.tailFileno, Offset: int64(m.tailUnit) * m.granularity}
}
