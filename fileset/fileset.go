// Package fileset implements the external "File Set" collaborator
// spec.md §2 describes: numbered, append-capable byte streams grouped
// by a type tag, exposing pin/unpin/create plus positioned read/write.
//
// Handles returned by Pin are transient memory-mapped views; callers
// must Unpin them before the underlying file is truncated or removed.
// A FileSet never assumes a persistent file descriptor per handle —
// handles are leased around each I/O, per spec.md §5.
package fileset

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	mmap "github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"

	"github.com/mgtoolkit/mgstore/mgerr"
)

// Whence mirrors io.Seeker's constants for the Pin offset origin.
type Whence int

const (
	SeekStart Whence = iota
	SeekCurrent
	SeekEnd
)

// Handle is a transient, pinned view onto a region of a numbered file.
// It must be released with Unpin.
type Handle struct {
	fs     *FileSet
	typ    string
	fileno uint32
	region mmap.MMap
	base   int64 // file offset region[0] corresponds to
}

// Bytes returns the pinned region's bytes. The slice is only valid
// until Unpin.
func (h *Handle) Bytes() []byte { return h.region }

// Offset returns the file offset the pinned region starts at.
func (h *Handle) Offset() int64 { return h.base }

// FileSet groups numbered files under a single directory, keyed by a
// type tag (e.g. "vocab", "docmap", "postings"). Files other than the
// last one of a type must be exactly FilePages*PageSize bytes
// (spec.md §6); the caller is responsible for respecting that
// invariant when choosing fileno boundaries.
type FileSet struct {
	dir string

	mu    sync.Mutex
	open  map[string]map[uint32]*os.File
	locks map[string]*os.File // advisory writer lock per type
}

// Open returns a FileSet rooted at dir, creating it if necessary.
func Open(dir string) (*FileSet, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, mgerr.Wrap(err, "fileset: mkdir")
	}
	return &FileSet{
		dir:   dir,
		open:  map[string]map[uint32]*os.File{},
		locks: map[string]*os.File{},
	}, nil
}

func (fs *FileSet) path(typ string, fileno uint32) string {
	return filepath.Join(fs.dir, fmt.Sprintf("%s.%06d", typ, fileno))
}

// closeType closes and forgets every open handle for typ, without
// touching the files on disk. Callers use this before a rename that
// would otherwise leave a stale descriptor pointing at the old name.
func (fs *FileSet) closeType(typ string) {
	for fileno, f := range fs.open[typ] {
		f.Close()
		delete(fs.open[typ], fileno)
	}
}

// RenameType retargets each numbered file in filenos from oldTyp to
// newTyp with os.Rename, one file at a time, replacing the newTyp file
// of the same fileno if one exists. Each single rename is atomic; the
// set as a whole is not, and newTyp files whose fileno is not in
// filenos are left in place. This is the mechanism the impact
// transform's vocabulary rebuild uses to swap a freshly built side
// vocabulary over the live one: the new files are written complete
// under a side type tag, then this call makes them visible under the
// real one.
func (fs *FileSet) RenameType(oldTyp, newTyp string, filenos []uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.closeType(oldTyp)
	fs.closeType(newTyp)

	for _, fileno := range filenos {
		if err := os.Rename(fs.path(oldTyp, fileno), fs.path(newTyp, fileno)); err != nil {
			return mgerr.Wrap(err, "fileset: rename")
		}
	}
	delete(fs.open, oldTyp)
	return nil
}

// Create creates a new, empty numbered file of the given type. It is
// an error for the file to already exist.
func (fs *FileSet) Create(typ string, fileno uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(fs.path(typ, fileno), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return mgerr.Newf(mgerr.Arg, "fileset: %s.%d already exists", typ, fileno)
		}
		return mgerr.Wrap(err, "fileset: create")
	}
	fs.register(typ, fileno, f)
	return nil
}

// CreateOrReplace creates fileno if absent, or truncates it to empty
// if it already exists. It is used for files rewritten wholesale on
// every save, like the document map's trailing cache pages, where
// Create's exclusive semantics would reject a second save.
func (fs *FileSet) CreateOrReplace(typ string, fileno uint32) error {
	fs.mu.Lock()
	if m, ok := fs.open[typ]; ok {
		if f, ok := m[fileno]; ok {
			if err := f.Truncate(0); err != nil {
				fs.mu.Unlock()
				return mgerr.Wrap(err, "fileset: truncate")
			}
			fs.mu.Unlock()
			return nil
		}
	}
	fs.mu.Unlock()

	f, err := os.OpenFile(fs.path(typ, fileno), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return mgerr.Wrap(err, "fileset: create")
	}
	fs.mu.Lock()
	fs.register(typ, fileno, f)
	fs.mu.Unlock()
	return nil
}

func (fs *FileSet) register(typ string, fileno uint32, f *os.File) {
	m, ok := fs.open[typ]
	if !ok {
		m = map[uint32]*os.File{}
		fs.open[typ] = m
	}
	m[fileno] = f
}

func (fs *FileSet) handle(typ string, fileno uint32, write bool) (*os.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if m, ok := fs.open[typ]; ok {
		if f, ok := m[fileno]; ok {
			return f, nil
		}
	}
	flags := os.O_RDONLY
	if write {
		flags = os.O_RDWR
	}
	f, err := os.OpenFile(fs.path(typ, fileno), flags, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, mgerr.Newf(mgerr.Arg, "fileset: %s.%d not found", typ, fileno)
		}
		return nil, mgerr.Wrap(err, "fileset: open")
	}
	fs.register(typ, fileno, f)
	return f, nil
}

// Pin maps `size` bytes of file `fileno` of type `typ` starting at
// `offset` relative to `whence`, returning a handle the caller must
// Unpin. A negative size pins to the current end of file.
func (fs *FileSet) Pin(typ string, fileno uint32, offset int64, whence Whence, size int) (*Handle, error) {
	f, err := fs.handle(typ, fileno, false)
	if err != nil {
		return nil, err
	}

	base := offset
	if whence == SeekEnd || whence == SeekCurrent {
		info, err := f.Stat()
		if err != nil {
			return nil, mgerr.Wrap(err, "fileset: stat")
		}
		if whence == SeekEnd {
			base = info.Size() + offset
		}
	}
	if size < 0 {
		info, err := f.Stat()
		if err != nil {
			return nil, mgerr.Wrap(err, "fileset: stat")
		}
		size = int(info.Size() - base)
	}
	if size <= 0 {
		return nil, mgerr.Newf(mgerr.Arg, "fileset: pin size %d invalid", size)
	}

	region, err := mmap.MapRegion(f, size, mmap.RDONLY, 0, base)
	if err != nil {
		return nil, mgerr.Wrap(err, "fileset: mmap")
	}
	return &Handle{fs: fs, typ: typ, fileno: fileno, region: region, base: base}, nil
}

// Unpin releases a handle's memory mapping. It is a no-op error to
// Unpin a handle twice.
func (fs *FileSet) Unpin(h *Handle) error {
	if h == nil || h.region == nil {
		return nil
	}
	err := h.region.Unmap()
	h.region = nil
	if err != nil {
		return mgerr.Wrap(err, "fileset: munmap")
	}
	return nil
}

// ReadAt reads exactly len(b) bytes from file `fileno` of type `typ`
// at `offset`, without requiring a pinned handle. It is used for small,
// one-off reads (a page header peek) where mmap setup cost isn't
// worth it.
func (fs *FileSet) ReadAt(typ string, fileno uint32, offset int64, b []byte) error {
	f, err := fs.handle(typ, fileno, false)
	if err != nil {
		return err
	}
	if _, err := f.ReadAt(b, offset); err != nil {
		return mgerr.Wrap(err, "fileset: read")
	}
	return nil
}

// WriteAt writes b to file `fileno` of type `typ` at `offset`. The
// file must already exist (see Create); WriteAt does not create it and
// returns an mgerr.Arg error if it is missing.
func (fs *FileSet) WriteAt(typ string, fileno uint32, offset int64, b []byte) error {
	f, err := fs.handle(typ, fileno, true)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(b, offset); err != nil {
		return mgerr.Wrap(err, "fileset: write")
	}
	return nil
}

// Size returns the current size in bytes of file `fileno` of type
// `typ`.
func (fs *FileSet) Size(typ string, fileno uint32) (int64, error) {
	f, err := fs.handle(typ, fileno, false)
	if err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, mgerr.Wrap(err, "fileset: stat")
	}
	return info.Size(), nil
}

// Sync flushes file `fileno` of type `typ` to stable storage.
func (fs *FileSet) Sync(typ string, fileno uint32) error {
	f, err := fs.handle(typ, fileno, true)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return mgerr.Wrap(err, "fileset: sync")
	}
	return nil
}

// LockExclusive takes a non-blocking advisory writer lock for `typ`,
// satisfying §6's "safely openable by a separate process while no
// writer holds it" contract. It returns mgerr.Arg if another writer
// already holds the lock.
func (fs *FileSet) LockExclusive(typ string) error {
	return fs.lock(typ, unix.LOCK_EX|unix.LOCK_NB)
}

// LockShared takes a blocking advisory reader lock for `typ`.
func (fs *FileSet) LockShared(typ string) error {
	return fs.lock(typ, unix.LOCK_SH)
}

func (fs *FileSet) lock(typ string, how int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.locks[typ]; ok {
		return nil
	}
	lockPath := filepath.Join(fs.dir, typ+".lock")
	f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return mgerr.Wrap(err, "fileset: open lock file")
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return mgerr.Newf(mgerr.Arg, "fileset: %s already locked by another writer", typ)
		}
		return mgerr.Wrap(err, "fileset: flock")
	}
	fs.locks[typ] = f
	return nil
}

// Unlock releases the advisory lock held for `typ`, if any.
func (fs *FileSet) Unlock(typ string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, ok := fs.locks[typ]
	if !ok {
		return nil
	}
	delete(fs.locks, typ)
	err := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	f.Close()
	if err != nil {
		return mgerr.Wrap(err, "fileset: unlock")
	}
	return nil
}

// Close releases all open file handles and locks.
func (fs *FileSet) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var firstErr error
	for typ, f := range fs.locks {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		delete(fs.locks, typ)
	}
	for _, m := range fs.open {
		for _, f := range m {
			if err := f.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
