package acebase

import (
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Storage is the AceBase storage core: a single paged, memory-mapped file
// plus the free-space table, key-index table, node address cache, lock
// manager, and record codec that together implement locate/exists/getValue/
// getChildren/getChildInfo/update/set/remove/transaction. Grounded on the
// teacher's top-level Mari struct (Mari.go), which likewise wires a single
// mmap'd file to its supporting structures behind one exported handle.
type Storage struct {
	opts Options
	log  *zap.SugaredLogger

	pf     *PagedFile
	kit    *keyIndexTable
	fst    *freeSpaceTable
	cache  *nodeAddressCache
	locks  *lockManager
	reader *nodeReader
	writer *nodeWriter

	tidSeq uint64
}

// Open opens (creating if absent) the storage file described by opts,
// wiring every component together. If zap's production logger cannot be
// built, it falls back to zap's no-op logger rather than failing, matching
// the teacher's tolerance for a missing optional dependency.
func Open(opts Options, notifier Notifier) (*Storage, error) {
	opts = withDefaults(opts)

	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	sugar := logger.Sugar()

	pf, err := openPagedFile(opts.Filepath, opts.PageSize, opts.RecordSize)
	if err != nil {
		return nil, err
	}

	kit := newKeyIndexTable()
	if !pf.kit().IsZero() {
		rec, err := readRecord(pf, pf.kit())
		if err != nil {
			pf.Close()
			return nil, err
		}
		loaded, err := decodeKeyIndexTable(rec.Body)
		if err != nil {
			pf.Close()
			return nil, err
		}
		kit = loaded
	}

	fst := newFreeSpaceTable(opts.PageSize)
	cache := newNodeAddressCache(opts.CacheMaxEntries, opts.CacheTTL)
	locks := newLockManager(opts.LockTimeout)

	reader := newNodeReader(pf, kit, cache, locks)
	writer := newNodeWriter(pf, kit, fst, cache, locks, reader, opts, notifier)

	s := &Storage{
		opts: opts, log: sugar,
		pf: pf, kit: kit, fst: fst, cache: cache, locks: locks,
		reader: reader, writer: writer,
	}

	s.log.Infow("acebase storage opened", "path", opts.Filepath, "pageSize", opts.PageSize, "recordSize", opts.RecordSize)
	return s, nil
}

// Close persists the key-index table and flushes the paged file, combining
// both failure modes into one error via multierr rather than swallowing
// whichever one it logged second.
func (s *Storage) Close() error {
	var persistErr error
	kitBody := s.kit.encode()
	if len(kitBody) > 0 {
		addr, _, err := s.writer._write(s.pf.kit(), recordHeader{ValueType: ValueTypeBinary}, kitBody)
		if err != nil {
			s.log.Errorw("failed to persist key-index table", "error", err)
			persistErr = err
		} else {
			s.pf.setKit(addr)
		}
	}

	s.log.Infow("acebase storage closing")
	return multierr.Append(persistErr, s.pf.Close())
}

// NewTransactionID mints a fresh tid, independent of any previously expired
// tid, per the spec's resolved open question that a fresh tid carries no
// history of a prior expiry.
func (s *Storage) NewTransactionID() string {
	n := atomic.AddUint64(&s.tidSeq, 1)
	key, err := generatePushKey(time.Now())
	if err != nil {
		return pathChildIndex("tid", int(n))
	}
	return key
}

// Exists reports whether path has a value (including an empty object/array,
// but not a deleted/never-written path).
func (s *Storage) Exists(path string, tid string) (bool, error) {
	_, _, err := s.reader.locate(path, tid)
	if err != nil {
		if _, ok := err.(*NodeNotFoundError); ok {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Locate resolves path to its record address and value type.
func (s *Storage) Locate(path string, tid string) (RecordAddress, ValueType, error) {
	return s.reader.locate(path, tid)
}

// GetValue recursively resolves the value at path.
func (s *Storage) GetValue(path string, tid string, opts GetValueOptions) (any, error) {
	if path == "" {
		return s.reader.getValue("", s.pf.root(), ValueTypeObject, tid, opts, 0)
	}

	info, err := s.reader.resolve(path, tid)
	if err != nil {
		return nil, err
	}
	if info.Type != ValueTypeObject && info.Type != ValueTypeArray {
		if info.Address.IsZero() {
			return info.Value, nil
		}
		rec, err := readRecord(s.pf, info.Address)
		if err != nil {
			return nil, err
		}
		switch info.Type {
		case ValueTypeBinary:
			return append([]byte(nil), rec.Body...), nil
		case ValueTypeReference:
			return Reference{Path: string(rec.Body)}, nil
		}
		return string(rec.Body), nil
	}
	if info.Address.IsZero() {
		if info.Type == ValueTypeArray {
			return []any{}, nil
		}
		return map[string]any{}, nil
	}
	return s.reader.getValue(path, info.Address, info.Type, tid, opts, 0)
}

// GetChildren streams every child of path.
func (s *Storage) GetChildren(path string, tid string, fn func(NodeInfo) bool) error {
	addr, vt, err := s.reader.locate(path, tid)
	if err != nil {
		return err
	}
	if addr.IsZero() {
		return nil
	}
	lock, err := s.locks.lock(path, tid, false, lockOptions{})
	if err != nil {
		return err
	}
	defer s.locks.release(lock)
	return s.reader.getChildren(addr, vt, getChildrenOptions{}, fn)
}

// GetChildInfo returns information about one child of path.
func (s *Storage) GetChildInfo(path string, key string, tid string) (NodeInfo, error) {
	addr, vt, err := s.reader.locate(path, tid)
	if err != nil {
		return NodeInfo{}, err
	}
	if addr.IsZero() {
		return NodeInfo{Key: key, Exists: false}, nil
	}
	lock, err := s.locks.lock(path, tid, false, lockOptions{})
	if err != nil {
		return NodeInfo{}, err
	}
	defer s.locks.release(lock)
	return s.reader.getChildInfo(addr, vt, key)
}

// Update merges value into whatever object/array already exists at path.
func (s *Storage) Update(path string, value any, tid string) error {
	return s.writer.update(path, value, updateOptions{Merge: true, Tid: tid})
}

// Set overwrites path with value entirely.
func (s *Storage) Set(path string, value any, tid string) error {
	return s.writer.update(path, value, updateOptions{Merge: false, Tid: tid})
}

// Remove deletes the value at path.
func (s *Storage) Remove(path string, tid string) error {
	return s.writer.update(path, nil, updateOptions{Merge: false, Tid: tid})
}

// Push generates a new time-ordered key under path, writes value there, and
// returns the key.
func (s *Storage) Push(path string, value any, tid string) (string, error) {
	key, err := generatePushKey(time.Now())
	if err != nil {
		return "", err
	}
	if err := s.writer.update(pathChild(path, key), value, updateOptions{Merge: false, Tid: tid}); err != nil {
		return "", err
	}
	return key, nil
}

// Transaction acquires a write lock on path, reads the current value, and
// invokes fn with it. fn returns the value to write back and whether to
// proceed at all; proceed=false cancels the transaction with no write
// (matching the spec's "fn returns undefined" cancellation case, expressed
// here as an explicit flag since Go has no value distinct from both nil and
// the zero value). A non-nil error from fn aborts without writing.
func (s *Storage) Transaction(path string, fn func(current any) (value any, proceed bool, err error)) error {
	tid := s.NewTransactionID()

	lock, err := s.locks.lock(path, tid, true, lockOptions{})
	if err != nil {
		return err
	}
	defer s.locks.release(lock)

	current, err := s.GetValue(path, tid, GetValueOptions{ChildObjects: true})
	if err != nil {
		if _, ok := err.(*NodeNotFoundError); !ok {
			return err
		}
		current = nil
	}

	value, proceed, err := fn(current)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}
	return s.writer.update(path, value, updateOptions{Merge: false, Tid: tid})
}

// Matches filters path's children against criteria, invoking fn for each
// child whose resolved value satisfies every criterion. Each criterion's Key
// names a property of the child itself, so an object-valued child is
// resolved in full (recursively) before its properties are tested; a
// scalar-valued child is wrapped as {key: value} so criteria addressed at
// its own key still work (e.g. filtering a flat list of named scalars).
func (s *Storage) Matches(path string, tid string, criteria []Criterion, fn func(NodeInfo) bool) error {
	var walkErr error
	err := s.GetChildren(path, tid, func(info NodeInfo) bool {
		var flat map[string]any
		if info.Type == ValueTypeObject || info.Type == ValueTypeArray || !info.Address.IsZero() {
			childPath := pathChild(path, info.Key)
			resolved, err := s.GetValue(childPath, tid, GetValueOptions{ChildObjects: true})
			if err != nil {
				walkErr = err
				return false
			}
			if m, ok := resolved.(map[string]any); ok {
				flat = m
			} else {
				flat = map[string]any{info.Key: resolved}
			}
		} else {
			flat = map[string]any{info.Key: info.Value}
		}

		ok, err := matches(flat, criteria)
		if err != nil || !ok {
			return true
		}
		return fn(info)
	})
	if err != nil {
		return err
	}
	return walkErr
}

// LockStats returns a snapshot of lock manager activity.
func (s *Storage) LockStats() LockStats {
	return s.locks.stats()
}

// FreeSpaceStats returns a snapshot of free-space table activity.
func (s *Storage) FreeSpaceStats() FreeSpaceStats {
	return s.fst.stats()
}
