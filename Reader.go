package acebase

import "sort"

// nodeReader resolves paths to values by walking the paged file, consulting
// the Node Address Cache to skip repeated root-to-leaf descents and the
// Lock Manager to hold a read lock across a multi-record resolution.
type nodeReader struct {
	pf    *PagedFile
	kit   *keyIndexTable
	cache *nodeAddressCache
	locks *lockManager
}

func newNodeReader(pf *PagedFile, kit *keyIndexTable, cache *nodeAddressCache, locks *lockManager) *nodeReader {
	return &nodeReader{pf: pf, kit: kit, cache: cache, locks: locks}
}

// locate resolves path to its record address and value type, reading from
// the nearest cached ancestor forward instead of always starting at the
// file's root pointer.
func (r *nodeReader) locate(path string, tid string) (RecordAddress, ValueType, error) {
	info, err := r.resolve(path, tid)
	if err != nil {
		return RecordAddress{}, 0, err
	}
	return info.Address, info.Type, nil
}

// resolve walks path from the nearest cached ancestor (or the file's root)
// and returns the full NodeInfo for path's final segment, including any
// tiny/inline value it carries.
func (r *nodeReader) resolve(path string, tid string) (NodeInfo, error) {
	if path == "" {
		return NodeInfo{Path: "", Exists: true, Type: ValueTypeObject, Address: r.pf.root()}, nil
	}

	ancestorPath, addr, vt, found := r.cache.findAncestor(path)
	if !found {
		ancestorPath = ""
		addr = r.pf.root()
		vt = ValueTypeObject
	}

	remaining := path
	if ancestorPath != "" {
		remaining = path[len(ancestorPath):]
		if len(remaining) > 0 && remaining[0] == '/' {
			remaining = remaining[1:]
		}
	}
	segments := splitPath(remaining)
	if len(segments) == 0 {
		// path itself was cached
		return NodeInfo{Path: path, Key: pathKey(path), Exists: true, Type: vt, Address: addr}, nil
	}

	current := ancestorPath
	var info NodeInfo
	for i, key := range segments {
		lock, err := r.locks.lock(current, tid, false, lockOptions{})
		if err != nil {
			return NodeInfo{}, err
		}
		var getErr error
		info, getErr = r.getChildInfo(addr, vt, key)
		r.locks.release(lock)
		if getErr != nil {
			return NodeInfo{}, getErr
		}
		if !info.Exists {
			return NodeInfo{}, &NodeNotFoundError{Path: pathChild(current, key)}
		}
		current = pathChild(current, key)
		info.Path = current

		if i == len(segments)-1 {
			break
		}
		if info.Type != ValueTypeObject && info.Type != ValueTypeArray {
			return NodeInfo{}, &NodeNotFoundError{Path: path}
		}
		if info.Address.IsZero() {
			return NodeInfo{}, &NodeNotFoundError{Path: path}
		}
		addr, vt = info.Address, info.Type
		r.cache.update(current, addr, vt)
	}

	if info.Type == ValueTypeObject || info.Type == ValueTypeArray {
		r.cache.update(current, info.Address, info.Type)
	}
	return info, nil
}

// getChildInfo reads the record at addr (of type vt) and returns information
// about its child named key.
func (r *nodeReader) getChildInfo(addr RecordAddress, vt ValueType, key string) (NodeInfo, error) {
	if vt != ValueTypeObject && vt != ValueTypeArray {
		return NodeInfo{}, &CorruptError{Reason: "getChildInfo on non-container value"}
	}

	rec, err := readRecord(r.pf, addr)
	if err != nil {
		return NodeInfo{}, err
	}

	var found childEntry
	ok := false

	if rec.Header.KeyTree {
		tree, err := decodeEmbeddedTree(rec.Body, r.kit)
		if err != nil {
			return NodeInfo{}, err
		}
		found, ok, err = tree.find(key)
		if err != nil {
			return NodeInfo{}, err
		}
	} else {
		err = decodeLinearChildren(rec.Body, r.kit, func(e childEntry) bool {
			if e.Key == key {
				found, ok = e, true
				return false
			}
			return true
		})
		if err != nil {
			return NodeInfo{}, err
		}
	}

	if !ok || found.Location == valueLocationDeleted {
		return NodeInfo{Key: key, Exists: false}, nil
	}

	info := NodeInfo{Key: key, Exists: true, Type: found.ValueType}
	if found.Location == valueLocationRecord {
		info.Address = found.Address
		return info, nil
	}

	value, err := decodeScalar(found.ValueType, found.Location, found.TinyPayload, found.InlinePayload)
	if err != nil {
		return NodeInfo{}, err
	}
	info.Value = value
	return info, nil
}

// decodeLinearChildren walks a non-tree record body decoding child entries
// one after another, invoking fn for each until fn returns false or the
// body is exhausted.
func decodeLinearChildren(body []byte, kit *keyIndexTable, fn func(childEntry) bool) error {
	offset := 0
	for offset < len(body) {
		entry, n, err := decodeChildEntry(body[offset:], kit)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		offset += n
		if !fn(entry) {
			return nil
		}
	}
	return nil
}

// getChildrenOptions filters a getChildren streaming call.
type getChildrenOptions struct {
	KeyFilter []string // if non-empty, only these keys are yielded
}

// getChildren streams every child of the record at addr (of type vt),
// honoring opts.KeyFilter, invoking fn until it returns false.
func (r *nodeReader) getChildren(addr RecordAddress, vt ValueType, opts getChildrenOptions, fn func(NodeInfo) bool) error {
	if vt != ValueTypeObject && vt != ValueTypeArray {
		return nil
	}

	rec, err := readRecord(r.pf, addr)
	if err != nil {
		return err
	}

	allowed := func(key string) bool {
		if len(opts.KeyFilter) == 0 {
			return true
		}
		i := sort.SearchStrings(opts.KeyFilter, key)
		return i < len(opts.KeyFilter) && opts.KeyFilter[i] == key
	}

	yield := func(e childEntry) bool {
		if e.Location == valueLocationDeleted || !allowed(e.Key) {
			return true
		}
		info := NodeInfo{Key: e.Key, Exists: true, Type: e.ValueType}
		if e.Location == valueLocationRecord {
			info.Address = e.Address
		} else {
			value, err := decodeScalar(e.ValueType, e.Location, e.TinyPayload, e.InlinePayload)
			if err != nil {
				return false
			}
			info.Value = value
		}
		return fn(info)
	}

	if rec.Header.KeyTree {
		tree, err := decodeEmbeddedTree(rec.Body, r.kit)
		if err != nil {
			return err
		}
		return tree.all(yield)
	}
	return decodeLinearChildren(rec.Body, r.kit, yield)
}

// GetValueOptions shapes a recursive getValue resolution.
type GetValueOptions struct {
	// Include, when non-empty, restricts which top-level keys of an object
	// or array are resolved.
	Include []string
	// Exclude removes specific top-level keys from the result.
	Exclude []string
	// ChildObjects controls whether nested objects/arrays are resolved
	// recursively (true) or returned as unresolved references (false).
	ChildObjects bool
	// MaxDepth bounds recursion; 0 means unbounded.
	MaxDepth int
}

func excluded(key string, exclude []string) bool {
	for _, k := range exclude {
		if k == key {
			return true
		}
	}
	return false
}

// getValue recursively resolves the value stored at addr/vt into a plain Go
// value (map[string]any, []any, or a scalar), holding a read lock on each
// path it descends into for the duration of that record's resolution.
func (r *nodeReader) getValue(path string, addr RecordAddress, vt ValueType, tid string, opts GetValueOptions, depth int) (any, error) {
	if vt != ValueTypeObject && vt != ValueTypeArray {
		return nil, &UnsupportedValueError{Reason: "getValue called on non-container root"}
	}
	if opts.MaxDepth > 0 && depth > opts.MaxDepth {
		return Reference{Path: path}, nil
	}

	lock, err := r.locks.lock(path, tid, false, lockOptions{})
	if err != nil {
		return nil, err
	}
	defer r.locks.release(lock)

	var sortedFilter []string
	if len(opts.Include) > 0 {
		sortedFilter = append([]string(nil), opts.Include...)
		sort.Strings(sortedFilter)
	}

	result := map[string]any{}
	var arrResult []any
	isArray := vt == ValueTypeArray
	var childErrOut error

	streamErr := r.getChildren(addr, vt, getChildrenOptions{KeyFilter: sortedFilter}, func(info NodeInfo) bool {
		if excluded(info.Key, opts.Exclude) {
			return true
		}

		var value any
		if info.Type == ValueTypeObject || info.Type == ValueTypeArray {
			if !opts.ChildObjects || info.Address.IsZero() {
				if info.Address.IsZero() {
					if info.Type == ValueTypeArray {
						value = []any{}
					} else {
						value = map[string]any{}
					}
				} else {
					value = Reference{Path: pathChild(path, info.Key)}
				}
			} else {
				childPath := pathChild(path, info.Key)
				r.cache.update(childPath, info.Address, info.Type)
				childOpts := opts
				childOpts.Include, childOpts.Exclude = nil, nil
				v, childErr := r.getValue(childPath, info.Address, info.Type, tid, childOpts, depth+1)
				if childErr != nil {
					childErrOut = childErr
					return false
				}
				value = v
			}
		} else if !info.Address.IsZero() {
			rec, err := readRecord(r.pf, info.Address)
			if err != nil {
				childErrOut = err
				return false
			}
			switch info.Type {
			case ValueTypeBinary:
				value = append([]byte(nil), rec.Body...)
			case ValueTypeReference:
				value = Reference{Path: string(rec.Body)}
			default:
				value = string(rec.Body)
			}
		} else {
			value = info.Value
		}

		if isArray {
			arrResult = append(arrResult, value)
		} else {
			result[info.Key] = value
		}
		return true
	})
	if streamErr != nil {
		return nil, streamErr
	}
	if childErrOut != nil {
		return nil, childErrOut
	}

	if isArray {
		if arrResult == nil {
			arrResult = []any{}
		}
		return arrResult, nil
	}
	return result, nil
}
