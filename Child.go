package acebase

import "math"

// childEntry is one child's encoded entry within a record body: its key
// (indexed through the KIT or inlined) and its value (tiny, inline, or
// stored in its own external record).
type childEntry struct {
	Key       string
	ValueType ValueType
	Location  valueLocation

	// TinyPayload is valid when Location == valueLocationTiny.
	TinyPayload byte
	// InlinePayload is valid when Location == valueLocationInline.
	InlinePayload []byte
	// Address is valid when Location == valueLocationRecord.
	Address RecordAddress
}

// keyInfoMaxInlineLen is the largest inline key length the 7-bit length
// field in the key-info byte can hold.
const keyInfoMaxInlineLen = 0x7F

// encodeKeyInfo writes key's key-info bytes (2 bytes if KIT-indexed, else
// 1 + len(key) bytes for an inline key) to buf, returning the bytes used.
func encodeKeyInfo(buf []byte, key string, kit *keyIndexTable) int {
	if idx := kit.indexOf(key); idx >= 0 {
		buf[0] = 0x80 | byte(idx>>8&0x7F)
		buf[1] = byte(idx)
		return 2
	}
	if idx := kit.getOrAdd(key); idx >= 0 {
		buf[0] = 0x80 | byte(idx>>8&0x7F)
		buf[1] = byte(idx)
		return 2
	}

	n := len(key)
	if n > keyInfoMaxInlineLen {
		n = keyInfoMaxInlineLen
	}
	buf[0] = byte(n)
	copy(buf[1:1+n], key[:n])
	return 1 + n
}

// decodeKeyInfo reads a key-info field from data, returning the key, the
// number of bytes consumed, and an error if the referenced KIT index doesn't
// exist.
func decodeKeyInfo(data []byte, kit *keyIndexTable) (string, int, error) {
	if len(data) < 1 {
		return "", 0, &truncatedDataError{need: 1}
	}

	if data[0]&0x80 != 0 {
		if len(data) < 2 {
			return "", 0, &truncatedDataError{need: 2 - len(data)}
		}
		idx := int(data[0]&0x7F)<<8 | int(data[1])
		key, ok := kit.get(idx)
		if !ok {
			return "", 0, &CorruptError{Reason: "key-index table reference out of range"}
		}
		return key, 2, nil
	}

	n := int(data[0])
	if len(data) < 1+n {
		return "", 0, &truncatedDataError{need: 1 + n - len(data)}
	}
	return string(data[1 : 1+n]), 1 + n, nil
}

// valueInfoHeaderSize is the two classification bytes preceding a value's
// payload, per spec.md's §4.6 V0/V1 layout:
//
//	byte V0: bits 7..4 = value_type;  bits 3..0 = tiny_value_payload
//	byte V1: bits 7..6 = value_location { 00=DELETED, 01=TINY, 10=INLINE, 11=RECORD }
//	         bits 5..0 = (for INLINE) inline_length − 1;
//	                     (for DELETED) unused-data length to skip
const valueInfoHeaderSize = 2

// maxInlinePayload is the largest inline payload the 6-bit inline_length−1
// field can address (63+1).
const maxInlinePayload = 64

func encodeValueInfo(vt ValueType, tiny byte, location valueLocation, lenField byte) [2]byte {
	v0 := byte(vt)<<4 | tiny&0x0F
	v1 := byte(location)<<6 | lenField&0x3F
	return [2]byte{v0, v1}
}

func decodeValueInfo(v0, v1 byte) (vt ValueType, tiny byte, location valueLocation, lenField byte) {
	vt = ValueType(v0 >> 4 & 0x0F)
	tiny = v0 & 0x0F
	location = valueLocation(v1 >> 6 & 0x03)
	lenField = v1 & 0x3F
	return
}

// encode serializes one child entry: key-info, then the two value-info
// bytes, then the location-specific payload.
func (c childEntry) encode(kit *keyIndexTable) []byte {
	keyBuf := make([]byte, 2+len(c.Key))
	keyLen := encodeKeyInfo(keyBuf, c.Key, kit)

	buf := make([]byte, 0, keyLen+valueInfoHeaderSize+8)
	buf = append(buf, keyBuf[:keyLen]...)

	var lenField byte
	if c.Location == valueLocationInline {
		lenField = byte(len(c.InlinePayload) - 1)
	}
	v0, v1 := encodeValueInfo(c.ValueType, c.TinyPayload, c.Location, lenField)
	buf = append(buf, v0, v1)

	switch c.Location {
	case valueLocationDeleted, valueLocationTiny:
		// no payload
	case valueLocationInline:
		buf = append(buf, c.InlinePayload...)
	case valueLocationRecord:
		addrBuf := make([]byte, 6)
		putUint32(addrBuf[0:4], c.Address.Page)
		putUint16(addrBuf[4:6], c.Address.Record)
		buf = append(buf, addrBuf...)
	}
	return buf
}

// decodeChildEntry parses one child entry from the start of data, returning
// it and the number of bytes consumed.
func decodeChildEntry(data []byte, kit *keyIndexTable) (childEntry, int, error) {
	key, keyLen, err := decodeKeyInfo(data, kit)
	if err != nil {
		return childEntry{}, 0, err
	}
	offset := keyLen

	if offset+valueInfoHeaderSize > len(data) {
		return childEntry{}, 0, &truncatedDataError{need: offset + valueInfoHeaderSize - len(data)}
	}
	vt, tiny, location, lenField := decodeValueInfo(data[offset], data[offset+1])
	offset += valueInfoHeaderSize

	entry := childEntry{Key: key, ValueType: vt, Location: location, TinyPayload: tiny}

	switch location {
	case valueLocationDeleted:
		skip := int(lenField)
		if offset+skip > len(data) {
			return childEntry{}, 0, &truncatedDataError{need: offset + skip - len(data)}
		}
		offset += skip

	case valueLocationTiny:
		// nothing further

	case valueLocationInline:
		n := int(lenField) + 1
		if offset+n > len(data) {
			return childEntry{}, 0, &truncatedDataError{need: offset + n - len(data)}
		}
		entry.InlinePayload = append([]byte(nil), data[offset:offset+n]...)
		offset += n

	case valueLocationRecord:
		if offset+6 > len(data) {
			return childEntry{}, 0, &truncatedDataError{need: offset + 6 - len(data)}
		}
		entry.Address = RecordAddress{
			Page:   getUint32(data[offset : offset+4]),
			Record: getUint16(data[offset+4 : offset+6]),
		}
		offset += 6
	}

	return entry, offset, nil
}

// valueFitsInline reports whether value (of the given type) can be encoded
// as a tiny or inline payload within a child entry, versus needing its own
// external record. maxInline is the configured MaxInlineValueSize.
func valueFitsInline(vt ValueType, value any, maxInline int) (valueLocation, byte, []byte) {
	if maxInline > maxInlinePayload {
		maxInline = maxInlinePayload
	}

	switch vt {
	case ValueTypeBoolean:
		b, _ := value.(bool)
		if b {
			return valueLocationTiny, 1, nil
		}
		return valueLocationTiny, 0, nil

	case ValueTypeNumber:
		f, _ := value.(float64)
		if f == math.Trunc(f) && f >= 0 && f <= 15 {
			return valueLocationTiny, byte(f), nil
		}
		buf := make([]byte, 8)
		putUint64(buf, math.Float64bits(f))
		return valueLocationInline, 0, buf

	case ValueTypeDateTime:
		ms, _ := value.(int64)
		buf := make([]byte, 8)
		putUint64(buf, uint64(ms))
		return valueLocationInline, 0, buf

	case ValueTypeString:
		s, _ := value.(string)
		if len(s) == 0 {
			return valueLocationTiny, 0, nil
		}
		if len(s) <= maxInline {
			return valueLocationInline, 0, []byte(s)
		}
		return valueLocationRecord, 0, nil

	case ValueTypeBinary:
		b, _ := value.([]byte)
		if len(b) == 0 {
			return valueLocationTiny, 0, nil
		}
		if len(b) <= maxInline {
			return valueLocationInline, 0, b
		}
		return valueLocationRecord, 0, nil

	case ValueTypeReference:
		r, _ := value.(Reference)
		if len(r.Path) == 0 {
			return valueLocationTiny, 0, nil
		}
		if len(r.Path) <= maxInline {
			return valueLocationInline, 0, []byte(r.Path)
		}
		return valueLocationRecord, 0, nil

	case ValueTypeObject, ValueTypeArray:
		// the tiny (empty-container) marker is returned without inspecting
		// value; the writer sends non-empty objects and arrays to their own
		// record through writeObject/writeArray and never calls this for them.
		return valueLocationTiny, 0, nil

	default:
		return valueLocationRecord, 0, nil
	}
}
