package acebase

import "math"

// decodeScalar reconstructs the Go value held by a tiny or inline child
// entry; the inverse of valueFitsInline. Record-located values are resolved
// by the Node Reader, not here, since that requires following an address.
func decodeScalar(vt ValueType, location valueLocation, tiny byte, inline []byte) (any, error) {
	switch location {
	case valueLocationTiny:
		switch vt {
		case ValueTypeBoolean:
			return tiny != 0, nil
		case ValueTypeNumber:
			return float64(tiny & 0x0F), nil
		case ValueTypeString:
			return "", nil
		case ValueTypeBinary:
			return []byte{}, nil
		case ValueTypeObject:
			return map[string]any{}, nil
		case ValueTypeArray:
			return []any{}, nil
		case ValueTypeReference:
			return Reference{Path: ""}, nil
		default:
			return nil, &UnsupportedValueError{Reason: "tiny value for type " + vt.String()}
		}

	case valueLocationInline:
		switch vt {
		case ValueTypeNumber:
			if len(inline) != 8 {
				return nil, &CorruptError{Reason: "inline number wrong length"}
			}
			return math.Float64frombits(getUint64(inline)), nil
		case ValueTypeDateTime:
			if len(inline) != 8 {
				return nil, &CorruptError{Reason: "inline datetime wrong length"}
			}
			return int64(getUint64(inline)), nil
		case ValueTypeString:
			return string(inline), nil
		case ValueTypeBinary:
			return append([]byte(nil), inline...), nil
		case ValueTypeReference:
			return Reference{Path: string(inline)}, nil
		default:
			return nil, &UnsupportedValueError{Reason: "inline value for type " + vt.String()}
		}

	default:
		return nil, &UnsupportedValueError{Reason: "scalar decode for location " + string(rune('0'+location))}
	}
}
