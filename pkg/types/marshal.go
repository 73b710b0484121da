package types

import (
	"math"
	"math/big"
	"net"
	"reflect"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/inf.v0"

	"github.com/cqlwire/cqlwire/pkg/frame"
)

// Validate reports whether v is an acceptable value for the type. A nil
// return means acceptable; otherwise the error text is the
// human-readable reason.
//
// Each kind accepts its canonical Go representation (the one Decode
// produces) plus natural widenings: the integer kinds take int, int32
// and int64 within range, timestamp additionally takes time.Time, uuid
// and inet take their string forms, and the collection kinds take any
// slice, array or map via reflection. Encode normalises all accepted
// forms onto the wire encoding.
func (t Type) Validate(v interface{}) error {
	switch t.kind {
	case KindAscii:
		s, ok := v.(string)
		if !ok {
			return errors.Errorf("expected string for ascii, got %T", v)
		}
		for i := 0; i < len(s); i++ {
			if s[i] > 0x7F {
				return errors.Errorf("ascii string contains non-ASCII byte 0x%02x at offset %d", s[i], i)
			}
		}
	case KindVarchar, KindText:
		s, ok := v.(string)
		if !ok {
			return errors.Errorf("expected string for %s, got %T", t.kind, v)
		}
		if !utf8.ValidString(s) {
			return errors.Errorf("%s string is not valid UTF-8", t.kind)
		}
	case KindBlob, KindCustom:
		switch v.(type) {
		case []byte, string:
		default:
			return errors.Errorf("expected bytes for %s, got %T", t.kind, v)
		}
	case KindBoolean:
		if _, ok := v.(bool); !ok {
			return errors.Errorf("expected bool for boolean, got %T", v)
		}
	case KindInt:
		n, ok := asInt64(v)
		if !ok {
			return errors.Errorf("expected integer for int, got %T", v)
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return errors.Errorf("value %d out of range for int", n)
		}
	case KindBigint, KindCounter:
		if _, ok := asInt64(v); !ok {
			return errors.Errorf("expected integer for %s, got %T", t.kind, v)
		}
	case KindTimestamp:
		if _, ok := v.(time.Time); ok {
			return nil
		}
		if _, ok := asInt64(v); !ok {
			return errors.Errorf("expected milliseconds or time.Time for timestamp, got %T", v)
		}
	case KindFloat:
		if _, ok := v.(float32); !ok {
			return errors.Errorf("expected float32 for float, got %T", v)
		}
	case KindDouble:
		switch v.(type) {
		case float64, float32:
		default:
			return errors.Errorf("expected float for double, got %T", v)
		}
	case KindVarint:
		switch v.(type) {
		case *big.Int, int, int32, int64:
		default:
			return errors.Errorf("expected integer for varint, got %T", v)
		}
	case KindDecimal:
		if _, ok := v.(*inf.Dec); !ok {
			return errors.Errorf("expected *inf.Dec for decimal, got %T", v)
		}
	case KindUUID, KindTimeUUID:
		switch u := v.(type) {
		case uuid.UUID:
		case string:
			if _, err := uuid.Parse(u); err != nil {
				return errors.Errorf("invalid uuid string %q", u)
			}
		case []byte:
			if len(u) != 16 {
				return errors.Errorf("expected 16 uuid bytes, got %d", len(u))
			}
		default:
			return errors.Errorf("expected uuid for %s, got %T", t.kind, v)
		}
	case KindInet:
		switch a := v.(type) {
		case net.IP:
			if a.To4() == nil && a.To16() == nil {
				return errors.Errorf("invalid inet address %v", a)
			}
		case string:
			if net.ParseIP(a) == nil {
				return errors.Errorf("invalid inet address %q", a)
			}
		default:
			return errors.Errorf("expected net.IP for inet, got %T", v)
		}
	case KindList, KindSet:
		rv := reflect.ValueOf(v)
		if v == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return errors.Errorf("expected sequence for %s, got %T", t.kind, v)
		}
		elem := t.Elem()
		for i := 0; i < rv.Len(); i++ {
			if err := elem.Validate(rv.Index(i).Interface()); err != nil {
				return errors.Wrapf(err, "element %d", i)
			}
		}
	case KindMap:
		rv := reflect.ValueOf(v)
		if v == nil || rv.Kind() != reflect.Map {
			return errors.Errorf("expected mapping for map, got %T", v)
		}
		key, val := t.Key(), t.Elem()
		for _, mk := range rv.MapKeys() {
			if err := key.Validate(mk.Interface()); err != nil {
				return errors.Wrapf(err, "key %v", mk.Interface())
			}
			if err := val.Validate(rv.MapIndex(mk).Interface()); err != nil {
				return errors.Wrapf(err, "value for key %v", mk.Interface())
			}
		}
	default:
		return errors.Errorf("unsupported type %s", t)
	}
	return nil
}

// Encode produces the CQL byte encoding of v. It assumes v passed
// Validate; values that did not may still be rejected here.
func (t Type) Encode(v interface{}) ([]byte, error) {
	switch t.kind {
	case KindAscii, KindVarchar, KindText:
		s, ok := v.(string)
		if !ok {
			return nil, errors.Errorf("can not encode %T as %s", v, t.kind)
		}
		return []byte(s), nil

	case KindBlob, KindCustom:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
		return nil, errors.Errorf("can not encode %T as %s", v, t.kind)

	case KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, errors.Errorf("can not encode %T as boolean", v)
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case KindInt:
		n, ok := asInt64(v)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			return nil, errors.Errorf("can not encode %v (%T) as int", v, v)
		}
		f := frame.New()
		f.WriteInt(int32(n))
		return f.Bytes(), nil

	case KindBigint, KindCounter, KindTimestamp:
		var n int64
		if ts, ok := v.(time.Time); ok && t.kind == KindTimestamp {
			n = ts.UnixMilli()
		} else if i, ok := asInt64(v); ok {
			n = i
		} else {
			return nil, errors.Errorf("can not encode %T as %s", v, t.kind)
		}
		f := frame.New()
		f.WriteLong(n)
		return f.Bytes(), nil

	case KindFloat:
		n, ok := v.(float32)
		if !ok {
			return nil, errors.Errorf("can not encode %T as float", v)
		}
		f := frame.New()
		f.WriteInt(int32(math.Float32bits(n)))
		return f.Bytes(), nil

	case KindDouble:
		var n float64
		switch d := v.(type) {
		case float64:
			n = d
		case float32:
			n = float64(d)
		default:
			return nil, errors.Errorf("can not encode %T as double", v)
		}
		f := frame.New()
		f.WriteLong(int64(math.Float64bits(n)))
		return f.Bytes(), nil

	case KindVarint:
		var n *big.Int
		switch i := v.(type) {
		case *big.Int:
			n = i
		case int:
			n = big.NewInt(int64(i))
		case int32:
			n = big.NewInt(int64(i))
		case int64:
			n = big.NewInt(i)
		default:
			return nil, errors.Errorf("can not encode %T as varint", v)
		}
		return encBigInt2C(n), nil

	case KindDecimal:
		d, ok := v.(*inf.Dec)
		if !ok {
			return nil, errors.Errorf("can not encode %T as decimal", v)
		}
		f := frame.New()
		f.WriteInt(int32(d.Scale()))
		return append(f.Bytes(), encBigInt2C(d.UnscaledBig())...), nil

	case KindUUID, KindTimeUUID:
		switch u := v.(type) {
		case uuid.UUID:
			out := make([]byte, 16)
			copy(out, u[:])
			return out, nil
		case string:
			parsed, err := uuid.Parse(u)
			if err != nil {
				return nil, errors.Wrapf(err, "can not encode %q as %s", u, t.kind)
			}
			out := make([]byte, 16)
			copy(out, parsed[:])
			return out, nil
		case []byte:
			if len(u) != 16 {
				return nil, errors.Errorf("can not encode %d bytes as %s", len(u), t.kind)
			}
			out := make([]byte, 16)
			copy(out, u)
			return out, nil
		}
		return nil, errors.Errorf("can not encode %T as %s", v, t.kind)

	case KindInet:
		var ip net.IP
		switch a := v.(type) {
		case net.IP:
			ip = a
		case string:
			ip = net.ParseIP(a)
		default:
			return nil, errors.Errorf("can not encode %T as inet", v)
		}
		if ip4 := ip.To4(); ip4 != nil {
			return append([]byte(nil), ip4...), nil
		}
		if ip16 := ip.To16(); ip16 != nil {
			return append([]byte(nil), ip16...), nil
		}
		return nil, errors.Errorf("can not encode %v as inet", v)

	case KindList, KindSet:
		rv := reflect.ValueOf(v)
		if v == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return nil, errors.Errorf("can not encode %T as %s", v, t.kind)
		}
		elem := t.Elem()
		f := frame.New()
		f.WriteShort(uint16(rv.Len()))
		for i := 0; i < rv.Len(); i++ {
			p, err := elem.Encode(rv.Index(i).Interface())
			if err != nil {
				return nil, errors.Wrapf(err, "element %d", i)
			}
			f.WriteShortBytes(p)
		}
		return f.Bytes(), nil

	case KindMap:
		rv := reflect.ValueOf(v)
		if v == nil || rv.Kind() != reflect.Map {
			return nil, errors.Errorf("can not encode %T as map", v)
		}
		key, val := t.Key(), t.Elem()
		f := frame.New()
		f.WriteShort(uint16(rv.Len()))
		for _, mk := range rv.MapKeys() {
			kp, err := key.Encode(mk.Interface())
			if err != nil {
				return nil, errors.Wrapf(err, "key %v", mk.Interface())
			}
			vp, err := val.Encode(rv.MapIndex(mk).Interface())
			if err != nil {
				return nil, errors.Wrapf(err, "value for key %v", mk.Interface())
			}
			f.WriteShortBytes(kp)
			f.WriteShortBytes(vp)
		}
		return f.Bytes(), nil
	}

	return nil, errors.Errorf("unsupported type %s", t)
}

// Decode turns the CQL byte encoding back into a value, the inverse of
// Encode on well-formed input.
func (t Type) Decode(data []byte) (interface{}, error) {
	switch t.kind {
	case KindAscii:
		for i := 0; i < len(data); i++ {
			if data[i] > 0x7F {
				return nil, errors.Wrapf(frame.ErrMalformed, "ascii value contains byte 0x%02x at offset %d", data[i], i)
			}
		}
		return string(data), nil

	case KindVarchar, KindText:
		if !utf8.Valid(data) {
			return nil, errors.Wrapf(frame.ErrMalformed, "%s value is not valid UTF-8", t.kind)
		}
		return string(data), nil

	case KindBlob, KindCustom:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil

	case KindBoolean:
		if len(data) != 1 {
			return nil, errors.Wrapf(frame.ErrMalformed, "expected 1 boolean byte, got %d", len(data))
		}
		return data[0] != 0, nil

	case KindInt:
		n, err := frame.NewBuffer(data).ReadInt()
		if err != nil {
			return nil, err
		}
		return int(n), nil

	case KindBigint, KindCounter, KindTimestamp:
		n, err := frame.NewBuffer(data).ReadLong()
		if err != nil {
			return nil, err
		}
		return n, nil

	case KindFloat:
		n, err := frame.NewBuffer(data).ReadInt()
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(uint32(n)), nil

	case KindDouble:
		n, err := frame.NewBuffer(data).ReadLong()
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(uint64(n)), nil

	case KindVarint:
		return decBigInt2C(data), nil

	case KindDecimal:
		f := frame.NewBuffer(data)
		scale, err := f.ReadInt()
		if err != nil {
			return nil, err
		}
		return inf.NewDecBig(decBigInt2C(f.Bytes()), inf.Scale(scale)), nil

	case KindUUID, KindTimeUUID:
		u, err := uuid.FromBytes(data)
		if err != nil {
			return nil, errors.Wrapf(frame.ErrMalformed, "expected 16 uuid bytes, got %d", len(data))
		}
		return u.String(), nil

	case KindInet:
		if len(data) != 4 && len(data) != 16 {
			return nil, errors.Wrapf(frame.ErrMalformed, "invalid inet address length %d", len(data))
		}
		ip := make(net.IP, len(data))
		copy(ip, data)
		return ip, nil

	case KindList, KindSet:
		f := frame.NewBuffer(data)
		n, err := f.ReadShort()
		if err != nil {
			return nil, err
		}
		elem := t.Elem()
		out := make([]interface{}, n)
		for i := range out {
			p, err := f.ReadShortBytes()
			if err != nil {
				return nil, err
			}
			if out[i], err = elem.Decode(p); err != nil {
				return nil, errors.Wrapf(err, "element %d", i)
			}
		}
		return out, nil

	case KindMap:
		f := frame.NewBuffer(data)
		n, err := f.ReadShort()
		if err != nil {
			return nil, err
		}
		key, val := t.Key(), t.Elem()
		out := make(map[interface{}]interface{}, n)
		for i := 0; i < int(n); i++ {
			kp, err := f.ReadShortBytes()
			if err != nil {
				return nil, err
			}
			vp, err := f.ReadShortBytes()
			if err != nil {
				return nil, err
			}
			kv, err := key.Decode(kp)
			if err != nil {
				return nil, errors.Wrapf(err, "key %d", i)
			}
			vv, err := val.Decode(vp)
			if err != nil {
				return nil, errors.Wrapf(err, "value %d", i)
			}
			out[HashableKey(kv)] = vv
		}
		return out, nil
	}

	return nil, errors.Errorf("unsupported type %s", t)
}

// HashableKey maps a decoded value onto a form usable as a Go map key.
// Byte-slice-backed values (blob, custom, inet) hash by their string
// form; everything else hashes as itself.
func HashableKey(v interface{}) interface{} {
	switch k := v.(type) {
	case []byte:
		return string(k)
	case net.IP:
		return k.String()
	default:
		return v
	}
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

var bigOne = big.NewInt(1)

// encBigInt2C encodes a big.Int as a minimal-width two's-complement
// big-endian byte string.
func encBigInt2C(n *big.Int) []byte {
	switch n.Sign() {
	case 0:
		return []byte{0}
	case 1:
		b := n.Bytes()
		if b[0]&0x80 != 0 {
			b = append([]byte{0}, b...)
		}
		return b
	default:
		length := uint(n.BitLen()/8+1) * 8
		b := new(big.Int).Add(n, new(big.Int).Lsh(bigOne, length)).Bytes()
		// A most significant bit on a byte boundary leaves a redundant
		// sign-extension byte.
		if len(b) >= 2 && b[0] == 0xFF && b[1]&0x80 != 0 {
			b = b[1:]
		}
		return b
	}
}

// decBigInt2C decodes a two's-complement big-endian byte string; the
// empty string is zero.
func decBigInt2C(data []byte) *big.Int {
	n := new(big.Int).SetBytes(data)
	if len(data) > 0 && data[0]&0x80 != 0 {
		n.Sub(n, new(big.Int).Lsh(bigOne, uint(len(data))*8))
	}
	if n.Sign() == 0 {
		return big.NewInt(0)
	}
	return n
}
