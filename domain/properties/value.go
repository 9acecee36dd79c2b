package properties

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"go-matchmaking/domain/wire"
)

var (
	ErrUnsupportedType = errors.New("properties: unsupported value type")
	ErrTypeMismatch    = errors.New("properties: stored value has a different type")
)

// Marshaler is implemented by nested values that know how to write
// themselves into a property buffer.
type Marshaler interface {
	MarshalProperty(w *wire.Writer)
}

// Unmarshaler is the decoding counterpart of Marshaler.
type Unmarshaler interface {
	UnmarshalProperty(r *wire.Reader) error
}

type valueKind byte

const (
	kindBool valueKind = iota + 1
	kindInt8
	kindInt16
	kindInt32
	kindInt64
	kindInt
	kindUint8
	kindUint16
	kindUint32
	kindUint64
	kindFloat32
	kindFloat64
	kindString
	kindBytes
	kindVec2
	kindVec3
	kindVec4
	kindQuat
	kindMat4
	kindObject
)

func writeFloats(w *wire.Writer, fs []float32) {
	for _, f := range fs {
		w.Float32(f)
	}
}

func readFloats(r *wire.Reader, fs []float32) {
	for i := range fs {
		fs[i] = r.Float32()
	}
}

// encodeValue returns the tagged buffer stored in a table for v.
func encodeValue(v any) ([]byte, error) {
	w := wire.NewWriter(16)
	switch x := v.(type) {
	case bool:
		w.Byte(byte(kindBool))
		w.Bool(x)
	case int8:
		w.Byte(byte(kindInt8))
		w.Varint(int64(x))
	case int16:
		w.Byte(byte(kindInt16))
		w.Varint(int64(x))
	case int32:
		w.Byte(byte(kindInt32))
		w.Varint(int64(x))
	case int64:
		w.Byte(byte(kindInt64))
		w.Varint(x)
	case int:
		w.Byte(byte(kindInt))
		w.Varint(int64(x))
	case uint8:
		w.Byte(byte(kindUint8))
		w.Uvarint(uint64(x))
	case uint16:
		w.Byte(byte(kindUint16))
		w.Uvarint(uint64(x))
	case uint32:
		w.Byte(byte(kindUint32))
		w.Uvarint(uint64(x))
	case uint64:
		w.Byte(byte(kindUint64))
		w.Uvarint(x)
	case float32:
		w.Byte(byte(kindFloat32))
		w.Float32(x)
	case float64:
		w.Byte(byte(kindFloat64))
		w.Float64(x)
	case string:
		w.Byte(byte(kindString))
		w.Text(x)
	case []byte:
		w.Byte(byte(kindBytes))
		w.Blob(x)
	case mgl32.Vec2:
		w.Byte(byte(kindVec2))
		writeFloats(w, x[:])
	case mgl32.Vec3:
		w.Byte(byte(kindVec3))
		writeFloats(w, x[:])
	case mgl32.Vec4:
		w.Byte(byte(kindVec4))
		writeFloats(w, x[:])
	case mgl32.Quat:
		w.Byte(byte(kindQuat))
		w.Float32(x.W)
		writeFloats(w, x.V[:])
	case mgl32.Mat4:
		w.Byte(byte(kindMat4))
		writeFloats(w, x[:])
	case Marshaler:
		w.Byte(byte(kindObject))
		x.MarshalProperty(w)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	return w.Bytes(), nil
}

func expect(r *wire.Reader, want valueKind) error {
	got := valueKind(r.Byte())
	if err := r.Err(); err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: stored kind %d, requested kind %d", ErrTypeMismatch, got, want)
	}
	return nil
}

// decodeValue decodes data into the value pointed to by out.
func decodeValue(data []byte, out any) error {
	r := wire.NewReader(data)
	var err error
	switch p := out.(type) {
	case *bool:
		if err = expect(r, kindBool); err == nil {
			*p = r.Bool()
		}
	case *int8:
		if err = expect(r, kindInt8); err == nil {
			*p = int8(r.Varint())
		}
	case *int16:
		if err = expect(r, kindInt16); err == nil {
			*p = int16(r.Varint())
		}
	case *int32:
		if err = expect(r, kindInt32); err == nil {
			*p = int32(r.Varint())
		}
	case *int64:
		if err = expect(r, kindInt64); err == nil {
			*p = r.Varint()
		}
	case *int:
		if err = expect(r, kindInt); err == nil {
			*p = int(r.Varint())
		}
	case *uint8:
		if err = expect(r, kindUint8); err == nil {
			*p = uint8(r.Uvarint())
		}
	case *uint16:
		if err = expect(r, kindUint16); err == nil {
			*p = uint16(r.Uvarint())
		}
	case *uint32:
		if err = expect(r, kindUint32); err == nil {
			*p = uint32(r.Uvarint())
		}
	case *uint64:
		if err = expect(r, kindUint64); err == nil {
			*p = r.Uvarint()
		}
	case *float32:
		if err = expect(r, kindFloat32); err == nil {
			*p = r.Float32()
		}
	case *float64:
		if err = expect(r, kindFloat64); err == nil {
			*p = r.Float64()
		}
	case *string:
		if err = expect(r, kindString); err == nil {
			*p = r.Text()
		}
	case *[]byte:
		if err = expect(r, kindBytes); err == nil {
			*p = append([]byte(nil), r.Blob()...)
		}
	case *mgl32.Vec2:
		if err = expect(r, kindVec2); err == nil {
			readFloats(r, p[:])
		}
	case *mgl32.Vec3:
		if err = expect(r, kindVec3); err == nil {
			readFloats(r, p[:])
		}
	case *mgl32.Vec4:
		if err = expect(r, kindVec4); err == nil {
			readFloats(r, p[:])
		}
	case *mgl32.Quat:
		if err = expect(r, kindQuat); err == nil {
			p.W = r.Float32()
			readFloats(r, p.V[:])
		}
	case *mgl32.Mat4:
		if err = expect(r, kindMat4); err == nil {
			readFloats(r, p[:])
		}
	case Unmarshaler:
		if err = expect(r, kindObject); err == nil {
			err = p.UnmarshalProperty(r)
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, out)
	}
	if err != nil {
		return err
	}
	return r.Err()
}
