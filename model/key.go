package model

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Key is the encoded form of an indexed value. The encoding carries a type
// tag so that values of different types never collide ("s:1" vs "i:1").
type Key string

// NullKey is the null marker: the entity has no value for the index.
const NullKey Key = ""

// IsNull reports whether k is the null marker.
func (k Key) IsNull() bool { return k == NullKey }

// Hash returns a stable 64-bit hash of the key.
func (k Key) Hash() uint64 { return xxhash.Sum64String(string(k)) }

// Partition maps the key onto one of n partitions.
func (k Key) Partition(n int) int {
	if n <= 1 {
		return 0
	}
	return int(k.Hash() % uint64(n))
}

// String returns the encoded key.
func (k Key) String() string { return string(k) }

// KeyOf encodes v. A nil value encodes to NullKey.
func KeyOf(v any) (Key, error) {
	switch x := v.(type) {
	case nil:
		return NullKey, nil
	case Key:
		return x, nil
	case string:
		return Key("s:" + x), nil
	case bool:
		return Key("b:" + strconv.FormatBool(x)), nil
	case int:
		return intKey(int64(x)), nil
	case int8:
		return intKey(int64(x)), nil
	case int16:
		return intKey(int64(x)), nil
	case int32:
		return intKey(int64(x)), nil
	case int64:
		return intKey(x), nil
	case uint:
		return uintKey(uint64(x)), nil
	case uint8:
		return uintKey(uint64(x)), nil
	case uint16:
		return uintKey(uint64(x)), nil
	case uint32:
		return uintKey(uint64(x)), nil
	case uint64:
		return uintKey(x), nil
	case float32:
		return Key("f:" + strconv.FormatFloat(float64(x), 'g', -1, 32)), nil
	case float64:
		return Key("f:" + strconv.FormatFloat(x, 'g', -1, 64)), nil
	case time.Time:
		return Key("t:" + x.UTC().Format(time.RFC3339Nano)), nil
	case []byte:
		return Key("y:" + base64.RawStdEncoding.EncodeToString(x)), nil
	case fmt.Stringer:
		return Key("x:" + x.String()), nil
	default:
		return NullKey, &ConfigError{Msg: fmt.Sprintf("unsupported index value type %T", v)}
	}
}

// MustKeyOf is like KeyOf but panics on unsupported types.
func MustKeyOf(v any) Key {
	k, err := KeyOf(v)
	if err != nil {
		panic(err)
	}
	return k
}

func intKey(v int64) Key {
	return Key("i:" + strconv.FormatInt(v, 10))
}

func uintKey(v uint64) Key {
	return Key("u:" + strconv.FormatUint(v, 10))
}
