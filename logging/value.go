package logging

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
	"github.com/valyala/fastjson"
)

// MaxDepth bounds every recursive walk over payload data: conversion,
// parsing and redaction.
const MaxDepth = 32

// MaxNodes bounds how many values one ValueOf call converts. Shared
// sub-structures are converted each time they are reached, so depth alone
// does not bound the work.
const MaxNodes = 10000

const (
	truncatedPlaceholder      = "[truncated]"
	unserializablePlaceholder = "[unserializable]"
	circularPlaceholder       = "[circular]"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is an immutable JSON-compatible datum. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

func Null() Value { return Value{} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

func String(s string) Value { return Value{kind: KindString, s: s} }

func Array(items ...Value) Value {
	return Value{kind: KindArray, arr: append(make([]Value, 0, len(items)), items...)}
}

func Object(fields map[string]Value) Value {
	obj := make(map[string]Value, len(fields))
	for k, v := range fields {
		obj[k] = v
	}
	return Value{kind: KindObject, obj: obj}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Bool() bool { return v.b }

func (v Value) Float() float64 { return v.n }

func (v Value) Text() string { return v.s }

func (v Value) Len() int { return len(v.arr) + len(v.obj) }

func (v Value) Index(i int) Value { return v.arr[i] }

func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return append([]Value(nil), v.arr...)
}

func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	field, ok := v.obj[key]
	return field, ok
}

// Keys returns the object's keys in sorted order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// With returns a copy of the object with key set. A non-object receiver
// is replaced by a fresh object holding only key.
func (v Value) With(key string, field Value) Value {
	obj := make(map[string]Value, len(v.obj)+1)
	if v.kind == KindObject {
		for k, existing := range v.obj {
			obj[k] = existing
		}
	}
	obj[key] = field
	return Value{kind: KindObject, obj: obj}
}

// Interface converts v into plain Go data: nil, bool, float64, string,
// []any and map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, field := range v.obj {
			out[k] = field.Interface()
		}
		return out
	default:
		return nil
	}
}

func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return unserializablePlaceholder
	}
	return string(data)
}

func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.appendJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) appendJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			buf.WriteString("null")
			return nil
		}
		buf.WriteString(strconv.FormatFloat(v.n, 'f', -1, 64))
	case KindString:
		quoted, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(quoted)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.appendJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			quoted, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(quoted)
			buf.WriteByte(':')
			if err := v.obj[k].appendJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown value kind %d", v.kind)
	}
	return nil
}

var parserPool fastjson.ParserPool

// ParseValue decodes JSON text into a Value.
func ParseValue(data []byte) (Value, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	parsed, err := p.ParseBytes(data)
	if err != nil {
		return Value{}, fmt.Errorf("parse value: %w", err)
	}
	return fromFastJSON(parsed, 0), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func fromFastJSON(fv *fastjson.Value, depth int) Value {
	if depth > MaxDepth {
		return String(truncatedPlaceholder)
	}
	switch fv.Type() {
	case fastjson.TypeTrue:
		return Bool(true)
	case fastjson.TypeFalse:
		return Bool(false)
	case fastjson.TypeNumber:
		return Number(fv.GetFloat64())
	case fastjson.TypeString:
		return String(string(fv.GetStringBytes()))
	case fastjson.TypeArray:
		items := fv.GetArray()
		arr := make([]Value, 0, len(items))
		for _, item := range items {
			arr = append(arr, fromFastJSON(item, depth+1))
		}
		return Value{kind: KindArray, arr: arr}
	case fastjson.TypeObject:
		obj := make(map[string]Value)
		fv.GetObject().Visit(func(key []byte, field *fastjson.Value) {
			obj[string(key)] = fromFastJSON(field, depth+1)
		})
		return Value{kind: KindObject, obj: obj}
	default:
		return Null()
	}
}

func (v Value) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(v.cborData())
}

func (v Value) cborData() any {
	switch v.kind {
	case KindNumber:
		if v.n == math.Trunc(v.n) && math.Abs(v.n) < 1<<53 {
			return int64(v.n)
		}
		return v.n
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.cborData()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, field := range v.obj {
			out[k] = field.cborData()
		}
		return out
	default:
		return v.Interface()
	}
}

var cborDecMode, _ = cbor.DecOptions{
	DefaultMapType: reflect.TypeOf(map[string]any(nil)),
}.DecMode()

func (v *Value) UnmarshalCBOR(data []byte) error {
	var raw any
	if err := cborDecMode.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	*v = ValueOf(raw)
	return nil
}

// ValueOf converts arbitrary Go data into a Value. It never fails:
// data that cannot be represented becomes a placeholder string, a map,
// slice or pointer that contains itself becomes "[circular]", and
// nesting beyond MaxDepth or data beyond MaxNodes is truncated.
func ValueOf(in any) Value {
	c := converter{path: map[refKey]struct{}{}}
	return c.value(in, 0)
}

// refKey identifies a reference value on the current conversion path.
type refKey struct {
	typ reflect.Type
	ptr uintptr
	len int
}

type converter struct {
	path  map[refKey]struct{}
	nodes int
}

func (c *converter) value(in any, depth int) Value {
	c.nodes++
	if depth > MaxDepth || c.nodes > MaxNodes {
		return String(truncatedPlaceholder)
	}

	switch x := in.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case *Value:
		if x == nil {
			return Null()
		}
		return *x
	case bool:
		return Bool(x)
	case string:
		return String(x)
	case int:
		return Number(float64(x))
	case int8:
		return Number(float64(x))
	case int16:
		return Number(float64(x))
	case int32:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case uint:
		return Number(float64(x))
	case uint8:
		return Number(float64(x))
	case uint16:
		return Number(float64(x))
	case uint32:
		return Number(float64(x))
	case uint64:
		return Number(float64(x))
	case float32:
		return Number(float64(x))
	case float64:
		return Number(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return String(x.String())
		}
		return Number(f)
	case time.Time:
		return String(x.UTC().Format(time.RFC3339Nano))
	case time.Duration:
		return String(x.String())
	case []byte:
		if utf8.Valid(x) {
			return String(string(x))
		}
		return String(base64.StdEncoding.EncodeToString(x))
	case json.Marshaler:
		return viaJSON(x)
	case error:
		return String(x.Error())
	case fmt.Stringer:
		return String(x.String())
	}

	return c.reflected(reflect.ValueOf(in), depth)
}

// enter marks rv as being converted. It reports false when rv is
// already on the path, which means the data refers back to itself.
func (c *converter) enter(rv reflect.Value) (refKey, bool) {
	key := refKey{typ: rv.Type(), ptr: rv.Pointer()}
	if rv.Kind() == reflect.Slice {
		key.len = rv.Len()
	}
	if _, seen := c.path[key]; seen {
		return key, false
	}
	c.path[key] = struct{}{}
	return key, true
}

func (c *converter) reflected(rv reflect.Value, depth int) Value {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null()
		}
		if rv.Kind() == reflect.Pointer {
			key, ok := c.enter(rv)
			if !ok {
				return String(circularPlaceholder)
			}
			defer delete(c.path, key)
		}
		return c.value(rv.Elem().Interface(), depth+1)
	case reflect.Map:
		if rv.IsNil() {
			return Null()
		}
		key, ok := c.enter(rv)
		if !ok {
			return String(circularPlaceholder)
		}
		defer delete(c.path, key)

		obj := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			obj[fmt.Sprint(iter.Key().Interface())] = c.value(iter.Value().Interface(), depth+1)
		}
		return Value{kind: KindObject, obj: obj}
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice {
			if rv.IsNil() {
				return Null()
			}
			key, ok := c.enter(rv)
			if !ok {
				return String(circularPlaceholder)
			}
			defer delete(c.path, key)
		}
		arr := make([]Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			arr = append(arr, c.value(rv.Index(i).Interface(), depth+1))
		}
		return Value{kind: KindArray, arr: arr}
	case reflect.Bool:
		return Bool(rv.Bool())
	case reflect.String:
		return String(rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Number(float64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float())
	case reflect.Struct:
		return viaJSON(rv.Interface())
	default:
		return String(unserializablePlaceholder)
	}
}

func viaJSON(in any) Value {
	data, err := json.Marshal(in)
	if err != nil {
		return String(unserializablePlaceholder)
	}
	parsed, err := ParseValue(data)
	if err != nil {
		return String(unserializablePlaceholder)
	}
	return parsed
}
