package stattree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
)

var (
	compactJSON = jsoniter.Config{EscapeHTML: true}.Froze()
	prettyJSON  = jsoniter.Config{EscapeHTML: true, IndentionStep: 2}.Froze()
)

// WriteJSON renders t as a JSON object. Collapsed subtrees are omitted,
// producers are invoked once and non-finite numbers are written as null.
func WriteJSON(w io.Writer, t *Tree, pretty bool) error {
	cfg := compactJSON
	if pretty {
		cfg = prettyJSON
	}
	stream := jsoniter.NewStream(cfg, w, 4096)
	writeTree(stream, t)
	if pretty {
		stream.WriteRaw("\n")
	}
	if stream.Error != nil {
		return fmt.Errorf("render stats: %w", stream.Error)
	}
	if err := stream.Flush(); err != nil {
		return fmt.Errorf("render stats: %w", err)
	}
	return nil
}

// MarshalJSON renders the tree compactly.
func (t *Tree) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, t, false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeTree(stream *jsoniter.Stream, t *Tree) {
	first := true
	t.Range(func(key string, v any) bool {
		v = Evaluate(v)
		if sub, ok := v.(*Tree); ok && sub.Collapsed() {
			return true
		}
		if first {
			stream.WriteObjectStart()
			first = false
		} else {
			stream.WriteMore()
		}
		stream.WriteObjectField(key)
		writeValue(stream, v)
		return true
	})
	if first {
		stream.WriteEmptyObject()
		return
	}
	stream.WriteObjectEnd()
}

func writeValue(stream *jsoniter.Stream, v any) {
	switch x := Evaluate(v).(type) {
	case nil:
		stream.WriteNil()
	case *Tree:
		writeTree(stream, x)
	case []any:
		if len(x) == 0 {
			stream.WriteEmptyArray()
			return
		}
		stream.WriteArrayStart()
		for i, e := range x {
			if i > 0 {
				stream.WriteMore()
			}
			writeValue(stream, e)
		}
		stream.WriteArrayEnd()
	case string:
		stream.WriteString(x)
	case bool:
		stream.WriteBool(x)
	case float64:
		writeFloat(stream, x)
	case float32:
		writeFloat(stream, float64(x))
	case int64:
		stream.WriteInt64(x)
	case int:
		stream.WriteInt(x)
	default:
		if n, ok := toInt64(x); ok {
			stream.WriteInt64(n)
			return
		}
		stream.WriteVal(x)
	}
}

func writeFloat(stream *jsoniter.Stream, f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		stream.WriteNil()
		return
	}
	stream.WriteFloat64(f)
}

// ParseJSON reads a JSON object into a tree, keeping key order. Integral
// numbers decode as int64, others as float64.
func ParseJSON(r io.Reader) (*Tree, error) {
	iter := jsoniter.Parse(compactJSON, r, 4096)
	if iter.WhatIsNext() != jsoniter.ObjectValue {
		return nil, fmt.Errorf("parse stats: expected a JSON object")
	}
	t := readTree(iter)
	if iter.Error != nil && iter.Error != io.EOF {
		return nil, fmt.Errorf("parse stats: %w", iter.Error)
	}
	return t, nil
}

func readTree(iter *jsoniter.Iterator) *Tree {
	t := NewTree()
	iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		t.Set(key, readValue(it))
		return it.Error == nil
	})
	return t
}

func readValue(iter *jsoniter.Iterator) any {
	switch iter.WhatIsNext() {
	case jsoniter.ObjectValue:
		return readTree(iter)
	case jsoniter.ArrayValue:
		values := []any{}
		iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
			values = append(values, readValue(it))
			return it.Error == nil
		})
		return values
	case jsoniter.NumberValue:
		return parseNumber(iter.ReadNumber())
	case jsoniter.StringValue:
		return iter.ReadString()
	case jsoniter.BoolValue:
		return iter.ReadBool()
	case jsoniter.NilValue:
		iter.ReadNil()
		return nil
	default:
		iter.ReportError("parse stats", "unexpected token")
		return nil
	}
}

func parseNumber(n json.Number) any {
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return i
	}
	f, _ := strconv.ParseFloat(string(n), 64)
	return f
}

// DumpJSON writes the whole tree plus a "last-updated" unix timestamp to
// filename. The file is replaced atomically.
func (r *Registry) DumpJSON(fs afero.Fs, filename string) error {
	t, _ := r.Snapshot("")
	t.Set("last-updated", r.clock.Now().Unix())

	dir := filepath.Dir(filename)
	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(filename)+".*")
	if err != nil {
		return fmt.Errorf("dump stats: %w", err)
	}
	if err := WriteJSON(tmp, t, false); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmp.Name())
		return fmt.Errorf("dump stats: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmp.Name())
		return fmt.Errorf("dump stats: %w", err)
	}
	if err := fs.Rename(tmp.Name(), filename); err != nil {
		_ = fs.Remove(tmp.Name())
		return fmt.Errorf("dump stats: %w", err)
	}
	return nil
}
