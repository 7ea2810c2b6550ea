package vega

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Extra holds the members of a vega-lite object that have no typed field.
// They are written back after the typed members so an edit survives a
// decode and encode round trip.
type Extra map[string]json.RawMessage

var fieldNameCache sync.Map // reflect.Type -> []string

// fieldNames returns the JSON member names of struct type t.
func fieldNames(t reflect.Type) []string {
	if v, ok := fieldNameCache.Load(t); ok {
		return v.([]string)
	}
	var out []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			continue
		case "":
			name = f.Name
		}
		out = append(out, name)
	}
	fieldNameCache.Store(t, out)
	return out
}

// decodeOpen decodes the object b into v, a pointer to a struct without
// custom decoding, and returns the members v has no field for.
func decodeOpen(b []byte, v any) (Extra, error) {
	if err := json.Unmarshal(b, v); err != nil {
		return nil, err
	}
	var all Extra
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, err
	}
	for _, k := range fieldNames(reflect.TypeOf(v).Elem()) {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// encodeOpen marshals v and appends the extra members in key order. Members
// already written by v win.
func encodeOpen(v any, extra Extra) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return b, err
	}
	var have map[string]json.RawMessage
	if err := json.Unmarshal(b, &have); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		if _, ok := have[k]; !ok {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return b, nil
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(b[:len(b)-1])
	sep := len(have) > 0
	for _, k := range keys {
		if sep {
			buf.WriteByte(',')
		}
		sep = true
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
