// Package json loads JSON record files.
//
// Accepted layouts:
//   - a root array of objects
//   - an envelope object whose first array field holds the records
//   - a single object, which becomes one record
//   - any of the above followed by newline-delimited objects
//
// Column order is the order in which keys are first seen. The header_map
// option renames keys, and array_join_separator (default ",") flattens
// arrays of strings into one cell.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"bifrost/internal/config"
	"bifrost/internal/frame"
	"bifrost/internal/source"
)

func init() {
	source.Register("json", load)
}

func load(ctx context.Context, spec source.Spec) (*frame.Frame, error) {
	rc, err := source.Open(ctx, spec.Path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return Read(ctx, rc, spec.Options)
}

// collector accumulates records and remembers key order.
type collector struct {
	ctx   context.Context
	hm    map[string]string
	sep   string
	names []string
	seen  map[string]bool
	recs  []map[string]any
}

func (c *collector) add(keys []string, obj map[string]any) error {
	rec := make(map[string]any, len(keys))
	for _, k := range keys {
		name := k
		if mapped, ok := c.hm[k]; ok {
			name = mapped
		}
		if !c.seen[name] {
			c.seen[name] = true
			c.names = append(c.names, name)
		}
		rec[name] = flatten(obj[k], c.sep)
	}
	c.recs = append(c.recs, rec)
	if len(c.recs)%1024 == 0 {
		return c.ctx.Err()
	}
	return nil
}

// Read decodes r into a frame.
func Read(ctx context.Context, r io.Reader, opt config.Options) (*frame.Frame, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	sep := strings.TrimSpace(opt.String("array_join_separator", ","))
	if sep == "" {
		sep = ","
	}
	c := &collector{ctx: ctx, hm: opt.StringMap("header_map"), sep: sep, seen: map[string]bool{}}

	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return frame.New()
	}
	if err != nil {
		return nil, fmt.Errorf("json: read first token: %w", err)
	}

	switch tok {
	case json.Delim('['):
		if err := readArray(dec, c); err != nil {
			return nil, err
		}
	case json.Delim('{'):
		if err := readEnvelopeOrSingle(dec, c); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("json: unsupported root token %v (want object or array)", tok)
	}

	if err := readTrailing(dec, c); err != nil {
		return nil, err
	}
	return source.FromRecords(c.names, c.recs)
}

// readArray consumes array elements and the closing ']' after '[' was read.
// null elements are skipped.
func readArray(dec *json.Decoder, c *collector) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: record %d: %w", len(c.recs)+1, err)
		}
		if tok == nil {
			continue
		}
		if tok != json.Delim('{') {
			return fmt.Errorf("json: record %d: element is not an object (got %v)", len(c.recs)+1, tok)
		}
		keys, obj, err := readObject(dec)
		if err != nil {
			return fmt.Errorf("json: record %d: %w", len(c.recs)+1, err)
		}
		if err := c.add(keys, obj); err != nil {
			return err
		}
	}
	return expect(dec, json.Delim(']'))
}

// readEnvelopeOrSingle walks a root object after '{'. The first field holding
// a non-empty array of objects is the record list and the remaining fields
// are skipped. Without one, the object itself is the only record.
func readEnvelopeOrSingle(dec *json.Decoder, c *collector) error {
	var keys []string
	obj := map[string]any{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: read key: %w", err)
		}
		key, _ := kt.(string)
		vt, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: read value of %q: %w", key, err)
		}
		if vt != json.Delim('[') {
			v, err := materialize(dec, vt)
			if err != nil {
				return err
			}
			keys = append(keys, key)
			obj[key] = v
			continue
		}

		v, recs, err := readMaybeRecords(dec)
		if err != nil {
			return fmt.Errorf("json: field %q: %w", key, err)
		}
		if recs == nil {
			keys = append(keys, key)
			obj[key] = v
			continue
		}
		for _, r := range recs {
			if err := c.add(r.keys, r.obj); err != nil {
				return err
			}
		}
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return fmt.Errorf("json: skip key: %w", err)
			}
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return fmt.Errorf("json: skip value: %w", err)
			}
		}
		return expect(dec, json.Delim('}'))
	}
	if err := expect(dec, json.Delim('}')); err != nil {
		return err
	}
	return c.add(keys, obj)
}

type ordered struct {
	keys []string
	obj  map[string]any
}

// readMaybeRecords reads an array after '['. When every element is an object
// (nulls aside) and there is at least one, the objects are returned as
// records; otherwise the plain array value is.
func readMaybeRecords(dec *json.Decoder) (any, []ordered, error) {
	var (
		arr     = []any{}
		recs    []ordered
		objects = true
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		if tok == json.Delim('{') {
			keys, obj, err := readObject(dec)
			if err != nil {
				return nil, nil, err
			}
			recs = append(recs, ordered{keys, obj})
			arr = append(arr, obj)
			continue
		}
		if tok != nil {
			objects = false
		}
		v, err := materialize(dec, tok)
		if err != nil {
			return nil, nil, err
		}
		arr = append(arr, v)
	}
	if err := expect(dec, json.Delim(']')); err != nil {
		return nil, nil, err
	}
	if !objects || len(recs) == 0 {
		return arr, nil, nil
	}
	return nil, recs, nil
}

func readTrailing(dec *json.Decoder, c *collector) error {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("json: trailing record %d: %w", len(c.recs)+1, err)
		}
		if tok != json.Delim('{') {
			return fmt.Errorf("json: trailing record %d: not an object (got %v)", len(c.recs)+1, tok)
		}
		keys, obj, err := readObject(dec)
		if err != nil {
			return fmt.Errorf("json: trailing record %d: %w", len(c.recs)+1, err)
		}
		if err := c.add(keys, obj); err != nil {
			return err
		}
	}
}

// readObject reads the members of an object whose '{' was consumed,
// keeping key order.
func readObject(dec *json.Decoder) ([]string, map[string]any, error) {
	var keys []string
	obj := map[string]any{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("read key: %w", err)
		}
		k, ok := kt.(string)
		if !ok {
			return nil, nil, fmt.Errorf("key is not a string (got %T)", kt)
		}
		vt, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("read value of %q: %w", k, err)
		}
		v, err := materialize(dec, vt)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := obj[k]; !dup {
			keys = append(keys, k)
		}
		obj[k] = v
	}
	if err := expect(dec, json.Delim('}')); err != nil {
		return nil, nil, err
	}
	return keys, obj, nil
}

// materialize builds the value whose first token is tok.
func materialize(dec *json.Decoder, tok json.Token) (any, error) {
	switch tok {
	case json.Delim('{'):
		_, m, err := readObject(dec)
		return m, err
	case json.Delim('['):
		arr := []any{}
		for dec.More() {
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("read array element: %w", err)
			}
			v, err := materialize(dec, vt)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, expect(dec, json.Delim(']'))
	}
	return tok, nil
}

func expect(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read %q: %w", want, err)
	}
	if tok != want {
		return fmt.Errorf("json: expected %q, got %v", want, tok)
	}
	return nil
}

// flatten joins arrays of strings with sep. Mixed arrays and objects are
// left for the frame builder to render as JSON text.
func flatten(v any, sep string) any {
	arr, ok := v.([]any)
	if !ok {
		return v
	}
	ss := make([]string, 0, len(arr))
	for _, it := range arr {
		if it == nil {
			continue
		}
		s, ok := it.(string)
		if !ok {
			return v
		}
		ss = append(ss, s)
	}
	return strings.Join(ss, sep)
}
