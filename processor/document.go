package processor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Object is a decoded JSON object that remembers key insertion order.
// Duplicate keys keep their first position and their last value.
type Object struct {
	keys   []string
	values map[string]interface{}
}

func newObject() *Object {
	return &Object{values: make(map[string]interface{})}
}

func (o *Object) set(key string, v interface{}) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (interface{}, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Keys returns the keys in document order.
func (o *Object) Keys() []string {
	return o.keys
}

// Len reports the number of distinct keys.
func (o *Object) Len() int {
	return len(o.keys)
}

// maxDepth matches the nesting limit of the encoding/json scanner.
const maxDepth = 10000

// ErrTooDeep is returned when arrays and objects nest beyond maxDepth.
var ErrTooDeep = errors.New("json nesting too deep")

// ErrNoBrackets is returned by ParseDocument when the text is not JSON and
// holds no '[' ... ']' region to salvage.
var ErrNoBrackets = errors.New("not json and no bracketed region")

// ParseDocument decodes raw file content. When the whole text is not valid
// JSON, the region from the first '[' to the last ']' is tried instead.
// Decoded values are nil, bool, json.Number, string, []interface{} or *Object.
func ParseDocument(data []byte) (interface{}, error) {
	data = cleanText(data)
	v, err := decodeJSON(data)
	if err == nil {
		return v, nil
	}
	start := bytes.IndexByte(data, '[')
	end := bytes.LastIndexByte(data, ']')
	if start < 0 || end < 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoBrackets, err)
	}
	if end < start {
		return nil, fmt.Errorf("salvage failed: ']' precedes '['")
	}
	v, serr := decodeJSON(data[start : end+1])
	if serr != nil {
		return nil, fmt.Errorf("salvage failed: %w", serr)
	}
	return v, nil
}

// cleanText mirrors reading a file as UTF-8 while dropping undecodable bytes.
func cleanText(data []byte) []byte {
	return []byte(strings.ToValidUTF8(string(data), ""))
}

func decodeJSON(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec, 0)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			return nil, errors.New("extra data after json value")
		}
		return nil, err
	}
	return v, nil
}

func decodeValue(dec *json.Decoder, depth int) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		if depth >= maxDepth {
			return nil, ErrTooDeep
		}
		switch t {
		case '{':
			obj := newObject()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("object key is %T", kt)
				}
				val, err := decodeValue(dec, depth+1)
				if err != nil {
					return nil, err
				}
				obj.set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			list := []interface{}{}
			for dec.More() {
				val, err := decodeValue(dec, depth+1)
				if err != nil {
					return nil, err
				}
				list = append(list, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return list, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", t)
		}
	default:
		return t, nil
	}
}

// RecordList finds the list of point records in a decoded document: the
// document itself when it is a list, otherwise the first list-valued field of
// a top-level object in document order. ok is false for any other shape.
func RecordList(doc interface{}) (records []interface{}, ok bool) {
	switch v := doc.(type) {
	case []interface{}:
		return v, true
	case *Object:
		for _, k := range v.keys {
			if list, isList := v.values[k].([]interface{}); isList {
				return list, true
			}
		}
	}
	return nil, false
}

// RecordListByKeys looks up the first of keys holding a list in a top-level
// object. A list document is returned as-is.
func RecordListByKeys(doc interface{}, keys ...string) ([]interface{}, bool) {
	switch v := doc.(type) {
	case []interface{}:
		return v, true
	case *Object:
		for _, k := range keys {
			if list, ok := v.values[k].([]interface{}); ok {
				return list, true
			}
		}
	}
	return nil, false
}
