// Package wire adapts raw feed payloads into records addressable by field name.
package wire

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind tags the shape of a Frame.
type Kind uint8

const (
	KindNamed Kind = iota + 1
	KindPositional
)

func (k Kind) String() string {
	switch k {
	case KindNamed:
		return "named"
	case KindPositional:
		return "positional"
	default:
		return "unknown"
	}
}

// FieldOrder is the fixed layout of positional frames.
var FieldOrder = [...]string{
	"id", "timestamp", "stockId", "symbol", "option", "price", "quantity", "type",
	"strike", "expiration", "iv", "delta", "gamma", "theta", "vega", "rho",
}

// Frame is either a Named map or a Positional list of values.
type Frame struct {
	kind       Kind
	named      map[string]any
	positional []any
}

// Named wraps an object-keyed payload.
func Named(fields map[string]any) Frame {
	return Frame{kind: KindNamed, named: fields}
}

// Positional wraps an ordered payload laid out as FieldOrder.
func Positional(values []any) Frame {
	return Frame{kind: KindPositional, positional: values}
}

func (f Frame) Kind() Kind { return f.kind }

// Record is the untyped intermediate form produced by Decode.
type Record map[string]any

// Get returns the value stored under the exact key.
func (r Record) Get(name string) (any, bool) {
	v, ok := r[name]
	return v, ok
}

// Lookup accepts either the lower-camel key or its Capitalized form. Keys
// that differ only in case ("Iv", "STOCKID") match as a last resort.
func (r Record) Lookup(name string) (any, bool) {
	if v, ok := r[name]; ok {
		return v, true
	}
	if v, ok := r[Capitalize(name)]; ok {
		return v, true
	}
	if v, ok := r[lowerFirst(name)]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// Decode maps a frame onto a Record. Short positional frames simply leave the
// trailing fields absent; extra positions are ignored.
func Decode(f Frame) Record {
	switch f.kind {
	case KindNamed:
		rec := make(Record, len(f.named))
		for k, v := range f.named {
			rec[k] = v
		}
		return rec
	case KindPositional:
		rec := make(Record, len(FieldOrder))
		for i, name := range FieldOrder {
			if i >= len(f.positional) {
				break
			}
			rec[name] = f.positional[i]
		}
		return rec
	default:
		return Record{}
	}
}

// acronyms are fields whose Capitalized form is fully upper-cased.
var acronyms = map[string]string{
	"iv": "IV",
}

// Capitalize upper-cases the first rune of a key, or the whole key for
// acronym fields such as iv.
func Capitalize(s string) string {
	if a, ok := acronyms[s]; ok {
		return a
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsLower(r) {
		return s
	}
	return strings.ToLower(string(r)) + s[size:]
}
