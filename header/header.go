/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package header implements the ordered, case-insensitive header
// multi-map used for both requests and responses. Unlike the stdlib
// net/http Header (a map[string][]string, which loses insertion order),
// entries here are kept in a slice so that wire serialization reproduces
// the order headers were added in.
package header

import (
	"io"
	"strings"
)

// Field is a single (name, value) header entry as it will appear on
// the wire. Name is stored in its original case; comparisons against
// it are always case-insensitive ASCII comparisons.
type Field struct {
	Name  string
	Value string
}

// List is an ordered, case-insensitive multi-map of header fields.
// The zero value is an empty, mutable list.
type List struct {
	fields   []Field
	readonly bool
}

// ErrReadOnly is returned by mutating operations on a List that has
// been marked read-only, the mode headers exposed on parsed requests
// are kept in.
var ErrReadOnly = errReadOnly{}

type errReadOnly struct{}

func (errReadOnly) Error() string { return "header: list is read-only" }

// New returns an empty, mutable header list.
func New() *List {
	return &List{}
}

// Freeze marks the list read-only. Used by the parser once a RawRequest's
// headers have been populated, so handlers cannot mutate request headers
// in place.
func (l *List) Freeze() {
	l.readonly = true
}

// ReadOnly reports whether the list rejects mutation.
func (l *List) ReadOnly() bool {
	return l.readonly
}

// equalFold reports whether a and b are equal under ASCII case-folding,
// without the allocations strings.ToLower would incur. Bytes outside
// A-Z/a-z must match exactly.
func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Add appends a (name, value) pair, preserving any existing entries with
// the same name.
func (l *List) Add(name, value string) error {
	if l.readonly {
		return ErrReadOnly
	}
	l.fields = append(l.fields, Field{Name: name, Value: value})
	return nil
}

// Set removes all existing entries whose name matches (case-insensitive)
// then appends a single new entry.
func (l *List) Set(name, value string) error {
	if l.readonly {
		return ErrReadOnly
	}
	l.removeLocked(name)
	l.fields = append(l.fields, Field{Name: name, Value: value})
	return nil
}

// Get returns the first value associated with name, or "" if absent.
func (l *List) Get(name string) string {
	for _, f := range l.fields {
		if equalFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// GetAll returns every value associated with name, in original order.
func (l *List) GetAll(name string) []string {
	var out []string
	for _, f := range l.fields {
		if equalFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Contains reports whether at least one entry matches name.
func (l *List) Contains(name string) bool {
	for _, f := range l.fields {
		if equalFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Remove deletes every entry matching name and reports whether any were
// removed.
func (l *List) Remove(name string) (bool, error) {
	if l.readonly {
		return false, ErrReadOnly
	}
	return l.removeLocked(name), nil
}

func (l *List) removeLocked(name string) bool {
	removed := false
	out := l.fields[:0]
	for _, f := range l.fields {
		if equalFold(f.Name, name) {
			removed = true
			continue
		}
		out = append(out, f)
	}
	l.fields = out
	return removed
}

// All returns the fields in insertion order. Callers must not mutate the
// returned slice.
func (l *List) All() []Field {
	return l.fields
}

// Len returns the number of fields (counting repeated names separately).
func (l *List) Len() int {
	return len(l.fields)
}

// Clone returns a deep, mutable copy.
func (l *List) Clone() *List {
	c := &List{fields: make([]Field, len(l.fields))}
	copy(c.fields, l.fields)
	return c
}

// WriteTo serializes the list in wire format: "Name: Value\r\n" per
// entry, in insertion order. It does not write the terminating blank
// line; callers append that once after all headers.
func (l *List) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, f := range l.fields {
		v := sanitizeValue(f.Value)
		for _, s := range [...]string{f.Name, ": ", v, "\r\n"} {
			written, err := io.WriteString(w, s)
			n += int64(written)
			if err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// sanitizeValue strips CR/LF from a header value (defence against
// response-splitting) and trims surrounding optional whitespace (OWS),
// matching the parser's own trimming rule in wire.ParseRawRequest.
func sanitizeValue(v string) string {
	v = strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
	return strings.Trim(v, " \t")
}

// IsToken reports whether s is a valid HTTP header-name token per
// RFC 7230 §3.2.6.
func IsToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isTokenByte(s[i]) {
			return false
		}
	}
	return true
}

// isTokenByte is a copy of net/http/lex.go's isTokenTable collapsed into
// a range check plus a special-character set, as used by the teacher's
// hdr package to validate header field names.
func isTokenByte(b byte) bool {
	switch {
	case b >= '0' && b <= '9', b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z':
		return true
	}
	switch b {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

// IsValidValue reports whether v contains no control characters other
// than horizontal tab, disallowing bare CR/LF that would allow header
// injection.
func IsValidValue(v string) bool {
	for i := 0; i < len(v); i++ {
		b := v[i]
		if b == '\t' {
			continue
		}
		if b < 0x20 || b == 0x7f {
			return false
		}
	}
	return true
}
