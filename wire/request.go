/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package wire

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/loomhttp/engine/header"
)

// ErrConnectionClosed is returned by ParseRawRequest when the peer
// closed the connection cleanly before sending any bytes.
var ErrConnectionClosed = errors.New("wire: connection closed")

// BadRequestError is returned for every malformed-request outcome:
// malformed request line, malformed header, conflicting framing, or an
// unsupported version seen before the header block was otherwise
// parseable.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string { return "wire: bad request: " + e.Reason }

func badRequest(format string, args ...any) error {
	return &BadRequestError{Reason: fmt.Sprintf(format, args...)}
}

// UnsupportedVersionError is returned when the request line names a
// protocol version other than HTTP/1.0 or HTTP/1.1.
type UnsupportedVersionError struct {
	Proto string
}

func (e *UnsupportedVersionError) Error() string {
	return "wire: unsupported version: " + e.Proto
}

// RawRequest is the parsed request line, headers and derived framing
// flags. The parser does not consume the body; it remains on the
// stream for the caller.
type RawRequest struct {
	Method   string
	Target   string
	Path     string
	RawQuery string

	Major, Minor int

	Headers *header.List

	// ContentLength is -1 when absent, else a non-negative byte count.
	ContentLength int64

	TransferEncoding []string
	IsChunked        bool
	ExpectsContinue  bool
	CanKeepAlive     bool
}

// ProtoAtLeast reports whether the request's version is >= major.minor.
func (r *RawRequest) ProtoAtLeast(major, minor int) bool {
	return r.Major > major || (r.Major == major && r.Minor >= minor)
}

const maxHeaderLine = 64 << 10

// ParseRawRequest reads one HTTP/1.1 request (request line + headers)
// from lr, which must have been constructed with the header-block size
// limit in effect (default 8 KiB, configurable).
func ParseRawRequest(lr *LineReader) (*RawRequest, error) {
	if _, err := lr.Reader().Peek(1); err != nil {
		if err == io.EOF {
			return nil, ErrConnectionClosed
		}
		return nil, err
	}

	line, err := lr.ReadLine()
	if err != nil {
		return nil, requestLineErr(err)
	}
	method, target, proto, ok := parseRequestLine(line)
	if !ok {
		return nil, badRequest("malformed request line")
	}
	major, minor, ok := parseHTTPVersion(proto)
	if !ok {
		return nil, badRequest("malformed request line: bad version %q", proto)
	}
	if major != 1 || (minor != 0 && minor != 1) {
		return nil, &UnsupportedVersionError{Proto: proto}
	}

	headers := header.New()
	for {
		line, err := lr.ReadLine()
		if err != nil {
			return nil, headerErr(err)
		}
		if len(line) == 0 {
			break
		}
		name, value, ok := splitHeaderLine(line)
		if !ok {
			return nil, badRequest("malformed header line")
		}
		if !header.IsToken(name) {
			return nil, badRequest("invalid header name %q", name)
		}
		if !header.IsValidValue(value) {
			return nil, badRequest("invalid header value for %q", name)
		}
		_ = headers.Add(name, value)
	}

	contentLength, hasCL, err := parseContentLength(headers.GetAll(header.ContentLength))
	if err != nil {
		return nil, err
	}

	var transferEncoding []string
	if te := headers.Get(header.TransferEncoding); te != "" {
		transferEncoding = splitTokenList(te)
	}
	isChunked := len(transferEncoding) > 0 && strings.EqualFold(transferEncoding[len(transferEncoding)-1], header.TokenChunked)

	if hasCL && isChunked {
		return nil, badRequest("conflicting framing: both Content-Length and chunked Transfer-Encoding present")
	}

	headers.Freeze()

	path, rawQuery := splitTarget(target)

	req := &RawRequest{
		Method:           method,
		Target:           target,
		Path:             path,
		RawQuery:         rawQuery,
		Major:            major,
		Minor:            minor,
		Headers:          headers,
		ContentLength:    contentLength,
		TransferEncoding: transferEncoding,
		IsChunked:        isChunked,
		ExpectsContinue:  expectsContinue(headers),
		CanKeepAlive:     canKeepAlive(major, minor, headers),
	}
	return req, nil
}

func requestLineErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return badRequest("connection closed mid request line")
	}
	if err == ErrHeaderTooLarge || err == ErrLineTooLong {
		return ErrHeaderTooLarge
	}
	return err
}

func headerErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return badRequest("connection closed mid headers")
	}
	if err == ErrHeaderTooLarge || err == ErrLineTooLong {
		return ErrHeaderTooLarge
	}
	return err
}

// parseRequestLine splits "METHOD SP TARGET SP HTTP/x.y" strictly: any
// deviation (missing tokens, extra spaces) is rejected.
func parseRequestLine(line []byte) (method, target, proto string, ok bool) {
	s := string(line)
	sp1 := strings.IndexByte(s, ' ')
	if sp1 < 0 {
		return "", "", "", false
	}
	rest := s[sp1+1:]
	sp2 := strings.IndexByte(rest, ' ')
	if sp2 < 0 {
		return "", "", "", false
	}
	method = s[:sp1]
	target = rest[:sp2]
	proto = rest[sp2+1:]
	if method == "" || target == "" || proto == "" {
		return "", "", "", false
	}
	if !header.IsToken(method) {
		return "", "", "", false
	}
	return method, target, proto, true
}

func parseHTTPVersion(proto string) (major, minor int, ok bool) {
	const prefix = "HTTP/"
	if !strings.HasPrefix(proto, prefix) {
		return 0, 0, false
	}
	rest := proto[len(prefix):]
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return 0, 0, false
	}
	maj, err := strconv.Atoi(rest[:dot])
	if err != nil || maj < 0 {
		return 0, 0, false
	}
	min, err := strconv.Atoi(rest[dot+1:])
	if err != nil || min < 0 {
		return 0, 0, false
	}
	return maj, min, true
}

// splitHeaderLine splits "name:OWSvalueOWS" trimming optional
// whitespace around the value only — the name must abut the colon, per
// RFC 7230 §3.2.4 (no whitespace allowed between field-name and colon).
func splitHeaderLine(line []byte) (name, value string, ok bool) {
	s := string(line)
	colon := strings.IndexByte(s, ':')
	if colon <= 0 {
		return "", "", false
	}
	name = s[:colon]
	value = strings.Trim(s[colon+1:], " \t")
	return name, value, true
}

func parseContentLength(values []string) (int64, bool, error) {
	if len(values) == 0 {
		return -1, false, nil
	}
	first := values[0]
	n, err := strconv.ParseInt(first, 10, 64)
	if err != nil || n < 0 {
		return 0, false, badRequest("malformed Content-Length %q", first)
	}
	for _, v := range values[1:] {
		if v != first {
			return 0, false, badRequest("conflicting Content-Length values")
		}
	}
	return n, true, nil
}

func splitTokenList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, " \t")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitTarget(target string) (path, rawQuery string) {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, ""
}

func expectsContinue(h *header.List) bool {
	for _, v := range h.GetAll(header.Expect) {
		for _, tok := range splitTokenList(v) {
			if strings.EqualFold(tok, header.Token100Continue) {
				return true
			}
		}
	}
	return false
}

func canKeepAlive(major, minor int, h *header.List) bool {
	conn := h.Get(header.Connection)
	tokens := splitTokenList(conn)
	hasToken := func(want string) bool {
		for _, t := range tokens {
			if strings.EqualFold(t, want) {
				return true
			}
		}
		return false
	}
	if major == 1 && minor >= 1 {
		return !hasToken(header.TokenClose)
	}
	// HTTP/1.0 and earlier default to close.
	return hasToken(header.TokenKeepAlive)
}
