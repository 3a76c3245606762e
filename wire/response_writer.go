/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package wire

import (
	"fmt"
	"io"
	"time"

	"github.com/loomhttp/engine/header"
)

// TimeFormat is the RFC 1123 format (GMT) used for the Date header, the
// same constant the teacher's hdr package defines for the same purpose.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// ResponseWriter serializes status lines, headers and the 100-continue
// interim response onto an underlying stream.
type ResponseWriter struct {
	w                  io.Writer
	wasExpectationSent bool
	headersSent        bool
}

// NewResponseWriter wraps w (typically the connection's buffered
// writer).
func NewResponseWriter(w io.Writer) *ResponseWriter {
	return &ResponseWriter{w: w}
}

// Writer returns the underlying stream, for callers that write the body
// directly after the headers have gone out.
func (rw *ResponseWriter) Writer() io.Writer {
	return rw.w
}

// HeadersSent reports whether WriteHeader has already been called once.
func (rw *ResponseWriter) HeadersSent() bool {
	return rw.headersSent
}

// WriteContinue writes "HTTP/1.1 100 Continue\r\n\r\n" exactly once per
// request, guarded by wasExpectationSent: "Expect: 100-continue" causes
// the interim response to be written only on the first body read.
func (rw *ResponseWriter) WriteContinue() error {
	if rw.wasExpectationSent {
		return nil
	}
	rw.wasExpectationSent = true
	_, err := io.WriteString(rw.w, "HTTP/1.1 100 Continue\r\n\r\n")
	return err
}

// WriteHeader writes the status line followed by headers in insertion
// order and the terminating blank line. It may be called at most once;
// subsequent calls are no-ops, matching the "headers_sent" monotonic
// invariant.
func (rw *ResponseWriter) WriteHeader(proto11 bool, code int, phrase string, h *header.List) error {
	if rw.headersSent {
		return nil
	}
	rw.headersSent = true
	if err := writeStatusLine(rw.w, proto11, code, phrase); err != nil {
		return err
	}
	if _, err := h.WriteTo(rw.w); err != nil {
		return err
	}
	_, err := io.WriteString(rw.w, "\r\n")
	return err
}

func writeStatusLine(w io.Writer, proto11 bool, code int, phrase string) error {
	proto := "HTTP/1.0"
	if proto11 {
		proto = "HTTP/1.1"
	}
	if phrase == "" {
		phrase = StatusText(code)
	}
	_, err := fmt.Fprintf(w, "%s %03d %s\r\n", proto, code, phrase)
	return err
}

// ApplyDefaultHeaders adds Date and Server headers unless already
// present.
func ApplyDefaultHeaders(h *header.List, banner string, now time.Time) {
	if !h.Contains(header.Date) {
		_ = h.Set(header.Date, now.UTC().Format(TimeFormat))
	}
	if banner != "" && !h.Contains(header.Server) {
		_ = h.Set(header.Server, banner)
	}
}

// CannedResponse produces a minimal, complete response (status line, a
// small set of headers, and a text body) for paths that must reply
// without going through the full ResponseBuilder/router — the
// handshake-failure and bad-request error paths.
func CannedResponse(code int, phrase, body string) []byte {
	if phrase == "" {
		phrase = StatusText(code)
	}
	h := header.New()
	_ = h.Set(header.ContentType, "text/plain; charset=utf-8")
	_ = h.Set(header.ContentLength, fmt.Sprintf("%d", len(body)))
	_ = h.Set(header.Connection, header.TokenClose)
	ApplyDefaultHeaders(h, "", time.Now())

	var buf []byte
	buf = append(buf, []byte(fmt.Sprintf("HTTP/1.1 %03d %s\r\n", code, phrase))...)
	hb := &byteSliceWriter{buf: &buf}
	_, _ = h.WriteTo(hb)
	buf = append(buf, "\r\n"...)
	buf = append(buf, body...)
	return buf
}

type byteSliceWriter struct {
	buf *[]byte
}

func (w *byteSliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
