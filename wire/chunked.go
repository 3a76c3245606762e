/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package wire

import (
	"bufio"
	"errors"
	"io"
	"strconv"

	"github.com/loomhttp/engine/header"
)

// ErrChunkedFraming is returned by ChunkReader when the chunk framing is
// invalid (bad size line, missing CRLF terminator). Framing is
// unrecoverable once lost: the connection must be closed, not merely
// the request failed.
var ErrChunkedFraming = errors.New("wire: chunked framing lost")

const maxChunkLineLen = 4096

// ChunkReader decodes an HTTP/1.1 chunked body: a sequence of
// "size[;ext] CRLF chunk-data CRLF" segments terminated by a zero-size
// chunk, optionally followed by trailer headers and a final CRLFCRLF.
type ChunkReader struct {
	br       *bufio.Reader
	n        uint64 // unread bytes in the current chunk
	started  bool
	err      error
	Trailers *header.List // populated once Read returns io.EOF
}

// NewChunkReader wraps br (the connection's shared buffered reader, with
// headers already consumed) as a chunked body decoder.
func NewChunkReader(br *bufio.Reader) *ChunkReader {
	return &ChunkReader{br: br}
}

func (c *ChunkReader) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	for c.n == 0 {
		if c.started {
			// consume the CRLF that terminates the previous chunk's data
			if err := expectCRLF(c.br); err != nil {
				return 0, c.fail(err)
			}
		}
		size, err := c.readChunkSize()
		if err != nil {
			return 0, c.fail(err)
		}
		c.started = true
		if size == 0 {
			trailers, err := readTrailers(c.br)
			if err != nil {
				return 0, c.fail(err)
			}
			c.Trailers = trailers
			c.err = io.EOF
			return 0, io.EOF
		}
		c.n = size
	}
	if uint64(len(p)) > c.n {
		p = p[:c.n]
	}
	n, err := c.br.Read(p)
	c.n -= uint64(n)
	if err != nil && err != io.EOF {
		return n, c.fail(err)
	}
	return n, nil
}

func (c *ChunkReader) fail(err error) error {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	c.err = ErrChunkedFraming
	return c.err
}

func (c *ChunkReader) readChunkSize() (uint64, error) {
	line, err := c.br.ReadSlice('\n')
	if err != nil {
		return 0, err
	}
	if len(line) > maxChunkLineLen {
		return 0, ErrLineTooLong
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return 0, errors.New("wire: chunk size line missing CRLF terminator")
	}
	line = trimCRLF(line)
	line = stripChunkExtension(line)
	return parseHexUint(line)
}

func stripChunkExtension(line []byte) []byte {
	for i, b := range line {
		if b == ';' {
			return line[:i]
		}
	}
	return line
}

func parseHexUint(v []byte) (uint64, error) {
	if len(v) == 0 {
		return 0, errors.New("wire: empty chunk size")
	}
	var n uint64
	for i, b := range v {
		var d uint64
		switch {
		case '0' <= b && b <= '9':
			d = uint64(b - '0')
		case 'a' <= b && b <= 'f':
			d = uint64(b-'a') + 10
		case 'A' <= b && b <= 'F':
			d = uint64(b-'A') + 10
		default:
			return 0, errors.New("wire: invalid byte in chunk size")
		}
		if i >= 16 {
			return 0, errors.New("wire: chunk size too large")
		}
		n = n<<4 | d
	}
	return n, nil
}

func expectCRLF(br *bufio.Reader) error {
	b1, err := br.ReadByte()
	if err != nil {
		return err
	}
	b2, err := br.ReadByte()
	if err != nil {
		return err
	}
	if b1 != '\r' || b2 != '\n' {
		return errors.New("wire: expected CRLF chunk terminator")
	}
	return nil
}

// readTrailers reads trailer header lines (possibly zero) up to the
// terminating blank line, using the same header-line grammar as the
// request parser.
func readTrailers(br *bufio.Reader) (*header.List, error) {
	lr := &LineReader{br: br}
	trailers := header.New()
	for {
		line, err := lr.ReadLine()
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			break
		}
		name, value, ok := splitHeaderLine(line)
		if !ok || !header.IsToken(name) {
			return nil, errors.New("wire: malformed trailer header")
		}
		_ = trailers.Add(name, value)
	}
	trailers.Freeze()
	return trailers, nil
}

// ChunkWriter encodes a response body as HTTP/1.1 chunked transfer
// encoding. Close must be called explicitly on every exit path: it is
// not implied by a short write or an error.
type ChunkWriter struct {
	w io.Writer
	closed bool
}

// NewChunkWriter wraps w (typically the connection's buffered writer).
func NewChunkWriter(w io.Writer) *ChunkWriter {
	return &ChunkWriter{w: w}
}

// Write encodes a single non-empty chunk. Empty writes are a no-op.
func (c *ChunkWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := io.WriteString(c.w, strconv.FormatInt(int64(len(p)), 16)+"\r\n"); err != nil {
		return 0, err
	}
	n, err := c.w.Write(p)
	if err != nil {
		return n, err
	}
	if _, err := io.WriteString(c.w, "\r\n"); err != nil {
		return n, err
	}
	return n, nil
}

// Close writes the terminating zero-size chunk and the final blank line,
// with no trailers (see CloseWithTrailers).
func (c *ChunkWriter) Close() error {
	return c.CloseWithTrailers(nil)
}

// CloseWithTrailers is like Close but writes trailer headers between the
// zero chunk and the final blank line.
func (c *ChunkWriter) CloseWithTrailers(trailers *header.List) error {
	if c.closed {
		return nil
	}
	c.closed = true
	if _, err := io.WriteString(c.w, "0\r\n"); err != nil {
		return err
	}
	if trailers != nil {
		if _, err := trailers.WriteTo(c.w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(c.w, "\r\n")
	return err
}
