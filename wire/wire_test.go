package wire_test

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhttp/engine/header"
	"github.com/loomhttp/engine/wire"
)

func TestParseSimpleGET(t *testing.T) {
	raw := "GET /hello?x=1 HTTP/1.1\r\nHost: example.com\r\n\r\n"
	lr := wire.NewLineReader(strings.NewReader(raw), 8192)

	req, err := wire.ParseRawRequest(lr)
	require.NoError(t, err)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/hello", req.Path)
	assert.Equal(t, "x=1", req.RawQuery)
	assert.Equal(t, 1, req.Major)
	assert.Equal(t, 1, req.Minor)
	assert.Equal(t, "example.com", req.Headers.Get("Host"))
	assert.Equal(t, int64(-1), req.ContentLength)
	assert.True(t, req.CanKeepAlive)
}

func TestParseConnectionClosedCleanly(t *testing.T) {
	lr := wire.NewLineReader(strings.NewReader(""), 8192)
	_, err := wire.ParseRawRequest(lr)
	assert.ErrorIs(t, err, wire.ErrConnectionClosed)
}

func TestParseMalformedRequestLine(t *testing.T) {
	lr := wire.NewLineReader(strings.NewReader("GET\r\n\r\n"), 8192)
	_, err := wire.ParseRawRequest(lr)
	var badReq *wire.BadRequestError
	assert.ErrorAs(t, err, &badReq)
}

func TestParseConflictingContentLength(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\n"
	lr := wire.NewLineReader(strings.NewReader(raw), 8192)
	_, err := wire.ParseRawRequest(lr)
	var badReq *wire.BadRequestError
	assert.ErrorAs(t, err, &badReq)
}

func TestParseConflictingFraming(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\nhello"
	lr := wire.NewLineReader(strings.NewReader(raw), 8192)
	_, err := wire.ParseRawRequest(lr)
	var badReq *wire.BadRequestError
	assert.ErrorAs(t, err, &badReq)
}

func TestHeaderBlockBoundary(t *testing.T) {
	// Exactly 8192 bytes of header block succeeds; one more fails.
	base := "GET / HTTP/1.1\r\nHost: x\r\n"
	padName := "X-Pad"
	for size, wantErr := range map[int]bool{8192: false, 8193: true} {
		remaining := size - len(base) - len("\r\n")
		padValueLen := remaining - len(padName) - len(": \r\n")
		require.True(t, padValueLen > 0)
		raw := base + padName + ": " + strings.Repeat("a", padValueLen) + "\r\n\r\n"
		require.Equal(t, size, len(raw))

		lr := wire.NewLineReader(strings.NewReader(raw), 8192)
		_, err := wire.ParseRawRequest(lr)
		if wantErr {
			assert.Error(t, err, "size=%d", size)
		} else {
			assert.NoError(t, err, "size=%d", size)
		}
	}
}

func TestExpectsContinueFlag(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: x\r\nExpect: 100-continue\r\nContent-Length: 2\r\n\r\n"
	lr := wire.NewLineReader(strings.NewReader(raw), 8192)
	req, err := wire.ParseRawRequest(lr)
	require.NoError(t, err)
	assert.True(t, req.ExpectsContinue)
}

func TestHTTP10DefaultsToClose(t *testing.T) {
	raw := "GET / HTTP/1.0\r\nHost: x\r\n\r\n"
	lr := wire.NewLineReader(strings.NewReader(raw), 8192)
	req, err := wire.ParseRawRequest(lr)
	require.NoError(t, err)
	assert.False(t, req.CanKeepAlive)
}

func TestChunkedEncodeDecodeIdentity(t *testing.T) {
	var buf bytes.Buffer
	cw := wire.NewChunkWriter(&buf)
	_, err := cw.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = cw.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, cw.Close())

	cr := wire.NewChunkReader(bufio.NewReader(&buf))
	got, err := io.ReadAll(cr)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestChunkedDecodeLiteral(t *testing.T) {
	raw := "5\r\nhello\r\n0\r\n\r\n"
	cr := wire.NewChunkReader(bufio.NewReader(strings.NewReader(raw)))
	got, err := io.ReadAll(cr)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestChunkedBadSizeLine(t *testing.T) {
	raw := "zz\r\nhello\r\n0\r\n\r\n"
	cr := wire.NewChunkReader(bufio.NewReader(strings.NewReader(raw)))
	_, err := io.ReadAll(cr)
	assert.ErrorIs(t, err, wire.ErrChunkedFraming)
}

func TestWriteHeaderThenRoundTripPreservesOrderAndBody(t *testing.T) {
	h := header.New()
	_ = h.Add("X-A", "1")
	_ = h.Add("X-B", "2")

	var buf bytes.Buffer
	rw := wire.NewResponseWriter(&buf)
	require.NoError(t, rw.WriteHeader(true, 200, "OK", h))
	buf.WriteString("hi")

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n"))
	assert.True(t, strings.Contains(out, "X-A: 1\r\nX-B: 2\r\n\r\nhi"))
}

func TestWriteContinueExactlyOnce(t *testing.T) {
	var buf bytes.Buffer
	rw := wire.NewResponseWriter(&buf)
	require.NoError(t, rw.WriteContinue())
	require.NoError(t, rw.WriteContinue())
	assert.Equal(t, "HTTP/1.1 100 Continue\r\n\r\n", buf.String())
}

func TestCannedResponseIsCompleteAndValid(t *testing.T) {
	b := wire.CannedResponse(400, "", "400 Bad Request")
	s := string(b)
	assert.True(t, strings.HasPrefix(s, "HTTP/1.1 400 Bad Request\r\n"))
	assert.True(t, strings.HasSuffix(s, "400 Bad Request"))
	assert.Contains(t, s, "Content-Length: 15\r\n")
}
