package engine

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhttp/engine/router"
)

// newEngineForTest builds a minimal frozen Engine with a single route,
// used to drive connection.serve() over a net.Pipe without a real
// socket.
func newEngineForTest(t *testing.T) *Engine {
	t.Helper()
	e := New(Options{Banner: "testd"})
	require.NoError(t, e.AddRoute(router.GET, "/hello", func(ctx *Context) error {
		return ctx.WriteFixed([]byte("hi"))
	}))
	e.Freeze()
	return e
}

func TestConnectionSimpleGETKeepsAlive(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	e := newEngineForTest(t)
	c := newConnection(server, ConnOptions{}, e)
	go c.serve()

	_, err := client.Write([]byte("GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	br := bufio.NewReader(client)
	status, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", status)

	var body string
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
		if strings.HasPrefix(line, "Content-Length:") {
			assert.Contains(t, line, "2")
		}
	}
	buf := make([]byte, 2)
	_, err = io.ReadFull(br, buf)
	require.NoError(t, err)
	body = string(buf)
	assert.Equal(t, "hi", body)

	// The connection stays open: a second request on it is served too.
	_, err = client.Write([]byte("GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)
	status, err = br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", status)
}

func TestConnectionHTTP10ClosesAfterOneRequest(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	e := newEngineForTest(t)
	c := newConnection(server, ConnOptions{}, e)
	go c.serve()

	_, err := client.Write([]byte("GET /hello HTTP/1.0\r\n\r\n"))
	require.NoError(t, err)

	br := bufio.NewReader(client)
	status, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.0 200 OK\r\n", status)

	// Drain the rest of the response, then expect EOF (connection closed)
	// rather than the server waiting for a second request.
	_, _ = io.ReadAll(br)

	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err = client.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestConnectionBadRequestClosesWith400(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	e := newEngineForTest(t)
	c := newConnection(server, ConnOptions{}, e)
	go c.serve()

	_, err := client.Write([]byte("NOTAREQUEST\r\n\r\n"))
	require.NoError(t, err)

	br := bufio.NewReader(client)
	status, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 400 Bad Request\r\n", status)

	// The server closes the connection after the 400: reading the rest
	// ends in EOF before the deadline.
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = io.ReadAll(br)
	assert.NoError(t, err)
}
