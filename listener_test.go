package engine_test

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhttp/engine"
	"github.com/loomhttp/engine/config"
	"github.com/loomhttp/engine/enginetest"
	"github.com/loomhttp/engine/router"
)

func TestListenerServesSimpleGET(t *testing.T) {
	srv := enginetest.NewServer(t, func(e *engine.Engine) {
		_ = e.AddRoute(router.GET, "/hello", func(ctx *engine.Context) error {
			return ctx.WriteFixed([]byte("hi"))
		})
	})

	resp, err := enginetest.Client().Get(srv.URL() + "/hello")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(body))
}

func TestListenerRouteParameter(t *testing.T) {
	srv := enginetest.NewServer(t, func(e *engine.Engine) {
		_ = e.AddRoute(router.GET, "/users/<id>/profile", func(ctx *engine.Context) error {
			return ctx.WriteFixed([]byte("user:" + ctx.Param("id")))
		})
	})

	resp, err := enginetest.Client().Get(srv.URL() + "/users/42/profile")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "user:42", string(body))
}

func TestListenerMethodMismatchYields405(t *testing.T) {
	srv := enginetest.NewServer(t, func(e *engine.Engine) {
		_ = e.AddRoute(router.GET, "/hello", func(ctx *engine.Context) error {
			return ctx.WriteFixed([]byte("hi"))
		})
	})

	resp, err := enginetest.Client().Post(srv.URL()+"/hello", "text/plain", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 405, resp.StatusCode)
}

func TestListenerNotFound(t *testing.T) {
	srv := enginetest.NewServer(t, func(e *engine.Engine) {})

	resp, err := enginetest.Client().Get(srv.URL() + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)
}

func TestListenerForceTrailingSlashRedirects(t *testing.T) {
	e := engine.New(engine.Options{ForceTrailingSlash: true})
	_ = e.AddRoute(router.GET, "/hello/", func(ctx *engine.Context) error {
		return ctx.WriteFixed([]byte("hi"))
	})
	e.Freeze()

	cfg := &config.ListenerConfig{
		Address:             "127.0.0.1:0",
		Backlog:             1024,
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		SSLHandshakeTimeout: 5 * time.Second,
		HeaderBudgetBytes:   8192,
		AcceptLoops:         1,
		MaxInFlight:         64,
	}
	ln := engine.NewListener(e, cfg)
	done := make(chan error, 1)
	go func() { done <- ln.Serve() }()
	defer func() {
		ln.Stop()
		<-done
	}()

	client := enginetest.Client()
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := client.Get("http://" + ln.Addr().String() + "/hello")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 307, resp.StatusCode)
	assert.Equal(t, "/hello/", resp.Header.Get("Location"))
}

func TestListenerTrailingSlashSignificantByDefault(t *testing.T) {
	srv := enginetest.NewServer(t, func(e *engine.Engine) {
		_ = e.AddRoute(router.GET, "/hello/", func(ctx *engine.Context) error {
			return ctx.WriteFixed([]byte("hi"))
		})
	})

	resp, err := enginetest.Client().Get(srv.URL() + "/hello")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)
}

func TestListenerValueRouteConvertsReturnedString(t *testing.T) {
	srv := enginetest.NewServer(t, func(e *engine.Engine) {
		_ = e.AddValueRoute(router.GET, "/greeting", func(ctx *engine.Context) (any, error) {
			return "hi", nil
		})
	})

	resp, err := enginetest.Client().Get(srv.URL() + "/greeting")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(body))
}

func TestListenerChunkedRequestEcho(t *testing.T) {
	srv := enginetest.NewServer(t, func(e *engine.Engine) {
		_ = e.AddRoute(router.POST, "/echo", func(ctx *engine.Context) error {
			body, err := io.ReadAll(ctx.Body())
			if err != nil {
				return err
			}
			return ctx.WriteChunk(body)
		})
	})

	req, err := http.NewRequest(http.MethodPost, srv.URL()+"/echo", &chunkedBody{"hello"})
	require.NoError(t, err)
	req.TransferEncoding = []string{"chunked"}

	resp, err := enginetest.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

// chunkedBody is a minimal io.Reader so http.NewRequest doesn't set a
// known Content-Length, forcing net/http's client to frame the request
// body with Transfer-Encoding: chunked.
type chunkedBody struct {
	s string
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	if b.s == "" {
		return 0, io.EOF
	}
	n := copy(p, b.s)
	b.s = b.s[n:]
	return n, nil
}
