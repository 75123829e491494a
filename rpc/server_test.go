package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/LegacyCodeHQ/pybrowse/browser"
	"github.com/LegacyCodeHQ/pybrowse/finder"
	"github.com/LegacyCodeHQ/pybrowse/symbols"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBrowser struct {
	descriptors []browser.Descriptor
	moduleOnly  []browser.Descriptor
	describeErr error
	resolution  finder.Resolution
	resolveErr  error
	modules     []string
	root        string
	// block, when set, holds describe results until it is closed.
	block chan struct{}

	mu    sync.Mutex
	paths []string
}

func (f *fakeBrowser) record(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
}

func (f *fakeBrowser) calledWith() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.paths)
}

func (f *fakeBrowser) seq(descs []browser.Descriptor) iter.Seq2[browser.Descriptor, error] {
	return func(yield func(browser.Descriptor, error) bool) {
		if f.block != nil {
			<-f.block
		}
		for _, d := range descs {
			if !yield(d, nil) {
				return
			}
		}
		if f.describeErr != nil {
			yield(browser.Descriptor{}, f.describeErr)
		}
	}
}

func (f *fakeBrowser) Describe(path string) iter.Seq2[browser.Descriptor, error] {
	f.record(path)
	return f.seq(f.descriptors)
}

func (f *fakeBrowser) DescribeModule(path string) iter.Seq2[browser.Descriptor, error] {
	f.record(path)
	return f.seq(f.moduleOnly)
}

func (f *fakeBrowser) Resolve(path string) (finder.Resolution, error) {
	f.record(path)
	return f.resolution, f.resolveErr
}

func (f *fakeBrowser) Modules(path string) ([]string, string, error) {
	f.record(path)
	return f.modules, f.root, f.resolveErr
}

func startServer(t *testing.T, b Browser) *Server {
	t.Helper()
	s := NewServer(Config{Host: "127.0.0.1"}, b)
	require.NoError(t, s.Listen(context.Background()))

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()

	t.Cleanup(func() {
		require.NoError(t, s.Close())
		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrServerClosed)
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after Close")
		}
	})
	return s
}

func dialServer(t *testing.T, s *Server) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func call(t *testing.T, c *Client, method string, params, result any) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Call(ctx, method, params, result)
}

func TestNewServer_DefaultsHost(t *testing.T) {
	s := NewServer(Config{}, &fakeBrowser{})
	assert.Equal(t, "localhost:0", s.cfg.Addr())
	assert.Nil(t, s.Addr())
	assert.Zero(t, s.Port())
}

func TestServer_ListenAutoSelectsPort(t *testing.T) {
	s := startServer(t, &fakeBrowser{})
	assert.NotZero(t, s.Port())
}

func TestServer_Describe(t *testing.T) {
	fake := &fakeBrowser{descriptors: []browser.Descriptor{
		{Module: "pkg.sub", Name: "Foo", File: "/proj/pkg/sub.py", Lineno: 4, Fullname: "pkg.sub.Foo"},
	}}
	c := dialServer(t, startServer(t, fake))

	var got []browser.Descriptor
	require.NoError(t, call(t, c, MethodDescribe, PathParams{Path: "/proj/pkg/sub.py"}, &got))
	assert.Equal(t, fake.descriptors, got)

	got = nil
	require.NoError(t, call(t, c, MethodGetDescriptions, []string{"/proj/pkg/sub.py"}, &got))
	assert.Equal(t, fake.descriptors, got)

	assert.Equal(t, []string{"/proj/pkg/sub.py", "/proj/pkg/sub.py"}, fake.calledWith())
}

func TestServer_DescribeModuleOnly(t *testing.T) {
	fake := &fakeBrowser{
		descriptors: []browser.Descriptor{{Fullname: "pkg.a.x"}, {Fullname: "pkg.b.y"}},
		moduleOnly:  []browser.Descriptor{{Fullname: "pkg.b.y"}},
	}
	c := dialServer(t, startServer(t, fake))

	var got []browser.Descriptor
	require.NoError(t, call(t, c, MethodDescribe, PathParams{Path: "b.py", ModuleOnly: true}, &got))
	assert.Equal(t, fake.moduleOnly, got)
}

func TestServer_DescribeFailureYieldsEmptyList(t *testing.T) {
	fake := &fakeBrowser{
		descriptors: []browser.Descriptor{{Fullname: "pkg.a.x"}},
		describeErr: errors.New("permission denied"),
	}
	c := dialServer(t, startServer(t, fake))

	var raw json.RawMessage
	require.NoError(t, call(t, c, MethodDescribe, []string{"/nowhere"}, &raw))
	assert.JSONEq(t, `[]`, string(raw))
}

func TestServer_Resolve(t *testing.T) {
	fake := &fakeBrowser{resolution: finder.Resolution{
		Module:   "pkg.sub",
		Root:     "/proj",
		Strategy: finder.StrategyProject,
	}}
	c := dialServer(t, startServer(t, fake))

	var got ResolveResult
	require.NoError(t, call(t, c, MethodResolve, PathParams{Path: "/proj/pkg/sub.py"}, &got))
	assert.Equal(t, ResolveResult{Module: "pkg.sub", Root: "/proj", Strategy: "project-marker"}, got)
}

func TestServer_ResolveErrorIsInternalError(t *testing.T) {
	fake := &fakeBrowser{resolveErr: errors.New("no home directory")}
	c := dialServer(t, startServer(t, fake))

	err := call(t, c, MethodResolve, []string{"~/x.py"}, nil)

	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeInternalError, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "no home directory")
}

func TestServer_Modules(t *testing.T) {
	fake := &fakeBrowser{modules: []string{"pkg", "pkg.sub"}, root: "/proj"}
	c := dialServer(t, startServer(t, fake))

	var got ModulesResult
	require.NoError(t, call(t, c, MethodModules, PathParams{Path: "/proj/pkg/sub.py"}, &got))
	assert.Equal(t, ModulesResult{Modules: []string{"pkg", "pkg.sub"}, Root: "/proj"}, got)

}

func TestServer_ModulesNeverNull(t *testing.T) {
	c := dialServer(t, startServer(t, &fakeBrowser{root: "/proj"}))

	var raw json.RawMessage
	require.NoError(t, call(t, c, MethodModules, []string{"/x"}, &raw))
	assert.JSONEq(t, `{"modules":[],"root":"/proj"}`, string(raw))
}

func TestServer_Methods(t *testing.T) {
	c := dialServer(t, startServer(t, &fakeBrowser{}))

	var got []string
	require.NoError(t, call(t, c, MethodMethods, nil, &got))
	assert.Equal(t, []string{"describe", "get_descriptions", "methods", "modules", "resolve"}, got)
}

func TestServer_Errors(t *testing.T) {
	c := dialServer(t, startServer(t, &fakeBrowser{}))

	tests := []struct {
		name   string
		method string
		params any
		code   int
	}{
		{name: "unknown method", method: "rename", params: []string{"x"}, code: CodeMethodNotFound},
		{name: "too many paths", method: MethodDescribe, params: []string{"a", "b"}, code: CodeInvalidParams},
		{name: "non-string path", method: MethodDescribe, params: []int{1}, code: CodeInvalidParams},
		{name: "scalar params", method: MethodModules, params: 42, code: CodeInvalidParams},
		{name: "wrong path type", method: MethodDescribe, params: map[string]int{"path": 1}, code: CodeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := call(t, c, tt.method, tt.params, nil)

			var rpcErr *Error
			require.ErrorAs(t, err, &rpcErr)
			assert.Equal(t, tt.code, rpcErr.Code)
		})
	}
}

func TestServer_DescribeWithoutPathYieldsEmptyList(t *testing.T) {
	fake := &fakeBrowser{}
	c := dialServer(t, startServer(t, fake))

	tests := []struct {
		name   string
		params any
	}{
		{name: "no params", params: nil},
		{name: "empty object", params: map[string]string{}},
		{name: "object without path", params: map[string]string{"file": "x"}},
		{name: "empty array", params: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw json.RawMessage
			require.NoError(t, call(t, c, MethodDescribe, tt.params, &raw))
			assert.JSONEq(t, `[]`, string(raw))
		})
	}

	assert.Equal(t, []string{"", "", "", ""}, fake.calledWith())
}

func TestDecodePathParams(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want PathParams
	}{
		{name: "absent", raw: "", want: PathParams{}},
		{name: "null", raw: "null", want: PathParams{}},
		{name: "empty array", raw: "[]", want: PathParams{}},
		{name: "positional", raw: `["/a.py"]`, want: PathParams{Path: "/a.py"}},
		{name: "object", raw: `{"path": "/a.py", "module_only": true}`, want: PathParams{Path: "/a.py", ModuleOnly: true}},
		{name: "object without path", raw: `{}`, want: PathParams{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rpcErr := decodePathParams(json.RawMessage(tt.raw))
			require.Nil(t, rpcErr)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServer_OversizedFrameClosesOnlyThatConnection(t *testing.T) {
	s := startServer(t, &fakeBrowser{})
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	r := bufio.NewReader(conn)

	_, err = io.WriteString(conn, "Content-Length: 1125899906842624\r\n\r\n")
	require.NoError(t, err)

	body, err := readMessage(r)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)

	_, err = readMessage(r)
	assert.ErrorIs(t, err, io.EOF)

	var got []string
	require.NoError(t, call(t, dialServer(t, s), MethodMethods, nil, &got))
	assert.NotEmpty(t, got)
}

func TestServer_CloseStopsWaitingAfterShutdownTimeout(t *testing.T) {
	fake := &fakeBrowser{block: make(chan struct{})}
	defer close(fake.block)

	s := NewServer(Config{Host: "127.0.0.1", ShutdownTimeout: 100 * time.Millisecond}, fake)
	require.NoError(t, s.Listen(context.Background()))
	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, writeMessage(conn, Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: MethodDescribe, Params: json.RawMessage(`["/a.py"]`)}))
	require.Eventually(t, func() bool { return len(fake.calledWith()) == 1 }, 5*time.Second, 10*time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after the shutdown timeout")
	}
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestServer_MalformedJSONKeepsConnection(t *testing.T) {
	s := startServer(t, &fakeBrowser{})
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	r := bufio.NewReader(conn)

	_, err = io.WriteString(conn, "Content-Length: 5\r\n\r\n{oops")
	require.NoError(t, err)

	var resp Response
	body, err := readMessage(r)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)
	assert.Equal(t, "null", string(resp.ID))

	require.NoError(t, writeMessage(conn, Request{JSONRPC: "2.0", ID: json.RawMessage(`"abc"`), Method: MethodMethods}))
	body, err = readMessage(r)
	require.NoError(t, err)
	resp = Response{}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Nil(t, resp.Error)
	assert.Equal(t, `"abc"`, string(resp.ID))
}

func TestServer_BadFrameClosesConnection(t *testing.T) {
	s := startServer(t, &fakeBrowser{})
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	r := bufio.NewReader(conn)

	_, err = io.WriteString(conn, "Bogus: header\r\n\r\n")
	require.NoError(t, err)

	body, err := readMessage(r)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)

	_, err = readMessage(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_NotificationGetsNoResponse(t *testing.T) {
	fake := &fakeBrowser{}
	s := startServer(t, fake)
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	r := bufio.NewReader(conn)

	require.NoError(t, writeMessage(conn, Request{JSONRPC: "2.0", Method: MethodDescribe, Params: json.RawMessage(`["/a.py"]`)}))
	require.NoError(t, writeMessage(conn, Request{JSONRPC: "2.0", ID: json.RawMessage("7"), Method: MethodMethods}))

	body, err := readMessage(r)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "7", string(resp.ID))
}

func TestServer_ServeStopsWhenContextIsCancelled(t *testing.T) {
	s := NewServer(Config{Host: "127.0.0.1"}, &fakeBrowser{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	require.Eventually(t, func() bool { return s.Port() != 0 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.ErrorIs(t, s.Listen(context.Background()), ErrServerClosed)
}

func TestServer_EndToEnd(t *testing.T) {
	proj := t.TempDir()
	for rel, content := range map[string]string{
		"setup.py":        "",
		"pkg/__init__.py": "",
		"pkg/sub.py":      "import os\n\n\nclass Foo(object):\n    pass\n",
	} {
		path := filepath.Join(proj, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	sub := filepath.Join(proj, "pkg", "sub.py")

	f, err := finder.New(finder.Options{WorkDir: t.TempDir()})
	require.NoError(t, err)
	c := dialServer(t, startServer(t, browser.New(f, symbols.NewExtractor(nil))))

	var got []browser.Descriptor
	require.NoError(t, call(t, c, MethodDescribe, []string{sub}, &got))
	assert.Equal(t, []browser.Descriptor{{
		Module: "pkg.sub", Name: "Foo", File: sub, Lineno: 4, Fullname: "pkg.sub.Foo",
	}}, got)

	var missing json.RawMessage
	require.NoError(t, call(t, c, MethodDescribe, []string{filepath.Join(proj, "nope", "gone.py")}, &missing))
	assert.JSONEq(t, `[]`, string(missing))

	var unresolved []browser.Descriptor
	require.NoError(t, call(t, c, MethodDescribe, []string{""}, &unresolved))
	assert.Empty(t, unresolved)
}
