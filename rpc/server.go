// Package rpc serves symbol descriptions over JSON-RPC 2.0 on TCP.
//
// Messages are framed with a Content-Length header. Every connection is
// handled on its own goroutine and its requests are answered in order.
package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/LegacyCodeHQ/pybrowse/browser"
	"github.com/LegacyCodeHQ/pybrowse/finder"
	"github.com/LegacyCodeHQ/pybrowse/internal/logging"
)

// DefaultHost is the address the server binds to when none is configured.
const DefaultHost = "localhost"

// DefaultShutdownTimeout bounds how long Close waits for in-flight requests.
const DefaultShutdownTimeout = 5 * time.Second

// Method names.
const (
	MethodDescribe        = "describe"
	MethodGetDescriptions = "get_descriptions"
	MethodResolve         = "resolve"
	MethodModules         = "modules"
	MethodMethods         = "methods"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("rpc: server closed")

// Browser is the symbol service the server exposes.
type Browser interface {
	Describe(path string) iter.Seq2[browser.Descriptor, error]
	DescribeModule(path string) iter.Seq2[browser.Descriptor, error]
	Resolve(path string) (finder.Resolution, error)
	Modules(path string) ([]string, string, error)
}

// Config holds the listen address.
type Config struct {
	// Host is the address to bind to (default: localhost)
	Host string
	// Port is the port to listen on (0 = auto-select)
	Port int
	// ShutdownTimeout bounds how long Close waits for in-flight requests
	// (default: DefaultShutdownTimeout)
	ShutdownTimeout time.Duration
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ResolveResult is the result of the resolve method.
type ResolveResult struct {
	Module   string `json:"module"`
	Root     string `json:"root"`
	Strategy string `json:"strategy,omitempty"`
}

// ModulesResult is the result of the modules method.
type ModulesResult struct {
	Modules []string `json:"modules"`
	Root    string   `json:"root"`
}

// PathParams are the params of every path based method. They are accepted
// either as an object or as a positional array holding the path.
type PathParams struct {
	Path       string `json:"path"`
	ModuleOnly bool   `json:"module_only,omitempty"`
}

type handlerFunc func(params PathParams) (any, *Error)

// Server answers JSON-RPC requests on a TCP listener.
type Server struct {
	cfg      Config
	browser  Browser
	handlers map[string]handlerFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer returns a Server for b. It does not listen until Listen is called.
func NewServer(cfg Config, b Browser) *Server {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &Server{
		cfg:     cfg,
		browser: b,
		conns:   make(map[net.Conn]struct{}),
	}
	s.handlers = map[string]handlerFunc{
		MethodDescribe:        s.describe,
		MethodGetDescriptions: s.describe,
		MethodResolve:         s.resolve,
		MethodModules:         s.modules,
	}
	return s
}

// Listen binds the configured address.
func (s *Server) Listen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServerClosed
	}
	if s.listener != nil {
		return fmt.Errorf("already listening on %s", s.listener.Addr())
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound port, or 0 before Listen.
func (s *Server) Port() int {
	addr, ok := s.Addr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return addr.Port
}

// Serve accepts connections until ctx is done or Close is called. It listens
// first if Listen has not been called. The returned error is ErrServerClosed
// after a shutdown.
func (s *Server) Serve(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Listen(ctx); err != nil {
			return err
		}
	}

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = s.Close()
	})
	defer stop()

	logging.Info("rpc server listening", "address", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			return fmt.Errorf("accept: %w", err)
		}

		if !s.track(conn) {
			_ = conn.Close()
			return ErrServerClosed
		}

		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serveConn(conn)
		}()
	}
}

// Close stops the listener, closes open connections and waits up to the
// shutdown timeout for requests still being handled. Safe to call more than
// once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	var err error
	if s.listener != nil {
		err = s.listener.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownTimeout):
		logging.Warn("shutdown timed out waiting for requests", "timeout", s.cfg.ShutdownTimeout)
	}
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) serveConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	logging.Debug("connection opened", "remote", remote)
	defer logging.Debug("connection closed", "remote", remote)

	reader := bufio.NewReader(conn)
	for {
		body, err := readMessage(reader)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			// The stream cannot be resynchronised after a bad frame.
			logging.Warn("dropping connection after bad frame", "remote", remote, "error", err)
			_ = s.reply(conn, nil, nil, newError(CodeParseError, "%v", err))
			return
		}

		resp := s.handle(body)
		if resp == nil {
			continue
		}
		if err := writeMessage(conn, resp); err != nil {
			logging.Warn("failed to write response", "remote", remote, "error", err)
			return
		}
	}
}

// handle decodes one message and returns the response to send, or nil for a
// notification.
func (s *Server) handle(body []byte) *Response {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return newResponse(nil, nil, newError(CodeParseError, "parse error: %v", err))
	}
	if req.Method == "" {
		return newResponse(req.ID, nil, newError(CodeInvalidRequest, "missing method"))
	}

	logging.Debug("request", "method", req.Method, "id", string(req.ID))

	result, rpcErr := s.call(req.Method, req.Params)
	if req.IsNotification() {
		return nil
	}
	return newResponse(req.ID, result, rpcErr)
}

func (s *Server) call(method string, raw json.RawMessage) (any, *Error) {
	if method == MethodMethods {
		return s.methods(), nil
	}

	handler, ok := s.handlers[method]
	if !ok {
		return nil, newError(CodeMethodNotFound, "method not found: %s", method)
	}

	params, err := decodePathParams(raw)
	if err != nil {
		return nil, err
	}
	return handler(params)
}

func (s *Server) methods() []string {
	names := make([]string, 0, len(s.handlers)+1)
	for name := range s.handlers {
		names = append(names, name)
	}
	names = append(names, MethodMethods)
	slices.Sort(names)
	return names
}

func (s *Server) describe(params PathParams) (any, *Error) {
	seq := s.browser.Describe(params.Path)
	if params.ModuleOnly {
		seq = s.browser.DescribeModule(params.Path)
	}

	descs, err := browser.Collect(seq)
	if err != nil {
		logging.Warn("describe failed", "path", params.Path, "error", err)
		return []browser.Descriptor{}, nil
	}
	return descs, nil
}

func (s *Server) resolve(params PathParams) (any, *Error) {
	res, err := s.browser.Resolve(params.Path)
	if err != nil {
		return nil, newError(CodeInternalError, "%v", err)
	}
	return ResolveResult{Module: res.Module, Root: res.Root, Strategy: res.Strategy}, nil
}

func (s *Server) modules(params PathParams) (any, *Error) {
	modules, root, err := s.browser.Modules(params.Path)
	if err != nil {
		return nil, newError(CodeInternalError, "%v", err)
	}
	if modules == nil {
		modules = []string{}
	}
	return ModulesResult{Modules: modules, Root: root}, nil
}

func (s *Server) reply(w io.Writer, id json.RawMessage, result any, rpcErr *Error) error {
	return writeMessage(w, newResponse(id, result, rpcErr))
}

func newResponse(id json.RawMessage, result any, rpcErr *Error) *Response {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	resp := &Response{JSONRPC: jsonrpcVersion, ID: id}
	if rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}

	data, err := json.Marshal(result)
	if err != nil {
		resp.Error = newError(CodeInternalError, "marshal result: %v", err)
		return resp
	}
	resp.Result = data
	return resp
}

// decodePathParams accepts {"path": ...}, [path] or no params at all. An
// absent path decodes as "", which the browser answers with an empty result.
func decodePathParams(raw json.RawMessage) (PathParams, *Error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return PathParams{}, nil
	}

	switch raw[0] {
	case '[':
		var args []string
		if err := json.Unmarshal(raw, &args); err != nil {
			return PathParams{}, newError(CodeInvalidParams, "invalid params: %v", err)
		}
		if len(args) > 1 {
			return PathParams{}, newError(CodeInvalidParams, "expected at most one path, got %d", len(args))
		}
		if len(args) == 0 {
			return PathParams{}, nil
		}
		return PathParams{Path: args[0]}, nil
	case '{':
		var params PathParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return PathParams{}, newError(CodeInvalidParams, "invalid params: %v", err)
		}
		return params, nil
	default:
		return PathParams{}, newError(CodeInvalidParams, "params must be an object or an array")
	}
}
