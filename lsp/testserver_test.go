package lsp

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/lsmcp/lsmcp/rpc"
	"github.com/sourcegraph/jsonrpc2"
)

// stubHandler answers one method. Returning noReply leaves the request
// pending, which is how the timeout tests starve the client.
type stubHandler func(params json.RawMessage) (any, *jsonrpc2.Error)

var noReply = &jsonrpc2.Error{Code: -1, Message: "no reply"}

// stubServer is a scriptable language server on the far end of a pipe.
type stubServer struct {
	conn *jsonrpc2.Conn

	mu       sync.Mutex
	handlers map[string]stubHandler
	notifs   []string
}

func (s *stubServer) handle(method string, h stubHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

func (s *stubServer) notifications() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notifs...)
}

func (s *stubServer) waitForNotification(t *testing.T, method string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, seen := range s.notifications() {
			if seen == method {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("notification %q never arrived", method)
}

func (s *stubServer) notify(method string, params any) error {
	return s.conn.Notify(context.Background(), method, params)
}

func (s *stubServer) request(method string, params any, result any) error {
	return s.conn.Call(context.Background(), method, params, result)
}

func (s *stubServer) Handle(ctx context.Context, conn *jsonrpc2.Conn, r *jsonrpc2.Request) {
	if r.Notif {
		s.mu.Lock()
		s.notifs = append(s.notifs, r.Method)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	handler, ok := s.handlers[r.Method]
	s.mu.Unlock()

	if !ok {
		conn.ReplyWithError(ctx, r.ID, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: "method not supported: " + r.Method,
		})
		return
	}

	var params json.RawMessage
	if r.Params != nil {
		params = *r.Params
	}

	result, respErr := handler(params)
	if respErr == noReply {
		return
	}
	if respErr != nil {
		conn.ReplyWithError(ctx, r.ID, respErr)
		return
	}
	conn.Reply(ctx, r.ID, result)
}

func testLanguage() *Language {
	return &Language{
		ID:               "typescript",
		Extensions:       []string{".ts"},
		OpenDelay:        0,
		OperationTimeout: 2 * time.Second,
	}
}

// newTestClient wires a client and a stub server together over a pipe.
func newTestClient(t *testing.T, lang *Language) (*Client, *stubServer) {
	t.Helper()

	clientSide, serverSide := net.Pipe()

	server := &stubServer{handlers: map[string]stubHandler{}}
	server.conn = rpc.NewLspConn(context.Background(), serverSide, server)

	client := NewClientOn(clientSide, lang, t.TempDir(), nil)

	t.Cleanup(func() {
		client.Close()
		server.conn.Close()
	})

	return client, server
}

// newInitializedTestClient also scripts a successful handshake.
func newInitializedTestClient(t *testing.T, lang *Language) (*Client, *stubServer) {
	t.Helper()

	client, server := newTestClient(t, lang)
	server.handle("initialize", func(params json.RawMessage) (any, *jsonrpc2.Error) {
		return map[string]any{
			"capabilities": map[string]any{
				"textDocumentSync": 1,
			},
		}, nil
	})

	if err := client.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	return client, server
}
