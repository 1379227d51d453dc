package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lsmcp/lsmcp/rpc"
	"github.com/sourcegraph/jsonrpc2"
	lsp "go.lsp.dev/protocol"
)

// Client drives a single language server over a Content-Length framed
// JSON-RPC connection. Request ids are monotonic, responses are correlated
// by the underlying connection, and every outgoing request carries a
// deadline taken from the language profile.
type Client struct {
	lang     *Language
	rootPath string
	conn     *jsonrpc2.Conn
	cmd      *exec.Cmd
	log      *log.Logger

	nextID atomic.Int64

	session *DocumentSession
	diags   *Diagnostics

	mu              sync.Mutex
	initialized     bool
	caps            lsp.ServerCapabilities
	pullDiagnostics bool

	// handles server-initiated workspace/applyEdit requests; nil means
	// the request is answered with method-not-found
	onApplyEdit func(edit WorkspaceEdit) (bool, error)

	exitOnce sync.Once
	exited   chan struct{}
	exitErr  error
}

// Spawn starts the language server process for lang with its stdio piped,
// and wires up the framed connection. The returned client is not yet
// initialized; call Initialize before issuing document operations.
func Spawn(ctx context.Context, lang *Language, rootPath string, logger *log.Logger, stderr io.Writer) (*Client, error) {
	if len(lang.Command) == 0 {
		return nil, fmt.Errorf("language %q has no server command", lang.ID)
	}

	cmd := exec.Command(lang.Command[0], lang.Command[1:]...)
	cmd.Dir = rootPath
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %q: %w", lang.Command[0], err)
	}

	client := NewClientOn(&rpc.CustomStream{
		ReadCloser:  stdout,
		WriteCloser: stdin,
	}, lang, rootPath, logger)
	client.cmd = cmd

	go func() {
		err := cmd.Wait()
		if err == nil {
			err = errors.New("language server exited")
		}
		client.markExited(err)
	}()

	return client, nil
}

// NewClientOn builds a client over an already-established duplex stream.
// Used by Spawn and by tests that run a stub server on the other end.
func NewClientOn(stream io.ReadWriteCloser, lang *Language, rootPath string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	client := &Client{
		lang:     lang,
		rootPath: rootPath,
		log:      logger,
		exited:   make(chan struct{}),
	}
	client.session = newDocumentSession(client)
	client.diags = newDiagnostics()

	client.conn = rpc.NewLspConn(context.Background(), stream, client)

	go func() {
		<-client.conn.DisconnectNotify()
		client.markExited(errors.New("connection closed"))
	}()

	return client
}

func (c *Client) Language() *Language       { return c.lang }
func (c *Client) RootPath() string          { return c.rootPath }
func (c *Client) Session() *DocumentSession { return c.session }
func (c *Client) Diagnostics() *Diagnostics { return c.diags }

// Capabilities returns the capabilities negotiated during initialize.
func (c *Client) Capabilities() lsp.ServerCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

// SupportsPullDiagnostics reports whether the server advertised a
// diagnostic provider during initialize.
func (c *Client) SupportsPullDiagnostics() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pullDiagnostics
}

// IsInitialized reports whether the handshake has completed.
func (c *Client) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Alive reports whether the connection is still usable.
func (c *Client) Alive() bool {
	select {
	case <-c.exited:
		return false
	default:
		return true
	}
}

// ExitNotify is closed once the server process or connection is gone.
func (c *Client) ExitNotify() <-chan struct{} { return c.exited }

// SetApplyEditHandler installs the handler for server-initiated
// workspace/applyEdit requests. The pool wires this to the in-process
// edit applier so the capability the client advertises is honored.
func (c *Client) SetApplyEditHandler(fn func(edit WorkspaceEdit) (bool, error)) {
	c.mu.Lock()
	c.onApplyEdit = fn
	c.mu.Unlock()
}

func (c *Client) markExited(err error) {
	c.exitOnce.Do(func() {
		c.exitErr = err
		close(c.exited)
		// closing the conn fails all pending calls with ErrClosed,
		// which Call maps to a TransportError
		c.conn.Close()
	})
}

func (c *Client) operationTimeout() time.Duration {
	if c.lang != nil && c.lang.OperationTimeout > 0 {
		return c.lang.OperationTimeout
	}
	return defaultOperationTimeout
}

// Call issues a request with the language profile's operation timeout.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	return c.CallTimeout(ctx, method, params, result, c.operationTimeout())
}

// CallTimeout issues a request that fails with a TimeoutError after the
// given duration. A timed-out or canceled request also sends
// $/cancelRequest so cooperative servers can stop working on it.
func (c *Client) CallTimeout(ctx context.Context, method string, params, result any, timeout time.Duration) error {
	if !c.Alive() {
		return &TransportError{Err: c.exitErr}
	}

	id := jsonrpc2.ID{Num: uint64(c.nextID.Add(1))}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := c.conn.Call(callCtx, method, params, result, jsonrpc2.PickID(id))
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.Canceled):
		c.cancelRequest(id)
		return err
	case errors.Is(err, context.DeadlineExceeded):
		c.cancelRequest(id)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TimeoutError{Method: method, After: timeout}
	case errors.Is(err, jsonrpc2.ErrClosed):
		return &TransportError{Err: err}
	}

	var respErr *jsonrpc2.Error
	if errors.As(err, &respErr) {
		if respErr.Code == jsonrpc2.CodeMethodNotFound {
			lang := ""
			if c.lang != nil {
				lang = c.lang.ID
			}
			return &UnsupportedError{Method: method, Language: lang}
		}
		return &ServerError{Code: respErr.Code, Message: respErr.Message}
	}

	return &TransportError{Err: err}
}

// Notify sends a notification (no response expected).
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	if !c.Alive() {
		return &TransportError{Err: c.exitErr}
	}

	if err := c.conn.Notify(ctx, method, params); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

func (c *Client) cancelRequest(id jsonrpc2.ID) {
	if !c.Alive() {
		return
	}
	_ = c.conn.Notify(context.Background(), "$/cancelRequest", map[string]any{
		"id": id.Num,
	})
}

type applyWorkspaceEditParams struct {
	Label string        `json:"label,omitempty"`
	Edit  WorkspaceEdit `json:"edit"`
}

type applyWorkspaceEditResponse struct {
	Applied       bool   `json:"applied"`
	FailureReason string `json:"failureReason,omitempty"`
}

func decodePayload[T any](r *jsonrpc2.Request) (*T, error) {
	if r.Params == nil {
		return nil, errors.New("missing params")
	}

	var payload *T
	if err := json.Unmarshal(*r.Params, &payload); err != nil {
		return nil, fmt.Errorf("unable to decode params of method %s: %w", r.Method, err)
	}
	return payload, nil
}

// Handle dispatches server-to-client traffic: notifications go to their
// handlers; workspace/applyEdit is honored when a handler is installed,
// workspace/configuration is answered with nulls, capability
// (un)registration is acknowledged and workspace/workspaceFolders returns
// the root; every other request is answered with method-not-found.
func (c *Client) Handle(ctx context.Context, conn *jsonrpc2.Conn, r *jsonrpc2.Request) {
	switch r.Method {
	case lsp.MethodTextDocumentPublishDiagnostics:
		payload, err := decodePayload[lsp.PublishDiagnosticsParams](r)
		if err != nil {
			c.log.Printf("lsp> %s\n", err.Error())
			return
		}
		c.diags.publish(payload.URI, payload.Diagnostics)
	case lsp.MethodWindowLogMessage, lsp.MethodWindowShowMessage:
		payload, err := decodePayload[lsp.LogMessageParams](r)
		if err != nil {
			return
		}
		c.log.Printf("lsp> server: %s\n", payload.Message)
	case lsp.MethodWorkspaceApplyEdit:
		if r.Notif {
			return
		}

		c.mu.Lock()
		onApplyEdit := c.onApplyEdit
		c.mu.Unlock()

		if onApplyEdit == nil {
			conn.ReplyWithError(ctx, r.ID, &jsonrpc2.Error{
				Code:    jsonrpc2.CodeMethodNotFound,
				Message: "method not supported: " + r.Method,
			})
			return
		}

		payload, err := decodePayload[applyWorkspaceEditParams](r)
		if err != nil {
			conn.ReplyWithError(ctx, r.ID, &jsonrpc2.Error{
				Code:    jsonrpc2.CodeInvalidParams,
				Message: err.Error(),
			})
			return
		}

		applied, applyErr := onApplyEdit(payload.Edit)
		response := applyWorkspaceEditResponse{Applied: applied}
		if applyErr != nil {
			response.FailureReason = applyErr.Error()
		}
		conn.Reply(ctx, r.ID, response)
	case lsp.MethodWorkspaceConfiguration:
		if r.Notif {
			return
		}

		// answer with nulls; per-item settings are not supported
		payload, err := decodePayload[lsp.ConfigurationParams](r)
		if err != nil {
			conn.Reply(ctx, r.ID, []any{})
			return
		}
		conn.Reply(ctx, r.ID, make([]any, len(payload.Items)))
	case lsp.MethodClientRegisterCapability, lsp.MethodClientUnregisterCapability:
		if !r.Notif {
			conn.Reply(ctx, r.ID, nil)
		}
	case lsp.MethodWorkspaceWorkspaceFolders:
		if !r.Notif {
			conn.Reply(ctx, r.ID, []lsp.WorkspaceFolder{
				{URI: string(uriFromPath(c.rootPath)), Name: c.rootPath},
			})
		}
	default:
		if !r.Notif {
			conn.ReplyWithError(ctx, r.ID, &jsonrpc2.Error{
				Code:    jsonrpc2.CodeMethodNotFound,
				Message: "method not supported: " + r.Method,
			})
		}
	}
}

// Shutdown performs the polite shutdown sequence: shutdown request, exit
// notification, then a grace interval before the process is killed.
func (c *Client) Shutdown(ctx context.Context) error {
	if c.Alive() {
		_ = c.CallTimeout(ctx, lsp.MethodShutdown, nil, nil, 5*time.Second)
		_ = c.Notify(ctx, lsp.MethodExit, nil)
	}

	select {
	case <-c.exited:
	case <-time.After(2 * time.Second):
		c.markExited(errors.New("shutdown grace period expired"))
		if c.cmd != nil && c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
	}

	return nil
}

// Close tears the connection down without the shutdown handshake.
func (c *Client) Close() error {
	c.markExited(errors.New("client closed"))
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	return nil
}
