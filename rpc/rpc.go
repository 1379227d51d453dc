package rpc

import (
	"context"
	"io"

	"github.com/sourcegraph/jsonrpc2"
)

type HandlerFunc func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request)

func (h HandlerFunc) Handle(ctx context.Context, c *jsonrpc2.Conn, r *jsonrpc2.Request) {
	h(ctx, c, r)
}

// CustomStream glues together a separate reader and writer (typically a child
// process's stdout and stdin) into a single io.ReadWriteCloser.
type CustomStream struct {
	io.ReadCloser
	io.WriteCloser
}

func (conn *CustomStream) Read(p []byte) (n int, err error) {
	return conn.ReadCloser.Read(p)
}

func (conn *CustomStream) Write(p []byte) (n int, err error) {
	return conn.WriteCloser.Write(p)
}

func (conn *CustomStream) Close() error {
	if err := conn.ReadCloser.Close(); err != nil {
		return err
	} else if err := conn.WriteCloser.Close(); err != nil {
		return err
	}
	return nil
}

// NewLspConn wraps a duplex stream in a Content-Length framed JSON-RPC
// connection. Writes are serialized by the underlying buffered stream, so
// each connection has exactly one writer.
func NewLspConn(ctx context.Context, rwc io.ReadWriteCloser, h jsonrpc2.Handler) *jsonrpc2.Conn {
	return jsonrpc2.NewConn(
		ctx,
		jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.AsyncHandler(h),
	)
}
