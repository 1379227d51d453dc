package lsp

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotInitialized = errors.New("language server is not initialized")
	ErrDocumentOpen   = errors.New("document is already open")
	ErrDocumentClosed = errors.New("document is not open")
)

// TimeoutError is returned when a request exceeds its per-request deadline.
// The pending entry is discarded; the server entry itself stays alive.
type TimeoutError struct {
	Method string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %q timed out after %s", e.Method, e.After)
}

// TransportError is returned when the connection to the server is gone.
// All pending requests on the connection fail with it.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("language server transport error: %s", e.Err.Error())
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServerError wraps a JSON-RPC error response from the language server.
type ServerError struct {
	Code    int64
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("language server error %d: %s", e.Code, e.Message)
}

// UnsupportedError is returned when the server answers a request with
// method-not-found, i.e. the capability is missing.
type UnsupportedError struct {
	Method   string
	Language string
}

func (e *UnsupportedError) Error() string {
	op := operationName(e.Method)
	if len(e.Language) != 0 {
		return fmt.Sprintf("%s language server doesn't support %s", e.Language, op)
	}
	return fmt.Sprintf("language server doesn't support %s", op)
}

func operationName(method string) string {
	switch method {
	case "textDocument/rename", "textDocument/prepareRename":
		return "rename"
	case "textDocument/hover":
		return "hover"
	case "textDocument/references":
		return "references"
	case "textDocument/definition":
		return "definitions"
	case "textDocument/documentSymbol":
		return "document symbols"
	case "textDocument/completion":
		return "completion"
	case "textDocument/signatureHelp":
		return "signature help"
	case "textDocument/codeAction":
		return "code actions"
	case "textDocument/formatting", "textDocument/rangeFormatting":
		return "formatting"
	case "workspace/symbol":
		return "workspace symbols"
	default:
		return method
	}
}

// IsUnsupported reports whether err marks a missing server capability.
func IsUnsupported(err error) bool {
	var ue *UnsupportedError
	return errors.As(err, &ue)
}
