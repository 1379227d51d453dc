package lsp

import (
	"context"
	"encoding/json"
	"os"

	lsp "go.lsp.dev/protocol"
)

// initializeParams is the handshake payload. A local mirror of the LSP
// structure keeps the static capabilities object under our control.
type initializeParams struct {
	ProcessID             int                `json:"processId"`
	RootPath              string             `json:"rootPath,omitempty"`
	RootURI               string             `json:"rootUri"`
	Capabilities          clientCapabilities `json:"capabilities"`
	InitializationOptions map[string]any     `json:"initializationOptions,omitempty"`
	WorkspaceFolders      []workspaceFolder  `json:"workspaceFolders,omitempty"`
}

type workspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

type clientCapabilities struct {
	TextDocument textDocumentClientCapabilities `json:"textDocument"`
	Workspace    workspaceClientCapabilities    `json:"workspace"`
}

type textDocumentClientCapabilities struct {
	Synchronization struct {
		DidSave bool `json:"didSave"`
	} `json:"synchronization"`
	PublishDiagnostics struct {
		RelatedInformation bool `json:"relatedInformation"`
	} `json:"publishDiagnostics"`
	Definition struct {
		LinkSupport bool `json:"linkSupport"`
	} `json:"definition"`
	Hover struct {
		ContentFormat []string `json:"contentFormat"`
	} `json:"hover"`
	Completion struct {
		CompletionItem struct {
			SnippetSupport bool `json:"snippetSupport"`
		} `json:"completionItem"`
	} `json:"completion"`
	DocumentSymbol struct {
		HierarchicalDocumentSymbolSupport bool `json:"hierarchicalDocumentSymbolSupport"`
	} `json:"documentSymbol"`
	Diagnostic struct {
		DynamicRegistration bool `json:"dynamicRegistration"`
	} `json:"diagnostic"`
}

type workspaceClientCapabilities struct {
	ApplyEdit        bool `json:"applyEdit"`
	WorkspaceFolders bool `json:"workspaceFolders"`
	Configuration    bool `json:"configuration"`
}

func staticClientCapabilities() clientCapabilities {
	caps := clientCapabilities{}
	caps.TextDocument.Synchronization.DidSave = true
	caps.TextDocument.PublishDiagnostics.RelatedInformation = true
	caps.TextDocument.Definition.LinkSupport = true
	caps.TextDocument.Hover.ContentFormat = []string{"markdown", "plaintext"}
	caps.TextDocument.Completion.CompletionItem.SnippetSupport = true
	caps.TextDocument.DocumentSymbol.HierarchicalDocumentSymbolSupport = true
	caps.Workspace.ApplyEdit = true
	caps.Workspace.WorkspaceFolders = true
	return caps
}

type initializeResult struct {
	Capabilities json.RawMessage `json:"capabilities"`
	ServerInfo   *lsp.ServerInfo `json:"serverInfo,omitempty"`
}

// Initialize performs the LSP handshake: initialize with the static client
// capabilities and the language's initializationOptions, the initialized
// notification, then the per-language warm-up hook.
func (c *Client) Initialize(ctx context.Context) error {
	rootURI := string(uriFromPath(c.rootPath))

	var result initializeResult
	err := c.Call(ctx, lsp.MethodInitialize, initializeParams{
		ProcessID:             os.Getpid(),
		RootPath:              c.rootPath,
		RootURI:               rootURI,
		Capabilities:          staticClientCapabilities(),
		InitializationOptions: c.lang.InitializationOptions,
		WorkspaceFolders: []workspaceFolder{
			{URI: rootURI, Name: c.rootPath},
		},
	}, &result)
	if err != nil {
		return err
	}

	var caps lsp.ServerCapabilities
	if len(result.Capabilities) != 0 {
		// tolerate capability shapes the typed struct doesn't cover
		_ = json.Unmarshal(result.Capabilities, &caps)
	}

	var rawCaps map[string]json.RawMessage
	pullDiagnostics := false
	if json.Unmarshal(result.Capabilities, &rawCaps) == nil {
		_, pullDiagnostics = rawCaps["diagnosticProvider"]
	}

	c.mu.Lock()
	c.caps = caps
	c.pullDiagnostics = pullDiagnostics
	c.initialized = true
	c.mu.Unlock()

	if err := c.Notify(ctx, lsp.MethodInitialized, struct{}{}); err != nil {
		return err
	}

	if c.lang.AfterInitialize != nil {
		if err := c.lang.AfterInitialize(ctx, c, c.rootPath); err != nil {
			return err
		}
	}

	return nil
}
