package lsp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kballard/go-shellquote"
)

// Language describes how one language server is spawned and driven: the
// command, the file extensions it owns, its initialization options, and the
// timing profile (settle delay after the first didOpen, per-operation
// timeout).
type Language struct {
	ID         string
	Extensions []string
	Command    []string

	OpenDelay        time.Duration
	OperationTimeout time.Duration

	InitializationOptions map[string]any

	// AfterInitialize runs once after the initialized notification,
	// e.g. pre-opening project files or waiting for a readiness signal.
	AfterInitialize func(ctx context.Context, c *Client, root string) error
}

const (
	defaultOpenDelay        = 500 * time.Millisecond
	defaultOperationTimeout = 30 * time.Second
)

var languages = []*Language{
	{
		ID:               "typescript",
		Extensions:       []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"},
		Command:          []string{"typescript-language-server", "--stdio"},
		OpenDelay:        defaultOpenDelay,
		OperationTimeout: defaultOperationTimeout,
		AfterInitialize:  preOpenProjectFiles,
	},
	{
		ID:               "rust",
		Extensions:       []string{".rs"},
		Command:          []string{"rust-analyzer"},
		OpenDelay:        1500 * time.Millisecond,
		OperationTimeout: 60 * time.Second,
		AfterInitialize:  awaitFirstDiagnostics,
	},
	{
		ID:               "python",
		Extensions:       []string{".py", ".pyi"},
		Command:          []string{"pyright-langserver", "--stdio"},
		OpenDelay:        1000 * time.Millisecond,
		OperationTimeout: defaultOperationTimeout,
	},
	{
		ID:               "go",
		Extensions:       []string{".go"},
		Command:          []string{"gopls"},
		OpenDelay:        defaultOpenDelay,
		OperationTimeout: defaultOperationTimeout,
	},
}

var languagesByID map[string]*Language

var languagesByExt map[string]*Language

func init() {
	m := map[string]*Language{}
	for _, lang := range languages {
		m[lang.ID] = lang
	}
	// aliases seen in the wild
	m["javascript"] = m["typescript"]
	m["pyright"] = m["python"]
	m["pylsp"] = m["python"]
	languagesByID = m

	byExt := map[string]*Language{}
	for _, lang := range languages {
		for _, ext := range lang.Extensions {
			byExt[ext] = lang
		}
	}
	languagesByExt = byExt
}

// LanguageByID looks up a language profile by identifier. The
// LSMCP_SERVER_COMMAND environment variable overrides the spawn command.
func LanguageByID(id string) (*Language, error) {
	lang, ok := languagesByID[id]
	if !ok {
		return nil, fmt.Errorf("unknown language %q", id)
	}
	return withOverrides(lang)
}

// DetectLanguage infers the language for a file from its extension.
// LSMCP_FORCE_LANGUAGE overrides detection entirely.
func DetectLanguage(path string) (*Language, error) {
	if forced := os.Getenv("LSMCP_FORCE_LANGUAGE"); len(forced) != 0 {
		return LanguageByID(forced)
	}

	ext := filepath.Ext(path)
	lang, ok := languagesByExt[ext]
	if !ok {
		return nil, fmt.Errorf("no language server configured for %q files", ext)
	}
	return withOverrides(lang)
}

// LanguageIDForFile returns the LSP languageId to attach to a didOpen of the
// given file. Files outside the language's own extension set fall back to
// plaintext so multi-language analyses can still open them.
func LanguageIDForFile(path string) string {
	if lang, ok := languagesByExt[filepath.Ext(path)]; ok {
		return lang.ID
	}
	return "plaintext"
}

func withOverrides(lang *Language) (*Language, error) {
	override := os.Getenv("LSMCP_SERVER_COMMAND")
	if len(override) == 0 {
		return lang, nil
	}

	cmd, err := shellquote.Split(override)
	if err != nil {
		return nil, fmt.Errorf("invalid LSMCP_SERVER_COMMAND: %w", err)
	} else if len(cmd) == 0 {
		return lang, nil
	}

	copied := *lang
	copied.Command = cmd
	return &copied, nil
}

// SetCommandOverride installs a spawn command override for the process,
// equivalent to setting LSMCP_SERVER_COMMAND.
func SetCommandOverride(command string) {
	os.Setenv("LSMCP_SERVER_COMMAND", command)
}

// preOpenProjectFiles opens a handful of source files at the project root so
// servers that load lazily start resolving the project graph early.
func preOpenProjectFiles(ctx context.Context, c *Client, root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}

	opened := 0
	for _, entry := range entries {
		if entry.IsDir() || opened >= 3 {
			continue
		}

		ext := filepath.Ext(entry.Name())
		if lang, ok := languagesByExt[ext]; !ok || lang.ID != c.Language().ID {
			continue
		}

		path := filepath.Join(root, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		if err := c.Session().Open(ctx, path, string(content)); err == nil {
			opened++
		}
	}
	return nil
}

// awaitFirstDiagnostics blocks until the server pushes its first
// publishDiagnostics, which some servers use as an implicit readiness
// signal. Timing out is not an error; the settle delay covers the rest.
func awaitFirstDiagnostics(ctx context.Context, c *Client, root string) error {
	c.Diagnostics().WaitForAny(c.Language().OpenDelay)
	return nil
}
