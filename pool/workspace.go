package pool

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/lsmcp/lsmcp/helpers"
	"github.com/lsmcp/lsmcp/lsp"
)

// Workspace orchestrates tool requests against the pool: resolve the root,
// acquire a server, ensure the target documents are open, run the
// operation, and release everything on all exit paths.
type Workspace struct {
	pool *Pool
	fs   *helpers.SharedFS
	log  *log.Logger
}

func NewWorkspace(p *Pool, logger *log.Logger) *Workspace {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Workspace{
		pool: p,
		fs:   helpers.NewSharedFS(),
		log:  logger,
	}
}

func (w *Workspace) Pool() *Pool           { return w.pool }
func (w *Workspace) FS() *helpers.SharedFS { return w.fs }

// ReadFile reads a file, preferring open-document overlay contents.
func (w *Workspace) ReadFile(path string) ([]byte, error) {
	return w.fs.ReadFile(path)
}

// WithClient acquires the server for (root, language of relPath) and runs
// fn inside the acquire/release scope.
func (w *Workspace) WithClient(ctx context.Context, root string, relPath string, fn func(ctx context.Context, client *lsp.Client) error) error {
	lang, err := lsp.DetectLanguage(relPath)
	if err != nil {
		return err
	}

	handle, err := w.pool.Acquire(ctx, root, lang)
	if err != nil {
		return err
	}
	defer handle.Release()

	return fn(ctx, handle.Client())
}

// WithDocument opens relPath (transiently, unless already open), settles,
// and runs fn with the absolute document path.
func (w *Workspace) WithDocument(ctx context.Context, root string, relPath string, fn func(ctx context.Context, client *lsp.Client, absPath string) error) error {
	return w.WithDocuments(ctx, root, []string{relPath}, func(ctx context.Context, client *lsp.Client, absPaths []string) error {
		return fn(ctx, client, absPaths[0])
	})
}

// WithDocuments opens a set of documents on the server owning the first
// path's language; each document gets a languageId inferred from its own
// extension. Documents opened here are closed on success and failure.
func (w *Workspace) WithDocuments(ctx context.Context, root string, relPaths []string, fn func(ctx context.Context, client *lsp.Client, absPaths []string) error) error {
	if len(relPaths) == 0 {
		return fmt.Errorf("no documents given")
	}

	canonRoot, err := helpers.CanonicalRoot(root)
	if err != nil {
		return err
	}

	lang, err := lsp.DetectLanguage(relPaths[0])
	if err != nil {
		return err
	}

	handle, err := w.pool.Acquire(ctx, canonRoot, lang)
	if err != nil {
		return err
	}
	defer handle.Release()

	client := handle.Client()
	absPaths := make([]string, len(relPaths))
	var opened []string
	defer func() {
		closeCtx := context.WithoutCancel(ctx)
		for _, path := range opened {
			_ = client.Session().Close(closeCtx, path)
			_ = w.fs.Remove(path)
		}
	}()

	anyOpened := false
	for i, relPath := range relPaths {
		absPath := filepath.Join(canonRoot, relPath)
		absPaths[i] = absPath

		if client.Session().IsOpen(absPath) {
			continue
		}

		content, err := os.ReadFile(absPath)
		if err != nil {
			if os.IsNotExist(err) {
				return &FileNotFoundError{Path: relPath}
			}
			return err
		}

		if err := client.Session().Open(ctx, absPath, string(content)); err != nil {
			return err
		}
		if err := w.fs.WriteFile(absPath, content); err != nil {
			w.log.Printf("pool> overlay write failed for %s: %s\n", absPath, err.Error())
		}
		opened = append(opened, absPath)
		anyOpened = true
	}

	if anyOpened && lang.OpenDelay > 0 {
		select {
		case <-time.After(lang.OpenDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fn(ctx, client, absPaths)
}

// FileNotFoundError marks a request that named a file missing from disk.
type FileNotFoundError struct {
	Path string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("file not found: %s", e.Path)
}
