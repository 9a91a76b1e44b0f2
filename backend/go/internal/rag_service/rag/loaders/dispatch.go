package loaders

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/internal/rag_service/rag/interfaces"
	"ragbase/backend/go/internal/rag_service/rag/schema"
)

// SupportedExtensions lists the lower-cased extensions ForPath accepts.
var SupportedExtensions = []string{".pdf", ".md", ".markdown", ".txt", ".html", ".htm"}

// ForPath picks a loader by the lower-cased file extension.
func ForPath(path string) (interfaces.Loader, error) {
	switch Ext(path) {
	case ".pdf":
		return NewPdfLoader(), nil
	case ".md", ".markdown":
		return NewMarkdownLoader(), nil
	case ".txt":
		return NewTxtLoader(), nil
	case ".html", ".htm":
		return NewHTMLLoader(), nil
	default:
		return nil, errs.E(errs.KindUnsupportedFormat, "loaders.ForPath",
			"unsupported file type %q for %s", filepath.Ext(path), filepath.Base(path))
	}
}

// Ext returns the lower-cased extension including the dot.
func Ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// Load dispatches to the loader for path.
func Load(ctx context.Context, path string) ([]*schema.Document, error) {
	l, err := ForPath(path)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, path)
}

// Loaded is one successfully processed file.
type Loaded struct {
	Path string
	Docs []*schema.Document
}

// FileError records why one file of a batch failed.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", filepath.Base(e.Path), e.Err)
}

func (e FileError) Unwrap() error { return e.Err }

// ProcessFunc post-processes the documents of one file inside its worker,
// typically splitting them into chunks.
type ProcessFunc func(ctx context.Context, path string, docs []*schema.Document) ([]*schema.Document, error)

// BatchOptions controls LoadMany.
type BatchOptions struct {
	// Concurrency bounds the number of files processed at once. Zero means GOMAXPROCS.
	Concurrency int
	Process     ProcessFunc
}

// LoadMany loads all paths concurrently. A failing file never cancels its
// siblings: successes are returned in input order and failures are collected.
func LoadMany(ctx context.Context, paths []string, opts BatchOptions) ([]Loaded, []FileError) {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	results := make([][]*schema.Document, len(paths))
	failures := make([]error, len(paths))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			docs, err := Load(ctx, p)
			if err == nil && opts.Process != nil {
				docs, err = opts.Process(ctx, p, docs)
			}
			if err != nil {
				failures[i] = err
				return nil
			}
			results[i] = docs
			return nil
		})
	}
	_ = g.Wait()

	var (
		loaded []Loaded
		failed []FileError
	)
	for i, p := range paths {
		if failures[i] != nil {
			failed = append(failed, FileError{Path: p, Err: failures[i]})
			continue
		}
		loaded = append(loaded, Loaded{Path: p, Docs: results[i]})
	}
	return loaded, failed
}

func statFile(op, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errs.E(errs.KindNotFound, op, "file %s does not exist", filepath.Base(path))
		}
		return errs.Wrap(errs.KindInternal, op, err)
	}
	if info.IsDir() {
		return errs.E(errs.KindValidation, op, "%s is a directory", filepath.Base(path))
	}
	return nil
}
