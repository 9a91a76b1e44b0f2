package uploads

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ragbase/backend/go/internal/config"
	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/pkg/logger"
)

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(config.UploadConfig{
		Dir:               filepath.Join(t.TempDir(), "uploads"),
		MaxFileSize:       64,
		AllowedExtensions: []string{".txt", ".MD", "*.markdown"},
	}, append([]Option{WithLogger(logger.Discard())}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

type recordingMirror struct {
	names []string
	err   error
}

func (m *recordingMirror) Put(_ context.Context, name, path, _ string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	m.names = append(m.names, name)
	return m.err
}

func TestSaveAndOpen(t *testing.T) {
	m := &recordingMirror{}
	s := newStore(t, WithMirror(m))
	info, err := s.Save(context.Background(), "notes.txt", strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if info.Size != 11 || !strings.HasPrefix(info.ContentType, "text/plain") || !info.Mirrored {
		t.Errorf("info = %+v", info)
	}
	if len(m.names) != 1 || m.names[0] != "notes.txt" {
		t.Errorf("mirrored = %v", m.names)
	}

	f, _, err := s.Open("notes.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	buf := make([]byte, 32)
	n, _ := f.Read(buf)
	if string(buf[:n]) != "hello world" {
		t.Errorf("content = %q", buf[:n])
	}
}

func TestSaveRejections(t *testing.T) {
	s := newStore(t)
	tests := []struct {
		name, filename, body string
		want                 error
	}{
		{"extension", "report.docx", "x", errs.ErrUnsupportedFormat},
		{"too large", "big.txt", strings.Repeat("a", 65), errs.ErrValidation},
		{"traversal", "../escape.txt", "x", errs.ErrValidation},
		{"empty name", "", "x", errs.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Save(context.Background(), tt.filename, strings.NewReader(tt.body)); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	files, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("rejected uploads left files behind: %v", files)
	}
}

func TestAllowedIsCaseInsensitive(t *testing.T) {
	s := newStore(t)
	for _, name := range []string{"a.md", "B.MD", "c.Markdown", "d.TXT"} {
		if !s.Allowed(name) {
			t.Errorf("%s should be allowed", name)
		}
	}
	if s.Allowed("e.pdf") {
		t.Error("e.pdf should not be allowed")
	}
}

func TestMirrorFailureKeepsUpload(t *testing.T) {
	s := newStore(t, WithMirror(&recordingMirror{err: errors.New("bucket gone")}))
	info, err := s.Save(context.Background(), "a.txt", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if info.Mirrored {
		t.Error("failed mirror reported as mirrored")
	}
	if _, err := s.Stat("a.txt"); err != nil {
		t.Errorf("upload missing: %v", err)
	}
}

func TestOpenMissingIsNotFound(t *testing.T) {
	s := newStore(t)
	if _, _, err := s.Open("missing.txt"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Open: %v", err)
	}
	if _, err := s.Preview(context.Background(), "missing.txt", 10); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Preview: %v", err)
	}
}

func TestPreviewTruncates(t *testing.T) {
	s := newStore(t)
	if _, err := s.Save(context.Background(), "zh.txt", strings.NewReader("向量数据库检索增强生成")); err != nil {
		t.Fatal(err)
	}
	p, err := s.Preview(context.Background(), "zh.txt", 5)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if p.Content != "向量数据库" || !p.Truncated {
		t.Errorf("preview = %+v", p)
	}
	p, _ = s.Preview(context.Background(), "zh.txt", 0)
	if p.Truncated {
		t.Error("default preview length should fit the whole file")
	}
}

func TestListSortedAndSkipsTemp(t *testing.T) {
	s := newStore(t)
	for _, name := range []string{"b.txt", "a.md"} {
		if _, err := s.Save(context.Background(), name, strings.NewReader("x")); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), tempPrefix+"123"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	files, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0].Filename != "a.md" || files[1].Filename != "b.txt" {
		t.Errorf("files = %+v", files)
	}
}
