// Package uploads 管理上传目录中的原始文件：保存、列出、预览与下载，
// 并可选地把每个文件镜像到 MinIO。
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/djherbis/times"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gobwas/glob"

	"ragbase/backend/go/internal/config"
	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/internal/rag_service/rag/loaders"
	"ragbase/backend/go/pkg/logger"
)

// DefaultPreviewLength 是预览返回的最大字符数。
const DefaultPreviewLength = 2000

const tempPrefix = ".upload-"

// Mirror 接收已保存文件的副本。*minio.Mirror 实现了它。
type Mirror interface {
	Put(ctx context.Context, name, path, contentType string) error
}

// FileInfo 描述上传目录中的一个文件。
type FileInfo struct {
	Filename    string     `json:"filename"`
	Size        int64      `json:"size"`
	ContentType string     `json:"content_type"`
	ModTime     time.Time  `json:"modified_at"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	Mirrored    bool       `json:"mirrored,omitempty"`
}

// Preview 是文件开头的文本内容。
type Preview struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
	Truncated   bool   `json:"truncated"`
}

// Store 是基于本地目录的上传存储。
type Store struct {
	dir      string
	maxSize  int64
	patterns []glob.Glob
	mirror   Mirror
	log      logger.Logger
}

// Option 配置 Store。
type Option func(*Store)

// WithMirror 为每次保存启用镜像。
func WithMirror(m Mirror) Option {
	return func(s *Store) { s.mirror = m }
}

// WithLogger 设置日志记录器。
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New 创建上传目录（如不存在）并编译扩展名白名单。
// 白名单条目可以是扩展名（".pdf"）或 glob 模式（"*.md"），匹配时忽略大小写。
func New(cfg config.UploadConfig, opts ...Option) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errs.E(errs.KindValidation, "uploads.New", "upload dir is required")
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "uploads.New", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("无法创建上传目录 %s: %w", dir, err)
	}

	s := &Store{dir: dir, maxSize: cfg.MaxFileSize, log: logger.New("uploads")}
	for _, ext := range cfg.AllowedExtensions {
		pattern := strings.ToLower(strings.TrimSpace(ext))
		if strings.HasPrefix(pattern, ".") {
			pattern = "*" + pattern
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, errs.E(errs.KindValidation, "uploads.New", "invalid extension pattern %q: %v", ext, err)
		}
		s.patterns = append(s.patterns, g)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir 返回上传目录的绝对路径。
func (s *Store) Dir() string { return s.dir }

// Allowed 报告文件名是否在白名单内。白名单为空时接受所有文件。
func (s *Store) Allowed(name string) bool {
	if len(s.patterns) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, g := range s.patterns {
		if g.Match(lower) {
			return true
		}
	}
	return false
}

// Path 返回 name 在上传目录中的路径。name 中的目录部分会被拒绝。
func (s *Store) Path(name string) (string, error) {
	clean := filepath.Base(name)
	if name == "" || clean != name || clean == "." || clean == ".." || strings.HasPrefix(clean, tempPrefix) {
		return "", errs.E(errs.KindValidation, "uploads.Path", "invalid filename %q", name)
	}
	return filepath.Join(s.dir, clean), nil
}

// Save 将 r 的内容写入 name。超过大小上限或扩展名不在白名单内时返回错误，
// 且不会留下部分文件。镜像失败只记录日志。
func (s *Store) Save(ctx context.Context, name string, r io.Reader) (FileInfo, error) {
	const op = "uploads.Save"
	path, err := s.Path(name)
	if err != nil {
		return FileInfo{}, err
	}
	if !s.Allowed(name) {
		return FileInfo{}, errs.E(errs.KindUnsupportedFormat, op, "file type %q is not allowed", filepath.Ext(name))
	}

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return FileInfo{}, errs.Wrap(errs.KindInternal, op, err)
	}
	defer os.Remove(tmp.Name())

	src := r
	if s.maxSize > 0 {
		src = io.LimitReader(r, s.maxSize+1)
	}
	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return FileInfo{}, errs.Wrap(errs.KindInternal, op, err)
	}
	if s.maxSize > 0 && n > s.maxSize {
		return FileInfo{}, errs.E(errs.KindValidation, op, "file %s exceeds the %d byte limit", name, s.maxSize)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return FileInfo{}, errs.Wrap(errs.KindInternal, op, err)
	}

	info, err := s.stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	s.log.WithFields(map[string]interface{}{"file": name, "size": n}).Info("文件上传成功")

	if s.mirror != nil {
		if err := s.mirror.Put(ctx, name, path, info.ContentType); err != nil {
			s.log.WithError(err).WithField("file", name).Warn("文件镜像失败")
		} else {
			info.Mirrored = true
		}
	}
	return info, nil
}

// Open 打开 name 供读取。文件不存在时返回 NotFound。
func (s *Store) Open(name string) (*os.File, FileInfo, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, FileInfo{}, err
	}
	info, err := s.stat(path)
	if err != nil {
		return nil, FileInfo{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, FileInfo{}, errs.Wrap(errs.KindInternal, "uploads.Open", err)
	}
	return f, info, nil
}

// Stat 返回 name 的文件信息。
func (s *Store) Stat(name string) (FileInfo, error) {
	path, err := s.Path(name)
	if err != nil {
		return FileInfo{}, err
	}
	return s.stat(path)
}

// Preview 用对应的文档加载器提取文本，返回前 n 个字符（n <= 0 时使用 DefaultPreviewLength）。
func (s *Store) Preview(ctx context.Context, name string, n int) (Preview, error) {
	if n <= 0 {
		n = DefaultPreviewLength
	}
	path, err := s.Path(name)
	if err != nil {
		return Preview{}, err
	}
	info, err := s.stat(path)
	if err != nil {
		return Preview{}, err
	}
	docs, err := loaders.Load(ctx, path)
	if err != nil {
		return Preview{}, err
	}
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Text)
	}
	content := strings.Join(parts, "\n")

	p := Preview{Filename: name, ContentType: info.ContentType, Content: content}
	if utf8.RuneCountInString(content) > n {
		p.Content = string([]rune(content)[:n])
		p.Truncated = true
	}
	return p, nil
}

// List 返回上传目录中的所有文件，按文件名排序。
func (s *Store) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "uploads.List", err)
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		info, err := s.stat(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.log.WithError(err).WithField("file", e.Name()).Warn("读取文件信息失败")
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

func (s *Store) stat(path string) (FileInfo, error) {
	const op = "uploads.Stat"
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileInfo{}, errs.E(errs.KindNotFound, op, "文件 %s 不存在", filepath.Base(path))
		}
		return FileInfo{}, errs.Wrap(errs.KindInternal, op, err)
	}
	if fi.IsDir() {
		return FileInfo{}, errs.E(errs.KindNotFound, op, "文件 %s 不存在", filepath.Base(path))
	}

	info := FileInfo{Filename: fi.Name(), Size: fi.Size(), ModTime: fi.ModTime(), ContentType: "application/octet-stream"}
	if mt, err := mimetype.DetectFile(path); err == nil {
		info.ContentType = mt.String()
	}
	if ts, err := times.Stat(path); err == nil && ts.HasBirthTime() {
		bt := ts.BirthTime()
		info.CreatedAt = &bt
	}
	return info, nil
}
