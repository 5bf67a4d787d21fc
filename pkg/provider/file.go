package provider

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// FileProvider fetches documents from local file:// URIs
type FileProvider struct{}

// NewFileProvider creates a new file document provider
func NewFileProvider() *FileProvider {
	return &FileProvider{}
}

// FilePath extracts the filesystem path from a file:// URI.
// Returns an empty string if the URI uses another scheme.
func FilePath(uri string) string {
	if !strings.HasPrefix(uri, "file://") {
		return ""
	}
	return strings.TrimPrefix(uri, "file://")
}

// Fetch reads a file and returns its content with detected content type.
// Non-text files yield metadata-only content (name, type, size, mtime lines)
// so they remain indexable without decoding the raw bytes.
func (p *FileProvider) Fetch(ctx context.Context, uri string) (*Document, error) {
	path := FilePath(uri)
	if path == "" {
		return nil, fmt.Errorf("unsupported URI scheme: %s", uri)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("uri points to a directory: %s", path)
	}

	contentType := DetectContentType(path)

	doc := &Document{
		ContentType: contentType,
		Metadata: map[string]string{
			"file_name": filepath.Base(path),
			"file_path": path,
		},
	}

	if strings.HasPrefix(contentType, "text/") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		doc.Content = string(data)
		return doc, nil
	}

	// Metadata-only content for binary/media files
	doc.Content = fmt.Sprintf("File: %s\nType: %s\nSize: %d bytes\nModified: %s",
		filepath.Base(path), contentType, info.Size(), info.ModTime().UTC().Format("2006-01-02T15:04:05Z"))
	return doc, nil
}

// DetectContentType resolves a content type from the file extension,
// falling back to a cheap text/binary sniff for unknown extensions.
func DetectContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt", ".log":
		return "text/plain"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		// Strip parameters like "; charset=utf-8"
		if i := strings.Index(ct, ";"); i >= 0 {
			ct = ct[:i]
		}
		return ct
	}
	if looksLikeText(path) {
		return "text/plain"
	}
	return "application/octet-stream"
}

// looksLikeText samples the start of a file and checks it decodes as UTF-8
// without NUL bytes.
func looksLikeText(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return false
	}
	sample := buf[:n]
	for _, b := range sample {
		if b == 0 {
			return false
		}
	}
	return utf8.Valid(sample) || n == len(buf)
}
