package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilePath(t *testing.T) {
	assert.Equal(t, "/tmp/notes.md", FilePath("file:///tmp/notes.md"))
	assert.Equal(t, "", FilePath("https://example.com/notes.md"))
	assert.Equal(t, "", FilePath("/tmp/notes.md"))
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"notes.md", "text/markdown"},
		{"NOTES.MARKDOWN", "text/markdown"},
		{"app.log", "text/plain"},
		{"readme.txt", "text/plain"},
		{"data.json", "application/json"},
		{"photo.png", "image/png"},
		{"photo.jpg", "image/jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectContentType(tt.path))
		})
	}

	t.Run("unknown extension sniffs content", func(t *testing.T) {
		dir := t.TempDir()

		textPath := filepath.Join(dir, "script.unknownext")
		require.NoError(t, os.WriteFile(textPath, []byte("plain utf-8 text"), 0644))
		assert.Equal(t, "text/plain", DetectContentType(textPath))

		binPath := filepath.Join(dir, "blob.unknownext")
		require.NoError(t, os.WriteFile(binPath, []byte{0x00, 0x01, 0x02, 0xFF}, 0644))
		assert.Equal(t, "application/octet-stream", DetectContentType(binPath))
	})
}

func TestFileProviderFetch(t *testing.T) {
	p := NewFileProvider()
	ctx := context.Background()

	t.Run("text file returns content", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "notes.txt")
		require.NoError(t, os.WriteFile(path, []byte("hello from disk"), 0644))

		doc, err := p.Fetch(ctx, "file://"+path)
		require.NoError(t, err)
		assert.Equal(t, "hello from disk", doc.Content)
		assert.Equal(t, "text/plain", doc.ContentType)
		assert.Equal(t, "notes.txt", doc.Metadata["file_name"])
		assert.Equal(t, path, doc.Metadata["file_path"])
	})

	t.Run("binary file returns metadata content", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "image.png")
		require.NoError(t, os.WriteFile(path, []byte{0x89, 0x50, 0x4E, 0x47}, 0644))

		doc, err := p.Fetch(ctx, "file://"+path)
		require.NoError(t, err)
		assert.Equal(t, "image/png", doc.ContentType)
		assert.Contains(t, doc.Content, "File: image.png")
		assert.Contains(t, doc.Content, "Type: image/png")
		assert.Contains(t, doc.Content, "Size: 4 bytes")
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := p.Fetch(ctx, "https://example.com/x")
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := p.Fetch(ctx, "file://"+filepath.Join(t.TempDir(), "gone.txt"))
		assert.Error(t, err)
	})

	t.Run("directory", func(t *testing.T) {
		_, err := p.Fetch(ctx, "file://"+t.TempDir())
		assert.Error(t, err)
	})
}
