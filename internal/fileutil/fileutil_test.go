package fileutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain title",
			input:    "Moby Dick",
			expected: "Moby_Dick",
		},
		{
			name:     "path separators",
			input:    "TCP/IP Illustrated",
			expected: "TCP_IP_Illustrated",
		},
		{
			name:     "colon and question mark",
			input:    "Who Goes There?: A Novella",
			expected: "Who_Goes_There_A_Novella",
		},
		{
			name:     "windows reserved characters",
			input:    `a<b>c|d"e*f`,
			expected: "a_b_c_d_e_f",
		},
		{
			name:     "collapses repeated separators",
			input:    "a //  b",
			expected: "a_b",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, SanitizeFilename(tc.input))
		})
	}
}

func TestSanitizeFilenameTruncates(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	got := SanitizeFilename(string(long))
	assert.Len(t, got, 200)
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")

	assert.False(t, FileExists(path))

	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))
	assert.True(t, FileExists(path))

	// Directories are not files
	assert.False(t, FileExists(dir))
}

func TestFileExistsWithMinSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.epub")

	require.NoError(t, os.WriteFile(path, make([]byte, 512), 0644))

	assert.True(t, FileExistsWithMinSize(path, 512))
	assert.True(t, FileExistsWithMinSize(path, 100))
	assert.False(t, FileExistsWithMinSize(path, 1024))
	assert.False(t, FileExistsWithMinSize(filepath.Join(dir, "missing"), 1))
}

func TestWriteFileWithOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "out.bin")

	written, err := WriteFileWithOverwrite(path, []byte("first"), 0644, false)
	require.NoError(t, err)
	assert.True(t, written)

	// Existing file without overwrite is skipped
	written, err = WriteFileWithOverwrite(path, []byte("second"), 0644, false)
	require.NoError(t, err)
	assert.False(t, written)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	// Overwrite replaces the content
	written, err = WriteFileWithOverwrite(path, []byte("second"), 0644, true)
	require.NoError(t, err)
	assert.True(t, written)

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestWriteJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "books.json")

	type record struct {
		ISBN  string `json:"isbn"`
		Title string `json:"title"`
	}

	written, err := WriteJSONFile([]record{{ISBN: "9780141439600", Title: "A Tale of Two Cities"}}, path, false)
	require.NoError(t, err)
	assert.True(t, written)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "9780141439600")

	// Second write without overwrite is a no-op
	written, err = WriteJSONFile([]record{}, path, false)
	require.NoError(t, err)
	assert.False(t, written)
}
