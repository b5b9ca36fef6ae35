package fileutil

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/coverfinder/internal/testutil"
)

func TestBuildCoverFilename(t *testing.T) {
	testCases := []struct {
		name     string
		title    string
		author   string
		isbn     string
		expected string
	}{
		{
			name:     "isbn preferred",
			title:    "ぐりとぐら",
			author:   "なかがわりえこ",
			isbn:     "9784834000825",
			expected: "9784834000825",
		},
		{
			name:     "title and author",
			title:    "Book: Subtitle",
			author:   "Someone",
			expected: "Book - Subtitle - Someone",
		},
		{
			name:     "title only",
			title:    "Book/Part",
			expected: "Book-Part",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, BuildCoverFilename(tc.title, tc.author, tc.isbn))
		})
	}
}

func TestDownloadCover_EmptyURL(t *testing.T) {
	result, err := DownloadCover(context.Background(), CoverDownloadOptions{
		URL:       "",
		OutputDir: "/tmp",
		Filename:  "test",
	})
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestDownloadCover_Success(t *testing.T) {
	server := testutil.NewIPv4TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("fake image data"))
	}))

	env := testutil.NewTestEnv(t)
	outDir := env.Path("covers")

	result, err := DownloadCover(context.Background(), CoverDownloadOptions{
		URL:       server.URL,
		OutputDir: outDir,
		Filename:  "9784834000825",
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Downloaded)
	assert.Equal(t, "9784834000825.png", result.Filename)
	assert.Equal(t, filepath.Join(outDir, "9784834000825.png"), result.LocalPath)
	assert.True(t, FileExists(result.LocalPath))
}

func TestDownloadCover_SkipsExisting(t *testing.T) {
	server := testutil.NewIPv4TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("new image data"))
	}))

	env := testutil.NewTestEnv(t)
	existing := env.WriteFileString("covers/existing.jpg", "old image data")

	result, err := DownloadCover(context.Background(), CoverDownloadOptions{
		URL:       server.URL,
		OutputDir: filepath.Dir(existing),
		Filename:  "existing",
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Downloaded, "Should not download when file exists and Overwrite is false")

	content, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "old image data", string(content))
}

func TestDownloadCover_OverwritesExisting(t *testing.T) {
	server := testutil.NewIPv4TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("new image data"))
	}))

	env := testutil.NewTestEnv(t)
	existing := env.WriteFileString("covers/existing.jpg", "old image data")

	result, err := DownloadCover(context.Background(), CoverDownloadOptions{
		URL:       server.URL,
		OutputDir: filepath.Dir(existing),
		Filename:  "existing",
		Overwrite: true,
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Downloaded, "Should download when Overwrite is true")

	content, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "new image data", string(content))
}

func TestDownloadCover_HTTPError(t *testing.T) {
	server := testutil.NewIPv4TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	env := testutil.NewTestEnv(t)

	result, err := DownloadCover(context.Background(), CoverDownloadOptions{
		URL:       server.URL,
		OutputDir: env.RootDir(),
		Filename:  "test-cover",
	})

	assert.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "unexpected status 404")
}

func TestImageExtension(t *testing.T) {
	assert.Equal(t, ".png", imageExtension("image/png"))
	assert.Equal(t, ".webp", imageExtension("image/webp; charset=binary"))
	assert.Equal(t, ".jpg", imageExtension("image/jpeg"))
	assert.Equal(t, ".jpg", imageExtension(""))
}
