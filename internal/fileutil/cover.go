package fileutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// HTTPDoer is an interface for making HTTP requests.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// CoverDownloadOptions holds options for downloading cover images.
type CoverDownloadOptions struct {
	// URL is the resolved cover image URL
	URL string
	// OutputDir is the directory where the cover will be saved
	OutputDir string
	// Filename is the name of the cover file without extension
	Filename string
	// Overwrite forces re-downloading even if the cover exists
	Overwrite bool
	// Client defaults to a client with a 30 second timeout
	Client HTTPDoer
}

// CoverDownloadResult holds the result of a cover download operation.
type CoverDownloadResult struct {
	// Downloaded indicates if a new file was downloaded
	Downloaded bool
	// LocalPath is the full path to the downloaded cover
	LocalPath string
	// Filename is just the filename
	Filename string
}

// DownloadCover saves a resolved cover image into OutputDir. The extension
// follows the response content type. Existing files are kept unless
// Overwrite is set.
func DownloadCover(ctx context.Context, opts CoverDownloadOptions) (*CoverDownloadResult, error) {
	if opts.URL == "" {
		return nil, nil
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cover directory: %w", err)
	}

	// Any previously saved variant of this cover counts as present.
	if !opts.Overwrite {
		for _, ext := range []string{".jpg", ".png", ".gif", ".webp"} {
			localPath := filepath.Join(opts.OutputDir, opts.Filename+ext)
			if FileExists(localPath) {
				slog.Debug("Cover already exists, skipping download", "path", localPath)
				return &CoverDownloadResult{LocalPath: localPath, Filename: opts.Filename + ext}, nil
			}
		}
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cover request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download cover: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d downloading cover from %s", resp.StatusCode, opts.URL)
	}

	filename := opts.Filename + imageExtension(resp.Header.Get("Content-Type"))
	localPath := filepath.Join(opts.OutputDir, filename)

	file, err := os.Create(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create cover file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := io.Copy(file, resp.Body); err != nil {
		return nil, fmt.Errorf("failed to write cover file: %w", err)
	}

	slog.Info("Downloaded cover", "path", localPath)
	return &CoverDownloadResult{Downloaded: true, LocalPath: localPath, Filename: filename}, nil
}

func imageExtension(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".jpg"
	}
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

// BuildCoverFilename creates a cover filename stem, preferring the ISBN.
// Returns "9784834000825" or "Title - Author".
func BuildCoverFilename(title, author, isbn string) string {
	if isbn != "" {
		return SanitizeFilename(isbn)
	}
	if author == "" {
		return SanitizeFilename(title)
	}
	return SanitizeFilename(title + " - " + author)
}
