package fileutil

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var filenameReplacer = strings.NewReplacer(
	":", " -",
	"：", " - ",
	"/", "-",
	"\\", "-",
	"*", "",
	"?", "",
	"？", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "-",
)

// SanitizeFilename makes a book title usable as a file name on every platform.
func SanitizeFilename(name string) string {
	return strings.Join(strings.Fields(filenameReplacer.Replace(name)), " ")
}

// FileExists reports whether a regular file (not a directory) exists.
func FileExists(filePath string) bool {
	info, err := os.Stat(filePath)
	return err == nil && !info.IsDir()
}

// WriteFileWithOverwrite writes data, creating parent directories. An
// existing file is left alone unless overwrite is set; the bool reports
// whether anything was written.
func WriteFileWithOverwrite(filePath string, data []byte, perm os.FileMode, overwrite bool) (bool, error) {
	if !overwrite && FileExists(filePath) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return false, fmt.Errorf("creating directory for %s: %w", filePath, err)
	}
	if err := os.WriteFile(filePath, data, perm); err != nil {
		return false, fmt.Errorf("writing %s: %w", filePath, err)
	}
	return true, nil
}

// WriteDataFile writes data as YAML when the path ends in .yaml or .yml and
// as indented JSON otherwise, respecting the overwrite flag.
func WriteDataFile(data any, filePath string, overwrite bool) (bool, error) {
	if FileExists(filePath) && !overwrite {
		slog.Info("Output file already exists, skipping", "filename", filePath, "overwrite", overwrite)
		return false, nil
	}

	var (
		encoded []byte
		err     error
	)
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		encoded, err = yaml.Marshal(data)
	default:
		encoded, err = json.MarshalIndent(data, "", "  ")
	}
	if err != nil {
		return false, fmt.Errorf("failed to encode %s: %w", filePath, err)
	}

	slog.Info("Writing output file", "filename", filePath, "overwrite", overwrite)
	written, err := WriteFileWithOverwrite(filePath, encoded, 0o644, true)
	if err != nil {
		return false, err
	}
	return written, nil
}
