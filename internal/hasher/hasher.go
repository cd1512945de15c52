// Package hasher provides streaming SHA256 hashing and content metadata for
// exported recordings.
package hasher

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Metadata holds computed export metadata.
type Metadata struct {
	Hash      string         // hex-encoded SHA256
	Size      int64          // payload size in bytes
	Extension string         // file extension
	MimeType  string         // sniffed content type
	Extra     map[string]any // lines/records for text, entries for archives
}

// ETag returns the strong entity tag for the payload.
func (m *Metadata) ETag() string {
	return `"` + m.Hash + `"`
}

// ComputeMetadata streams the file through SHA256 and returns its metadata.
func ComputeMetadata(filePath string) (*Metadata, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("hasher: open file: %w", err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("hasher: read head: %w", err)
	}
	mimeType := http.DetectContentType(head[:n])

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("hasher: seek: %w", err)
	}

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return nil, fmt.Errorf("hasher: copy: %w", err)
	}

	meta := &Metadata{
		Hash:      hex.EncodeToString(h.Sum(nil)),
		Size:      size,
		Extension: filepath.Ext(filePath),
		MimeType:  mimeType,
		Extra:     map[string]any{},
	}

	switch {
	case strings.HasPrefix(mimeType, "text/"):
		if lines, err := countLines(filePath); err == nil {
			meta.Extra["lines"] = lines
			if lines > 0 {
				meta.Extra["records"] = lines - 1
			}
		}
	case mimeType == "application/zip":
		if entries, err := countEntries(filePath); err == nil {
			meta.Extra["entries"] = entries
		}
	}
	return meta, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		lines++
	}
	return lines, scanner.Err()
}

func countEntries(path string) (int, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return 0, err
	}
	defer zr.Close()
	return len(zr.File), nil
}
