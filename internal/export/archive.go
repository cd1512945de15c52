package export

import (
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"
)

// Archive writes one zip entry per recording.
type Archive struct {
	zw      *zip.Writer
	entries int
}

// NewArchive starts a zip stream on w.
func NewArchive(w io.Writer) *Archive {
	return &Archive{zw: zip.NewWriter(w)}
}

// Create opens a deflated entry called name. The previous entry's writer
// becomes invalid.
func (a *Archive) Create(name string, modified time.Time) (io.Writer, error) {
	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	}
	w, err := a.zw.CreateHeader(hdr)
	if err != nil {
		return nil, fmt.Errorf("archive entry %s: %w", name, err)
	}
	a.entries++
	return w, nil
}

// Entries is the number of entries created so far.
func (a *Archive) Entries() int { return a.entries }

// Close writes the central directory. It does not close the underlying writer.
func (a *Archive) Close() error {
	if err := a.zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}
