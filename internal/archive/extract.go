package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/argusai/testrun-investigator/internal/models"
)

// Extract unpacks a tar.zst archive into destDir and returns the extracted
// log files keyed by stream. Only actions.log and raw_events.log are written,
// always under their bare names in destDir; the first match wins when the
// archive nests them in subdirectories. A missing log is not an error.
//
// Entries are staged in a temporary directory and moved into destDir only
// after the whole archive has been read, so a corrupt archive leaves no
// log files behind.
func Extract(archivePath, destDir string) (map[models.Stream]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, &ExtractionError{Path: archivePath, Err: err}
	}
	defer f.Close()

	if fi, err := f.Stat(); err == nil && fi.Size() == 0 {
		return nil, &ExtractionError{Path: archivePath, Err: errors.New("archive is empty")}
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, &ExtractionError{Path: archivePath, Err: fmt.Errorf("zstd: %w", err)}
	}
	defer dec.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create extract dir: %w", err)
	}
	staging, err := os.MkdirTemp(destDir, ".extract-")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	staged := make(map[models.Stream]string, 2)
	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ExtractionError{Path: archivePath, Err: err}
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		stream, ok := models.StreamForFile(path.Base(hdr.Name))
		if !ok {
			continue
		}
		if _, seen := staged[stream]; seen {
			continue
		}

		out := filepath.Join(staging, stream.Descriptor().FileName)
		if err := writeEntry(tr, out); err != nil {
			var ee *ExtractionError
			if errors.As(err, &ee) {
				ee.Path = archivePath
			}
			return nil, err
		}
		staged[stream] = out
	}

	found := make(map[models.Stream]string, len(staged))
	for _, stream := range models.Streams() {
		tmp, ok := staged[stream]
		if !ok {
			continue
		}
		out := filepath.Join(destDir, stream.Descriptor().FileName)
		if err := os.Rename(tmp, out); err != nil {
			for _, p := range found {
				_ = os.Remove(p)
			}
			return nil, fmt.Errorf("move %s into place: %w", out, err)
		}
		found[stream] = out
	}
	return found, nil
}

// writeEntry copies the current tar entry to out via a temporary file.
// Read failures mean a corrupt container; write failures are plain I/O errors.
func writeEntry(r io.Reader, out string) error {
	tmp := out + ".tmp"
	w, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	_, copyErr := io.CopyBuffer(w, readErrMarker{r}, make([]byte, chunkSize))
	closeErr := w.Close()

	if copyErr != nil {
		_ = os.Remove(tmp)
		var re readError
		if errors.As(copyErr, &re) {
			return &ExtractionError{Err: re.err}
		}
		return fmt.Errorf("write %s: %w", out, copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", out, closeErr)
	}
	return os.Rename(tmp, out)
}

type readError struct{ err error }

func (e readError) Error() string { return e.err.Error() }
func (e readError) Unwrap() error { return e.err }

// readErrMarker tags errors coming from the archive side of a copy.
type readErrMarker struct{ r io.Reader }

func (m readErrMarker) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, readError{err}
	}
	return n, err
}
