// Package archivetest builds tar.zst fixtures for tests.
package archivetest

import (
	"archive/tar"
	"bytes"
	"sort"
	"testing"

	"github.com/klauspost/compress/zstd"
)

// Build returns a tar.zst archive holding files (name -> content). Names may
// contain directories.
func Build(t testing.TB, files map[string]string) []byte {
	t.Helper()
	return build(t, files, nil)
}

// BuildCorrupt returns a tar.zst archive holding files followed by a block of
// garbage where the next tar header should be. The zstd frame itself is valid.
func BuildCorrupt(t testing.TB, files map[string]string) []byte {
	t.Helper()
	return build(t, files, bytes.Repeat([]byte{'A'}, 1024))
}

func build(t testing.TB, files map[string]string, garbage []byte) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for _, name := range names {
		content := files[name]
		hdr := &tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header %s: %v", name, err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write tar entry %s: %v", name, err)
		}
	}
	if garbage != nil {
		if err := tw.Flush(); err != nil {
			t.Fatalf("flush tar: %v", err)
		}
		tarBuf.Write(garbage)
	} else if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("create zstd encoder: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(tarBuf.Bytes(), nil)
}
