package engine

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"
)

// ArchiveStats counts the entries of a transformed archive.
type ArchiveStats struct {
	Entries     int
	Classes     int
	Transformed int
}

// TransformArchive copies the jar r to w, passing every .class entry
// through Transform. Other entries are copied without recompression.
// A fatal error stops the copy and is returned; w then holds a partial
// archive.
func (e *Engine) TransformArchive(r io.ReaderAt, size int64, w io.Writer) (ArchiveStats, error) {
	var stats ArchiveStats
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return stats, fmt.Errorf("engine: open archive: %w", err)
	}
	zw := zip.NewWriter(w)
	for _, f := range zr.File {
		stats.Entries++
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, ".class") {
			if err := zw.Copy(f); err != nil {
				return stats, fmt.Errorf("engine: copy %s: %w", f.Name, err)
			}
			continue
		}
		stats.Classes++
		data, err := readEntry(f)
		if err != nil {
			return stats, err
		}
		done := e.transformed
		out, err := e.Transform(f.Name, data)
		if err != nil {
			return stats, fmt.Errorf("%s: %w", f.Name, err)
		}
		stats.Transformed += e.transformed - done
		ew, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.Name,
			Comment:  f.Comment,
			Method:   zip.Deflate,
			Modified: f.Modified,
		})
		if err != nil {
			return stats, fmt.Errorf("engine: write %s: %w", f.Name, err)
		}
		if _, err := ew.Write(out); err != nil {
			return stats, fmt.Errorf("engine: write %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return stats, fmt.Errorf("engine: close archive: %w", err)
	}
	return stats, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("engine: open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("engine: read %s: %w", f.Name, err)
	}
	return data, nil
}
