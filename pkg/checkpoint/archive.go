package checkpoint

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// ErrUnsafeArchivePath is returned for archive entries escaping the target directory.
var ErrUnsafeArchivePath = errors.New("archive entry escapes target directory")

const (
	archiveExtension = ".tar.lz4"
	tmpSuffix        = ".tmp"
	filePerm         = 0o600
)

// writeArchive streams every regular file under srcDir into w as an LZ4-framed tar.
// In-flight temporary files are skipped.
func writeArchive(ctx context.Context, srcDir string, w io.Writer) error {
	zw := lz4.NewWriter(w)
	tw := tar.NewWriter(zw)

	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		ctxErr := ctx.Err()
		if ctxErr != nil {
			return ctxErr
		}

		if !d.Type().IsRegular() || strings.HasSuffix(path, tmpSuffix) {
			return nil
		}

		rel, relErr := filepath.Rel(srcDir, path)
		if relErr != nil {
			return relErr
		}

		return addFile(tw, path, filepath.ToSlash(rel))
	})
	if walkErr != nil {
		return fmt.Errorf("archive %s: %w", srcDir, walkErr)
	}

	closeErr := errors.Join(tw.Close(), zw.Close())
	if closeErr != nil {
		return fmt.Errorf("finish archive: %w", closeErr)
	}

	return nil
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}

	hdr.Name = name

	headerErr := tw.WriteHeader(hdr)
	if headerErr != nil {
		return headerErr
	}

	_, copyErr := io.Copy(tw, f)

	return copyErr
}

// Restore unpacks an archive produced by Archive into dstDir.
func Restore(archivePath, dstDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	tr := tar.NewReader(lz4.NewReader(f))
	root := filepath.Clean(dstDir)

	for {
		hdr, nextErr := tr.Next()
		if errors.Is(nextErr, io.EOF) {
			return nil
		}

		if nextErr != nil {
			return fmt.Errorf("read archive: %w", nextErr)
		}

		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		target := filepath.Join(root, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return fmt.Errorf("%w: %s", ErrUnsafeArchivePath, hdr.Name)
		}

		extractErr := extractFile(tr, target)
		if extractErr != nil {
			return fmt.Errorf("extract %s: %w", hdr.Name, extractErr)
		}
	}
}

func extractFile(r io.Reader, target string) error {
	mkdirErr := os.MkdirAll(filepath.Dir(target), dirPerm)
	if mkdirErr != nil {
		return mkdirErr
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return err
	}

	//nolint:gosec // Archives are produced by this package from the run's own output.
	_, copyErr := io.Copy(out, r)

	return errors.Join(copyErr, out.Close())
}
