package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/logger"
)

// files moves processed PDFs out of the inbox: accepted documents into a
// per-year checked folder, everything else into the manual folder. Moves are
// best-effort and skipped entirely when no folders are configured.
type files struct {
	checkedDir string
	manualDir  string
	log        *logger.Logger
}

func (f *files) toChecked(doc Document, year int) {
	if f.checkedDir == "" {
		return
	}
	dest := filepath.Join(f.checkedDir, fmt.Sprintf("%d", year))
	f.move(doc, dest)
}

func (f *files) toManual(doc Document) {
	if f.manualDir == "" {
		return
	}
	f.move(doc, f.manualDir)
}

func (f *files) move(doc Document, destDir string) {
	const component = "FileMover"

	if err := os.MkdirAll(destDir, os.ModePerm); err != nil {
		f.log.Warn(component, "Failed to create folder: dir=%s error=%v", destDir, err)
		return
	}

	dest := filepath.Join(destDir, doc.Name)
	if err := moveFile(doc.Path, dest); err != nil {
		f.log.Warn(component, "Failed to move file: file=%s dest=%s error=%v", doc.Name, dest, err)
		return
	}
	f.log.Debug(component, "File moved: file=%s dest=%s", doc.Name, dest)
}

// moveFile renames src to dest, falling back to copy-and-delete when the
// two paths live on different filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Remove(src)
}
