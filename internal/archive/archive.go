// Package archive packs a downloaded gallery folder into a comic book archive.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	fileutil "galleryfetch/internal/file"
)

// ErrEmpty is returned when the folder holds no page images.
var ErrEmpty = errors.New("no pages to archive")

const coverBase = "cover"

// Result describes one file written into the archive.
type Result struct {
	Filename string
	Entry    string
	Bytes    int64
}

// PackDir writes the images of srcDir into a .cbz at destPath. The cover comes
// first, then pages in numeric order with zero-padded entry names so readers
// sort them correctly. With pageCount > 0 only pages 1..pageCount are packed.
// The archive replaces destPath atomically.
func PackDir(ctx context.Context, srcDir, destPath string, pageCount int) ([]Result, error) {
	pages, cover, err := collect(srcDir)
	if err != nil {
		return nil, err
	}
	if pageCount > 0 {
		pages = slices.DeleteFunc(pages, func(p page) bool { return p.number > pageCount })
	}
	if len(pages) == 0 {
		return nil, ErrEmpty
	}

	width := len(strconv.Itoa(len(pages)))
	if width < 3 {
		width = 3
	}
	plan := make([]Result, 0, len(pages)+1)
	if cover != "" {
		plan = append(plan, Result{Filename: cover, Entry: strings.Repeat("0", width) + "_" + filepath.Base(cover)})
	}
	for _, p := range pages {
		plan = append(plan, Result{Filename: p.name, Entry: fmt.Sprintf("%0*d%s", width, p.number, filepath.Ext(p.name))})
	}

	err = fileutil.WriteStreamAtomic(destPath, func(w io.Writer) error {
		zipWriter := zip.NewWriter(w)
		for i := range plan {
			if err := ctx.Err(); err != nil {
				_ = zipWriter.Close()
				return err //nolint:wrapcheck
			}
			n, err := addFile(zipWriter, filepath.Join(srcDir, plan[i].Filename), plan[i].Entry)
			if err != nil {
				_ = zipWriter.Close()
				return err
			}
			plan[i].Bytes = n
		}
		if err := zipWriter.Close(); err != nil {
			return fmt.Errorf("close zip writer: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Error().Str("dir", srcDir).Err(err).Msg("pack archive failed")
		return nil, err
	}
	return plan, nil
}

// PrunePages deletes numbered pages above keep, left behind by an earlier run
// of the same gallery. It returns how many files were removed.
func PrunePages(srcDir string, keep int) (int, error) {
	pages, _, err := collect(srcDir)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, p := range pages {
		if p.number <= keep {
			continue
		}
		if err := os.Remove(filepath.Join(srcDir, p.name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove stale page: %w", err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

type page struct {
	name   string
	number int
}

// collect splits srcDir into numbered pages and the optional cover.
func collect(srcDir string) ([]page, string, error) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return nil, "", fmt.Errorf("read gallery dir: %w", err)
	}
	var (
		pages []page
		cover string
	)
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if stem == coverBase {
			cover = e.Name()
			continue
		}
		n, err := strconv.Atoi(stem)
		if err != nil || n < 1 {
			continue
		}
		pages = append(pages, page{name: e.Name(), number: n})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].number < pages[j].number })
	return pages, cover, nil
}

func addFile(zipWriter *zip.Writer, filename, entry string) (int64, error) {
	src, err := os.Open(filename) //nolint:gosec // path is constructed by the application
	if err != nil {
		return 0, fmt.Errorf("open page: %w", err)
	}
	defer func() { _ = src.Close() }()

	// pages are already compressed images
	header := &zip.FileHeader{Name: entry, Method: zip.Store, Modified: time.Now()}
	zipEntryWriter, err := zipWriter.CreateHeader(header)
	if err != nil {
		return 0, fmt.Errorf("zip entry create: %w", err)
	}
	n, err := io.Copy(zipEntryWriter, src)
	if err != nil {
		return n, fmt.Errorf("copy into zip: %w", err)
	}
	return n, nil
}
