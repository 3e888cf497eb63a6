package disk

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

type blockFile struct {
	path    string
	size    int64
	modTime time.Time
}

// dirSize sums the sizes of committed block files under root.
func dirSize(root string) (int64, error) {
	blocks, err := listBlocks(root)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, b := range blocks {
		total += b.size
	}
	return total, nil
}

// pruneDir removes the least recently used blocks until at most targetBytes remain.
func pruneDir(root string, targetBytes int64) (freed, remaining int64, err error) {
	blocks, err := listBlocks(root)
	if err != nil {
		return 0, 0, err
	}
	for _, b := range blocks {
		remaining += b.size
	}
	if remaining <= targetBytes {
		return 0, remaining, nil
	}

	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].modTime.Equal(blocks[j].modTime) {
			return blocks[i].path < blocks[j].path
		}
		return blocks[i].modTime.Before(blocks[j].modTime)
	})
	for _, b := range blocks {
		if remaining <= targetBytes {
			break
		}
		if err := os.Remove(b.path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return freed, remaining, err
		}
		remaining -= b.size
		freed += b.size
	}
	return freed, remaining, nil
}

// listBlocks walks root for block files, skipping in-flight temp files.
func listBlocks(root string) ([]blockFile, error) {
	var blocks []blockFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), "block-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		blocks = append(blocks, blockFile{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return blocks, err
}
