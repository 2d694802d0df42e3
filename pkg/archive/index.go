// Package archive owns the on-disk layout of downloaded images. The disk
// is the only index: what a subscription already has is derived by
// scanning its folder, fresh on every run.
package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// prefixedEntry matches the current naming scheme,
	// e.g. Artoria.Caster_4572543.jpg
	prefixedEntry = regexp.MustCompile(`(?i)^.+_(\d+)\.(?:jpg|jpeg|png)$`)

	// bareEntry matches the legacy scheme of just an ID,
	// e.g. 4572543.png
	bareEntry = regexp.MustCompile(`(?i)^(\d+)\.(?:jpg|jpeg|png)$`)

	// illegalFolderChars are stripped from subscription folder names so
	// they stay valid on Windows filesystems too
	illegalFolderChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

	// reservedFolderNames are device names Windows refuses as folders
	reservedFolderNames = regexp.MustCompile(`(?i)^(con|prn|aux|nul|com[1-9]|lpt[1-9])$`)
)

// FolderName derives the per-subscription folder name: the '+' word
// separator becomes a space, filesystem-illegal characters are stripped,
// and reserved device names get disambiguated.
func FolderName(sub string) string {
	name := strings.ReplaceAll(sub, "+", " ")
	name = illegalFolderChars.ReplaceAllString(name, "")
	name = strings.Trim(name, " .")
	if reservedFolderNames.MatchString(name) {
		name += "_"
	}
	if name == "" {
		name = "_"
	}
	return name
}

// Index is the set of image IDs a subscription already has on disk.
// It lives for a single run only.
type Index struct {
	ids map[string]struct{}
}

// NewIndex returns an empty index
func NewIndex() *Index {
	return &Index{ids: make(map[string]struct{})}
}

// BuildIndex scans a subscription folder and collects the IDs of every
// recognizable archive entry. Both the prefixed and the bare legacy
// naming scheme count; anything else is ignored. Subfolders are not
// descended into. A missing folder yields an empty index.
func BuildIndex(dir string) (*Index, error) {
	idx := NewIndex()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("failed to read archive folder: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if id := entryID(entry.Name()); id != "" {
			idx.Add(id)
		}
	}

	return idx, nil
}

// entryID extracts the image ID from an archive entry filename, or ""
// when the name matches neither naming scheme.
func entryID(name string) string {
	if m := prefixedEntry.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	if m := bareEntry.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return ""
}

// Has reports whether an ID is already archived
func (i *Index) Has(id string) bool {
	_, ok := i.ids[id]
	return ok
}

// Add marks an ID as archived for the remainder of the run
func (i *Index) Add(id string) {
	i.ids[id] = struct{}{}
}

// Len returns the number of archived IDs
func (i *Index) Len() int {
	return len(i.ids)
}

// Missing returns the subset of found not present in the index, in the
// order given.
func (i *Index) Missing(found []string) []string {
	var missing []string
	for _, id := range found {
		if !i.Has(id) {
			missing = append(missing, id)
		}
	}
	return missing
}

// SaveEntry streams an asset body into dir/filename via a temporary file
// and an atomic rename, so a failed download never leaves a partial entry
// behind.
func SaveEntry(dir, filename string, r io.Reader) error {
	dest := filepath.Join(dir, filename)
	tmp := dest + ".tmp"

	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	_, err = io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write entry data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close entry file: %w", closeErr)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize entry file: %w", err)
	}

	return nil
}

// EnsureFolder creates a subscription folder if absent and returns its path
func EnsureFolder(root, sub string) (string, error) {
	dir := filepath.Join(root, FolderName(sub))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create subscription folder: %w", err)
	}
	return dir, nil
}
