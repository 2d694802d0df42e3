package archive

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"zerowatch/pkg/logger"
)

// migratableEntry captures the dotted stem of a flat-stored entry,
// e.g. "Artoria.Caster" out of "Artoria.Caster_4572543.jpg"
var migratableEntry = regexp.MustCompile(`(?i)^(.+)_\d+\.(?:jpg|jpeg|png)$`)

// MigrateFlatLayout relocates entries that older versions stored flat
// in the archive root into per-subscription folders. Only
// files whose dotted stem matches one of the given subscriptions are
// touched; a destination that already exists leaves the source in place.
// Individual move failures are logged and skipped. Returns the number of
// files moved.
func MigrateFlatLayout(root string, subs []string, dotted func(string) string, log logger.Logger) int {
	if log == nil {
		log = logger.GetLogger()
	}

	// dotted-stem (lowercased) -> subscription folder
	folders := make(map[string]string, len(subs))
	for _, sub := range subs {
		folders[strings.ToLower(dotted(sub))] = FolderName(sub)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warn("could not scan archive root for legacy entries")
		}
		return 0
	}

	moved := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := migratableEntry.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		folder, ok := folders[strings.ToLower(m[1])]
		if !ok {
			continue
		}

		destDir := filepath.Join(root, folder)
		if err := os.MkdirAll(destDir, 0755); err != nil {
			log.WithError(err).WithField("folder", folder).Warn("could not create folder for legacy entry")
			continue
		}

		src := filepath.Join(root, entry.Name())
		dest := filepath.Join(destDir, entry.Name())
		if _, err := os.Stat(dest); err == nil {
			log.WithField("file", entry.Name()).Debug("legacy entry already present in folder, leaving in place")
			continue
		}

		if err := os.Rename(src, dest); err != nil {
			log.WithError(err).WithField("file", entry.Name()).Warn("could not relocate legacy entry")
			continue
		}

		log.WithFields(map[string]interface{}{
			"file":   entry.Name(),
			"folder": folder,
		}).Debug("relocated legacy entry")
		moved++
	}

	if moved > 0 {
		log.WithField("moved", moved).Info("migrated legacy flat-stored entries")
	}

	return moved
}
