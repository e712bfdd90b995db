package archive

import (
	"log"
	"os"
	"path/filepath"
	"time"
)

// CleanOrphans removes expired files from the output directory: segment
// archives whose job rows are already gone, and stale ticket exports.
// Job-aware retention lives in the queue's sweep; this is the safety net
// for files that outlived their bookkeeping.
func CleanOrphans(dir string, retention time.Duration, logger *log.Logger) (int, error) {
	patterns := []string{"*.zip", "*_tickets_*.json", "*_tickets_*.csv"}

	cutoff := time.Now().Add(-retention)
	cleaned := 0

	for _, p := range patterns {
		files, err := filepath.Glob(filepath.Join(dir, p))
		if err != nil {
			logger.Printf("archive cleanup error: %v", err)
			return cleaned, err
		}
		for _, f := range files {
			info, err := os.Stat(f)
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(f); err != nil {
					logger.Printf("failed to remove %s: %v", f, err)
				} else {
					cleaned++
				}
			}
		}
	}

	if cleaned > 0 {
		logger.Printf("cleaned up %d expired files", cleaned)
	}
	return cleaned, nil
}
