package entry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/melih-ucgun/autoconfig/internal/core"
)

const maxReplacePause = 2 * time.Second

// tempPath returns a unique sibling of target, so the final rename never
// crosses a filesystem boundary.
func tempPath(target string) string {
	return filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+"."+uuid.NewString()+".tmp")
}

// replaceFile moves tmp over target. Renaming over the target keeps the
// original intact until the new file is in place. Failed attempts are
// retried with exponential backoff.
func replaceFile(ctx context.Context, fsys core.FileSystem, tmp, target string, attempts int, pause time.Duration, log core.Logger) error {
	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("replace aborted: %w", err)
			}
			wait := pause * time.Duration(1<<(attempt-1))
			if wait > maxReplacePause || wait <= 0 {
				wait = maxReplacePause
			}
			time.Sleep(wait)
		}

		err := fsys.Rename(tmp, target)
		if err == nil {
			return nil
		}
		if os.IsNotExist(err) {
			return core.WrapIO("replace", tmp, err)
		}
		lastErr = err
		log.Debug("replace failed, retrying", "target", target, "attempt", attempt+1, "error", err)
	}
	return core.NewError(core.KindReplace, "replace", target,
		fmt.Errorf("could not move %s to %s after %d attempts: %w", tmp, target, attempts, lastErr))
}
