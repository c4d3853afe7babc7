package setup

import (
	"errors"
	"fmt"
	"os"
)

// ClearConfig removes leased configuration files left behind by earlier
// runs. Files that do not exist are skipped.
func ClearConfig(files ...string) error {
	getLogger().Info("clearing configuration files")

	var errs []error
	for _, file := range files {
		if err := os.Remove(file); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", file, err))
			continue
		}
		getLogger().Info("removed", "path", file)
	}
	return errors.Join(errs...)
}
