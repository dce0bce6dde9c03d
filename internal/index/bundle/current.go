package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CurrentName is the pointer file naming the live generation.
const CurrentName = "CURRENT"

// ReadCurrent returns the live generation in dir. ok is false for a fresh
// directory that has never been committed to.
func ReadCurrent(dir string) (gen uint64, ok bool, err error) {
	raw, err := os.ReadFile(filepath.Join(dir, CurrentName))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("reading %s: %w", CurrentName, err)
	}
	gen, err = strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parsing %s: %w", CurrentName, err)
	}
	return gen, true, nil
}

// WriteCurrent atomically points dir at generation gen: the new value is
// written and synced to a temporary file which then replaces CURRENT.
func WriteCurrent(dir string, gen uint64) error {
	tmp := filepath.Join(dir, CurrentName+".tmp")
	if err := writeFileSync(tmp, []byte(strconv.FormatUint(gen, 10)+"\n")); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, CurrentName)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("swapping %s: %w", CurrentName, err)
	}
	return syncDir(dir)
}
