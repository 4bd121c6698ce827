// Package output decides where recordings are written.
package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kataras/golog"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/capture"
)

var logger = golog.Child("[output]")

// ErrInsufficientSpace means the target volume is below the configured minimum.
var ErrInsufficientSpace = errors.New("insufficient free disk space")

const dateLayout = "2006-01-02_15-04-05"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName builds the file name for a recording started at t. Screens are named
// after their display ID, cameras after the device name.
func FileName(kind capture.Kind, id, name string, t time.Time, ext string) string {
	date := t.Format(dateLayout)
	if kind == capture.KindScreen {
		return fmt.Sprintf("display%s-%s%s", sanitize(id), date, ext)
	}
	return fmt.Sprintf("%s%s%s", sanitize(name), date, ext)
}

func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(strings.TrimSpace(s), "_")
	return strings.Trim(s, "_")
}

// Resolve joins dir and file. When dir is missing or not writable the temp
// directory is used instead. A file already at the resulting path is removed.
func Resolve(dir, file string) (string, error) {
	if dir == "" || !writable(dir) {
		logger.Warnf("save location %q is not writable, using %s", dir, os.TempDir())
		dir = os.TempDir()
	}
	path := filepath.Join(dir, file)

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("output: remove existing %s: %w", path, err)
	}
	return path, nil
}

func writable(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	f, err := os.CreateTemp(dir, ".timelapse-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}

// CheckFreeSpace fails when the volume holding dir has less than min bytes free.
// A zero min disables the check.
func CheckFreeSpace(dir string, min uint64) error {
	if min == 0 {
		return nil
	}
	usage, err := disk.Usage(dir)
	if err != nil {
		return fmt.Errorf("output: disk usage of %s: %w", dir, err)
	}
	if usage.Free < min {
		return fmt.Errorf("%w: %s has %d MiB free, need %d MiB", ErrInsufficientSpace, dir, usage.Free>>20, min>>20)
	}
	return nil
}

// InTempDir reports whether path lives under the system temp directory.
func InTempDir(path string) bool {
	tmp, err := filepath.Abs(os.TempDir())
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(tmp, abs)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
