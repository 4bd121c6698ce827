package output

import (
	"fmt"
	"os/exec"
	"runtime"
)

// Reveal opens path with the desktop's default handler.
func Reveal(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("output: open %s: %w", path, err)
	}
	go cmd.Wait()
	return nil
}
