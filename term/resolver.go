package term

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ResolveBinary locates the agent CLI. Resolution order:
//
//  1. explicit override (from <AGENT>_PATH) — a missing override file is a
//     hard failure, never a silent fall-through;
//  2. a PATH lookup for the bare name;
//  3. a fixed list of well-known install locations;
//  4. an actionable error.
func ResolveBinary(name, override string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("%s_PATH is set to %q but no such file exists: %w",
				envPrefix(name), override, err)
		}
		return override, nil
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	home, _ := os.UserHomeDir()
	fallbacks := []string{
		filepath.Join(home, ".local", "bin", name),
		filepath.Join("/usr/local/bin", name),
		filepath.Join("/opt/homebrew/bin", name),
		filepath.Join("/usr/bin", name),
	}
	for _, candidate := range fallbacks {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf(
		"could not find %q on PATH or in well-known locations; install it or set %s_PATH",
		name, envPrefix(name))
}

func envPrefix(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}
