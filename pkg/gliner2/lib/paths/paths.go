// Package paths provides cross-platform path utilities for the GLiNER2
// runtime.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultModelsDir returns the platform-specific default models directory.
// Returns ~/.gliner2/models on Unix-like systems and
// %USERPROFILE%\.gliner2\models on Windows. Falls back to "./models" if the
// home directory cannot be determined.
func DefaultModelsDir() string {
	home := userHomeDir()
	if home == "" {
		return filepath.FromSlash("./models")
	}
	return filepath.Join(home, ".gliner2", "models")
}

// userHomeDir returns the user's home directory in a cross-platform manner.
// On Windows, USERPROFILE is checked first because $HOME from Git Bash/MSYS2
// may contain Unix-style paths that don't work with Windows APIs.
func userHomeDir() string {
	if runtime.GOOS == "windows" {
		if home := os.Getenv("USERPROFILE"); home != "" {
			return home
		}
		if drive, path := os.Getenv("HOMEDRIVE"), os.Getenv("HOMEPATH"); drive != "" && path != "" {
			return filepath.Join(drive, path)
		}
	}

	if home := os.Getenv("HOME"); home != "" {
		return home
	}

	home, _ := os.UserHomeDir()
	return home
}
