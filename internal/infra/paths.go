package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	AppName = "grvt-trading-tool"
)

// GetWorkspaceDir returns the root directory for runtime data (journal,
// snapshots, run logs). A local "_workspace" directory wins when present.
func GetWorkspaceDir() string {
	localDir := "_workspace"
	if _, err := os.Stat(localDir); err == nil {
		return localDir
	}

	var baseDir string
	switch runtime.GOOS {
	case "windows":
		baseDir = os.Getenv("APPDATA")
		if baseDir == "" {
			baseDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, _ := os.UserHomeDir()
		baseDir = filepath.Join(home, "Library", "Application Support")
	case "linux":
		if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
			baseDir = dataHome
		} else {
			home, _ := os.UserHomeDir()
			baseDir = filepath.Join(home, ".local", "share")
		}
	default:
		return localDir
	}

	return filepath.Join(baseDir, AppName)
}

// EnsureDir creates the directory if it doesn't exist (0755).
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// CreateLockFile takes a per-pair lock so that two processes never drive the
// same account pair at once. It returns a release function.
func CreateLockFile(workDir, name string) (func(), error) {
	lockPath := filepath.Join(workDir, lockName(name))

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("another instance is already running (lock file exists: %s)", lockPath)
		}
		return nil, err
	}

	fmt.Fprintf(f, "%d", os.Getpid())
	f.Close()

	return func() { os.Remove(lockPath) }, nil
}

func lockName(name string) string {
	if name == "" {
		return "instance.lock"
	}
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return r.Replace(name) + ".lock"
}

// ResolveConfigPath finds config.yaml in ./configs first, then in the OS
// config directory.
func ResolveConfigPath() string {
	defaultPath := filepath.Join("configs", "config.yaml")

	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath
	}

	if configRoot, err := os.UserConfigDir(); err == nil {
		osPath := filepath.Join(configRoot, AppName, "config.yaml")
		if _, err := os.Stat(osPath); err == nil {
			return osPath
		}
	}
	return defaultPath
}

// ResolveSecretPath returns secrets/<mode>.yaml next to the config file.
func ResolveSecretPath(configPath, mode string) string {
	return filepath.Join(filepath.Dir(configPath), "secrets", strings.ToLower(mode)+".yaml")
}

// DataPath resolves p against the workspace dir unless it is absolute.
func DataPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(GetWorkspaceDir(), p)
}
