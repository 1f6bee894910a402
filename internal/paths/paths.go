// Package paths lays out ~/.chatsync. Each profile (one account on one
// backend) gets its own directory with config, logs and dev server data.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

const DefaultProfile = "default"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name conforms to profile naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// Resolve picks the active profile: the flag, then $CHATSYNC_PROFILE, then
// "default".
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv("CHATSYNC_PROFILE"); env != "" {
		return env
	}
	return DefaultProfile
}

// BaseDir returns $CHATSYNC_HOME or ~/.chatsync.
func BaseDir() string {
	if dir := os.Getenv("CHATSYNC_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatsync")
}

// Dir returns the profile directory.
func Dir(profile string) string {
	return filepath.Join(BaseDir(), "profiles", profile)
}

// ConfigPath returns the profile's config.toml.
func ConfigPath(profile string) string {
	return filepath.Join(Dir(profile), "config.toml")
}

// LogDir returns the log directory for a profile.
func LogDir(profile string) string {
	return filepath.Join(Dir(profile), "logs")
}

// LogPath returns the log file of one binary, e.g. "chatsync-devserver".
func LogPath(profile, component string) string {
	return filepath.Join(LogDir(profile), component+".log")
}

// DevserverDir holds the dev server database and lock.
func DevserverDir(profile string) string {
	return filepath.Join(Dir(profile), "devserver")
}

// DevserverDBPath returns the dev server SQLite path.
func DevserverDBPath(profile string) string {
	return filepath.Join(DevserverDir(profile), "chat.db")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(profile string) error {
	for _, d := range []string{Dir(profile), LogDir(profile)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
