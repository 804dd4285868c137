package common

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Replaced in tests.
var (
	geteuid    = os.Geteuid
	lookupUser = user.Lookup
)

// DefaultStateDir is the state directory used when none is configured.
// It is expanded with ExpandHome when the configuration is validated.
const DefaultStateDir = "~/.local/share/" + ConfigDirName

// GenerateID returns a random 32 character hex identifier.
func GenerateID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Invoker is the account that started the program through sudo.
type Invoker struct {
	Username string
	HomeDir  string
	UID      int
	GID      int
}

// SudoInvoker returns the account behind sudo when the process runs as root
// with SUDO_USER naming another user.
func SudoInvoker() (Invoker, bool) {
	name := os.Getenv("SUDO_USER")
	if geteuid() != 0 || name == "" || name == "root" {
		return Invoker{}, false
	}
	u, err := lookupUser(name)
	if err != nil {
		return Invoker{}, false
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return Invoker{}, false
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return Invoker{}, false
	}
	return Invoker{Username: name, HomeDir: u.HomeDir, UID: uid, GID: gid}, true
}

// HomeDir returns the home directory of the user who ran the program. Under
// sudo that is the invoking user's home, not root's, so `sudo anonvpn
// connect --up` finds the state and config written by `anonvpn login`.
func HomeDir() (string, error) {
	if inv, ok := SudoInvoker(); ok && inv.HomeDir != "" {
		return inv.HomeDir, nil
	}
	return os.UserHomeDir()
}

// InvokingUID returns the uid of the user who ran the program, looking
// through sudo.
func InvokingUID() int {
	if inv, ok := SudoInvoker(); ok {
		return inv.UID
	}
	return os.Getuid()
}

// ChownToInvoker gives path to the sudo user so files written by a root run
// stay usable without sudo. Outside sudo it does nothing.
func ChownToInvoker(path string) error {
	inv, ok := SudoInvoker()
	if !ok {
		return nil
	}
	return os.Lchown(path, inv.UID, inv.GID)
}

// GetConfigDir returns the path to the application configuration directory.
// It creates the directory if it doesn't exist.
func GetConfigDir() (string, error) {
	homeDir, err := HomeDir()
	if err != nil {
		return "", WrapError(err, "failed to get home directory")
	}

	configDir := filepath.Join(homeDir, ".config", ConfigDirName)
	if err := EnsurePrivateDir(configDir); err != nil {
		return "", WrapError(err, "failed to create config directory")
	}
	return configDir, nil
}

// FileExists checks if a file exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsurePrivateDir creates path with owner-only permissions. Directories it
// creates under sudo are handed to the invoking user.
func EnsurePrivateDir(path string) error {
	created := missingDirs(path)
	if err := os.MkdirAll(path, 0700); err != nil {
		return err
	}
	for _, dir := range created {
		if err := ChownToInvoker(dir); err != nil {
			return err
		}
	}
	return nil
}

// missingDirs lists path and those of its parents that do not exist yet.
func missingDirs(path string) []string {
	var dirs []string
	for p := filepath.Clean(path); ; p = filepath.Dir(p) {
		if _, err := os.Lstat(p); err == nil {
			break
		}
		dirs = append(dirs, p)
		if filepath.Dir(p) == p {
			break
		}
	}
	return dirs
}

// ExpandHome replaces a leading "~/" with the invoking user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := HomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}
