package common

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetConfigDir(t *testing.T) {
	t.Setenv("SUDO_USER", "")
	t.Setenv("HOME", t.TempDir())

	dir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	if !strings.HasSuffix(dir, ConfigDirName) {
		t.Errorf("GetConfigDir() = %v, should end with %v", dir, ConfigDirName)
	}
}

func TestFileExists(t *testing.T) {
	tempFile, err := os.CreateTemp(t.TempDir(), "test")
	if err != nil {
		t.Fatal(err)
	}
	tempFile.Close()

	if !FileExists(tempFile.Name()) {
		t.Error("FileExists() should return true for existing file")
	}

	if FileExists("/nonexistent/path/to/file") {
		t.Error("FileExists() should return false for non-existing file")
	}
}

func TestGenerateID(t *testing.T) {
	id1 := GenerateID()
	id2 := GenerateID()

	if len(id1) != 32 {
		t.Errorf("GenerateID() length = %v, want 32", len(id1))
	}

	if id1 == id2 {
		t.Error("GenerateID() should return unique IDs")
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("SUDO_USER", "")
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got := ExpandHome("~/state"); got != filepath.Join(home, "state") {
		t.Errorf("ExpandHome() = %v", got)
	}
	if got := ExpandHome("/var/lib/anonvpn"); got != "/var/lib/anonvpn" {
		t.Errorf("ExpandHome() should leave absolute paths alone, got %v", got)
	}
}

// fakeSudo makes the process look like root started by sudo from alice.
func fakeSudo(t *testing.T, home string) {
	t.Helper()
	t.Setenv("SUDO_USER", "alice")
	origEuid, origLookup := geteuid, lookupUser
	geteuid = func() int { return 0 }
	lookupUser = func(name string) (*user.User, error) {
		if name != "alice" {
			return nil, user.UnknownUserError(name)
		}
		return &user.User{Username: "alice", Uid: "1000", Gid: "1001", HomeDir: home}, nil
	}
	t.Cleanup(func() { geteuid, lookupUser = origEuid, origLookup })
}

func TestHomeDir_Sudo(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	home := t.TempDir()
	fakeSudo(t, home)

	got, err := HomeDir()
	if err != nil {
		t.Fatalf("HomeDir() error = %v", err)
	}
	if got != home {
		t.Errorf("HomeDir() = %v, want %v", got, home)
	}
	if got := ExpandHome(DefaultStateDir); got != filepath.Join(home, ".local", "share", ConfigDirName) {
		t.Errorf("ExpandHome(DefaultStateDir) = %v", got)
	}
	if got := GetLogDir(); !strings.HasPrefix(got, home) {
		t.Errorf("GetLogDir() = %v, want it under %v", got, home)
	}
	if got := InvokingUID(); got != 1000 {
		t.Errorf("InvokingUID() = %v, want 1000", got)
	}

	inv, ok := SudoInvoker()
	if !ok || inv.Username != "alice" || inv.GID != 1001 {
		t.Errorf("SudoInvoker() = %+v, %v", inv, ok)
	}
}

func TestHomeDir_SudoIgnoredWhenNotRoot(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	fakeSudo(t, t.TempDir())
	geteuid = func() int { return 1000 }

	if got, _ := HomeDir(); got != home {
		t.Errorf("HomeDir() = %v, want %v", got, home)
	}
	if _, ok := SudoInvoker(); ok {
		t.Error("SudoInvoker() should report nothing for a non-root process")
	}
	if got := InvokingUID(); got != os.Getuid() {
		t.Errorf("InvokingUID() = %v, want %v", got, os.Getuid())
	}
}

func TestHomeDir_UnknownSudoUser(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	fakeSudo(t, t.TempDir())
	t.Setenv("SUDO_USER", "mallory")

	if got, _ := HomeDir(); got != home {
		t.Errorf("HomeDir() = %v, want %v", got, home)
	}
}

func TestEnsurePrivateDir(t *testing.T) {
	t.Setenv("SUDO_USER", "")
	dir := filepath.Join(t.TempDir(), "a", "b")

	if got := missingDirs(dir); len(got) != 2 {
		t.Errorf("missingDirs() = %v, want 2 entries", got)
	}
	if err := EnsurePrivateDir(dir); err != nil {
		t.Fatalf("EnsurePrivateDir() error = %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("EnsurePrivateDir() mode = %v, want 0700", perm)
	}
	if got := missingDirs(dir); len(got) != 0 {
		t.Errorf("missingDirs() = %v after creation", got)
	}
}
