// Package profile manages the per-device on-disk tree: the saved
// passkey, the profile schema version, and the device/settings/
// sport_settings/activities/workouts/courses/weight/totals/goals/
// blood_pressure/activity_summary subfolders described in
// SPEC_FULL.md §6. It also maintains a devices.ini
// registry across every device this host has ever paired with
// (a SPEC_FULL.md supplemented feature — grounded on the original
// Python antfs-cli's ConfigManager).
package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// CurrentProfileVersion is written into every new profile_version
// file and checked against on load.
const CurrentProfileVersion = 1

var subfolders = []string{
	"device", "settings", "sport_settings", "activities", "workouts",
	"courses", "weight", "totals", "goals", "blood_pressure", "activity_summary",
}

// ErrVersionMismatch is returned by Load when the on-disk
// profile_version does not match CurrentProfileVersion.
type ErrVersionMismatch struct{ Found, Expected int }

func (e *ErrVersionMismatch) Error() string {
	return fmt.Sprintf("profile: on-disk version %d does not match expected %d", e.Found, e.Expected)
}

// Profile is one device's persistent record: its serial, display
// name, passkey once paired, and the root of its on-disk subtree.
type Profile struct {
	Serial  uint32
	Name    string
	Passkey []byte
	Root    string
}

// Paired reports whether a passkey has been saved for this device.
func (p *Profile) Paired() bool { return len(p.Passkey) > 0 }

func authfilePath(root string) string { return filepath.Join(root, "authfile") }
func versionfilePath(root string) string { return filepath.Join(root, "profile_version") }

// Load reads (or creates) the profile at root for serial, verifying
// the schema version and loading any saved passkey.
func Load(root string, serial uint32, logger *logrus.Logger) (*Profile, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("profile: creating root: %w", err)
	}
	for _, sub := range subfolders {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("profile: creating %s: %w", sub, err)
		}
	}

	p := &Profile{Serial: serial, Root: root}

	if err := p.checkVersion(logger); err != nil {
		return nil, err
	}

	passkey, err := os.ReadFile(authfilePath(root))
	switch {
	case err == nil:
		p.Passkey = passkey
	case errors.Is(err, os.ErrNotExist):
		// Unpaired device: no passkey yet.
	default:
		return nil, fmt.Errorf("profile: reading authfile: %w", err)
	}

	return p, nil
}

func (p *Profile) checkVersion(logger *logrus.Logger) error {
	path := versionfilePath(p.Root)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.WithField("root", p.Root).Debug("no profile_version on disk, initializing")
		return os.WriteFile(path, []byte(strconv.Itoa(CurrentProfileVersion)), 0o644)
	}
	if err != nil {
		return fmt.Errorf("profile: reading profile_version: %w", err)
	}
	found, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("profile: malformed profile_version: %w", err)
	}
	if found != CurrentProfileVersion {
		return &ErrVersionMismatch{Found: found, Expected: CurrentProfileVersion}
	}
	return nil
}

// SavePasskey persists a newly paired passkey to the authfile.
func (p *Profile) SavePasskey(passkey []byte) error {
	if err := os.WriteFile(authfilePath(p.Root), passkey, 0o600); err != nil {
		return fmt.Errorf("profile: writing authfile: %w", err)
	}
	p.Passkey = passkey
	return nil
}

// Repair invalidates the saved passkey, forcing re-pairing on the
// next authentication attempt (the --pair CLI flag).
func (p *Profile) Repair() error {
	p.Passkey = nil
	if err := os.Remove(authfilePath(p.Root)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("profile: removing authfile: %w", err)
	}
	return nil
}

// SubfolderPath returns the absolute path of one of the profile's
// fixed subfolders.
func (p *Profile) SubfolderPath(name string) string { return filepath.Join(p.Root, name) }
