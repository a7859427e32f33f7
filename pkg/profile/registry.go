package profile

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// Registry is the devices.ini index of every device this host has
// ever talked to, keyed by serial number. It lets the orchestrator
// recall a device's display name and root path without re-deriving
// them from a live beacon.
type Registry struct {
	path   string
	file   *ini.File
	logger *logrus.Logger
}

// OpenRegistry loads (or creates) devices.ini under configDir.
func OpenRegistry(configDir string, logger *logrus.Logger) (*Registry, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	path := filepath.Join(configDir, "devices.ini")
	file, err := ini.LooseLoad(path)
	if err != nil {
		return nil, fmt.Errorf("profile: loading devices.ini: %w", err)
	}
	return &Registry{path: path, file: file, logger: logger}, nil
}

// Remember records or updates a device's entry.
func (r *Registry) Remember(serial uint32, name, root string) error {
	section := r.file.Section(strconv.FormatUint(uint64(serial), 10))
	section.Key("name").SetValue(name)
	section.Key("root").SetValue(root)
	return r.file.SaveTo(r.path)
}

// DeviceRecord is one devices.ini entry.
type DeviceRecord struct {
	Serial uint32
	Name   string
	Root   string
}

// Known lists every device recorded in the registry.
func (r *Registry) Known() []DeviceRecord {
	var out []DeviceRecord
	for _, section := range r.file.Sections() {
		serial, err := strconv.ParseUint(section.Name(), 10, 32)
		if err != nil {
			continue // skips ini's implicit DEFAULT section
		}
		out = append(out, DeviceRecord{
			Serial: uint32(serial),
			Name:   section.Key("name").String(),
			Root:   section.Key("root").String(),
		})
	}
	return out
}

// Lookup finds a device by serial.
func (r *Registry) Lookup(serial uint32) (DeviceRecord, bool) {
	key := strconv.FormatUint(uint64(serial), 10)
	if !r.file.HasSection(key) {
		return DeviceRecord{}, false
	}
	section := r.file.Section(key)
	return DeviceRecord{
		Serial: serial,
		Name:   section.Key("name").String(),
		Root:   section.Key("root").String(),
	}, true
}
