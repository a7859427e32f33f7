// Package directory models the device-resident file index (ANT-FS
// directory, always downloaded as file 0) and the FIT sub-type to
// local-folder mapping used to place downloaded/upload-candidate
// files on disk.
package directory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// epochOffsetSeconds is the fixed offset (seconds) the device's 32-bit timestamps
// are relative to: 1989-12-31T00:00:00Z, the ANT-FS epoch.
const epochOffsetSeconds int64 = 631065600

// ErrShortHeader is returned when a buffer is too small to hold the
// 16-byte directory header.
var ErrShortHeader = errors.New("directory: buffer shorter than header")

// Header is the first 16 bytes of a downloaded directory file.
type Header struct {
	VersionMajor    byte
	VersionMinor    byte
	StructureLength byte
	TimeFormat      byte
	CurrentTime     uint32
	LastModified    uint32
}

// SubType enumerates the FIT file categories the device reports
// (and the host uploads into). Values match the original client's
// File.Identifier vocabulary (_examples/original_source/ant/fs/file.py).
type SubType byte

const (
	SubTypeDevice          SubType = 1
	SubTypeSetting         SubType = 2
	SubTypeSportSetting    SubType = 3
	SubTypeActivity        SubType = 4
	SubTypeWorkout         SubType = 5
	SubTypeCourse          SubType = 6
	SubTypeWeight          SubType = 9
	SubTypeTotals          SubType = 10
	SubTypeGoals           SubType = 11
	SubTypeBloodPressure   SubType = 14
	SubTypeActivitySummary SubType = 20
)

var folderNames = map[SubType]string{
	SubTypeDevice:          "device",
	SubTypeSetting:         "settings",
	SubTypeSportSetting:    "sport_settings",
	SubTypeActivity:        "activities",
	SubTypeWorkout:         "workouts",
	SubTypeCourse:          "courses",
	SubTypeWeight:          "weight",
	SubTypeTotals:          "totals",
	SubTypeGoals:           "goals",
	SubTypeBloodPressure:   "blood_pressure",
	SubTypeActivitySummary: "activity_summary",
}

// FolderName returns the on-disk subfolder for sub-type s, or "" if
// unknown (callers should skip such entries rather than guess).
func (s SubType) FolderName() string { return folderNames[s] }

// Flags packs the general-flags byte of a directory entry.
type Flags byte

const (
	FlagReadable Flags = 1 << iota
	FlagWritable
	FlagErasable
	FlagArchived
)

func (f Flags) Readable() bool { return f&FlagReadable != 0 }
func (f Flags) Writable() bool { return f&FlagWritable != 0 }
func (f Flags) Erasable() bool { return f&FlagErasable != 0 }
func (f Flags) Archived() bool { return f&FlagArchived != 0 }

// Entry is one 16-byte record in the directory, file 0's header
// excepted.
type Entry struct {
	Index      uint16
	SubType    SubType
	Identifier [3]byte
	TypeFlags  byte
	Flags      Flags
	Size       uint32
	Timestamp  uint32
}

// Time converts the entry's device timestamp to a wall-clock time.
func (e Entry) Time() time.Time {
	return time.Unix(epochOffsetSeconds+int64(e.Timestamp), 0).UTC()
}

// FitFileNumber is the file number the device and the original client
// encode in bytes 1-2 of the 3-byte Identifier (byte 0 is reserved),
// distinct from Index, which only identifies the entry's directory
// slot and is not stable across re-uploads.
func (e Entry) FitFileNumber() uint16 {
	return binary.LittleEndian.Uint16(e.Identifier[1:3])
}

// CanonicalName is the filename a downloaded copy of e is renamed to:
// YYYY-MM-DD_HH-MM-SS_<subtype>_<number>.fit.
func (e Entry) CanonicalName() string {
	return fmt.Sprintf("%s_%d_%d.fit", e.Time().Format("2006-01-02_15-04-05"), e.SubType, e.FitFileNumber())
}

// Directory is the parsed file-0 payload: its header plus every
// entry past the header. Per SPEC_FULL.md §4.10 / Open Questions,
// entry 0 (the header) is never itself admitted as an Entry — every
// other entry is, regardless of position.
type Directory struct {
	Header  Header
	Entries []Entry
}

// Parse decodes a full directory file payload (header + N entries,
// each 16 bytes).
func Parse(buf []byte) (Directory, error) {
	if len(buf) < 16 {
		return Directory{}, ErrShortHeader
	}
	header := Header{
		VersionMajor:    buf[0] >> 4,
		VersionMinor:    buf[0] & 0x0F,
		StructureLength: buf[1],
		TimeFormat:      buf[2],
		CurrentTime:     binary.LittleEndian.Uint32(buf[8:12]),
		LastModified:    binary.LittleEndian.Uint32(buf[12:16]),
	}

	var entries []Entry
	for off := 16; off+16 <= len(buf); off += 16 {
		e, err := parseEntry(buf[off : off+16])
		if err != nil {
			return Directory{}, err
		}
		entries = append(entries, e)
	}
	return Directory{Header: header, Entries: entries}, nil
}

func parseEntry(buf []byte) (Entry, error) {
	if len(buf) != 16 {
		return Entry{}, fmt.Errorf("directory: entry must be 16 bytes, got %d", len(buf))
	}
	var ident [3]byte
	copy(ident[:], buf[3:6])
	return Entry{
		Index:      binary.LittleEndian.Uint16(buf[0:2]),
		SubType:    SubType(buf[2]),
		Identifier: ident,
		TypeFlags:  buf[6],
		Flags:      Flags(buf[7]),
		Size:       binary.LittleEndian.Uint32(buf[8:12]),
		Timestamp:  binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}
