// Package syncer is the top-level sync orchestrator (SPEC_FULL.md
// §4.10): it drives the session state machine from LINK through
// AUTHENTICATION to TRANSPORT, downloads the device directory,
// diffs it against the local on-disk tree, downloads what's missing
// and uploads what's new, then renames uploads to their canonical
// device-assigned name.
package syncer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/hexad/antfs/internal/hooks"
	"github.com/hexad/antfs/pkg/directory"
	"github.com/hexad/antfs/pkg/download"
	"github.com/hexad/antfs/pkg/profile"
	"github.com/hexad/antfs/pkg/session"
	"github.com/hexad/antfs/pkg/transport"
	"github.com/hexad/antfs/pkg/upload"
)

// Radio is the full set of operations the orchestrator needs from
// the channel façade: everything download/upload need, plus the
// primitives to establish the link and authenticate.
type Radio interface {
	download.Radio
	upload.Radio
	Assign(channelType, networkNumber byte) error
	SetChannelID(deviceNumber uint16, deviceType, transmissionType byte) error
	SetPeriod(period uint16) error
	SetSearchTimeout(timeout byte) error
	SetNetworkKey(networkNumber byte, key [8]byte) error
	Open() (transport.Record, error)
	Close() (transport.Record, error)
}

// Reporter receives progress updates; internal/progress.Program
// satisfies it. A nil Reporter is valid and silently discards
// updates.
type Reporter interface {
	Report(name string, fraction float64)
	Done(name string, err error)
}

// Options configures one sync run, mirroring the antfs-cli flags in
// SPEC_FULL.md §6.
type Options struct {
	Upload        bool
	Pair          bool
	SkipArchived  bool
	SearchTimeout byte
	NetworkKey    [8]byte
}

// Result summarises one completed sync run.
type Result struct {
	Downloaded []string
	Uploaded   []string
}

// ErrLinkTimedOut is returned when the events channel closes before a
// TRANSPORT-state beacon arrives. Link establishment applies no
// deadline of its own: while the channel stays open it keeps waiting.
var ErrLinkTimedOut = errors.New("syncer: device never reached TRANSPORT state")

// Orchestrator drives one complete sync session for one device.
type Orchestrator struct {
	radio   Radio
	profile *profile.Profile
	hooks   *hooks.Runner
	report  Reporter
	logger  *logrus.Logger

	events <-chan transport.Record
	auth   AuthFunc

	resolve func(serial uint32) (*profile.Profile, error)
}

// ResolveProfileBy defers profile selection until the device's serial
// is learned from its first beacon, for callers (the CLI) that don't
// know which device they'll see before the link is established. It is
// consulted only when New was given a nil profile; a profile passed to
// New takes precedence.
func (o *Orchestrator) ResolveProfileBy(fn func(serial uint32) (*profile.Profile, error)) {
	o.resolve = fn
}

// AuthFunc performs the authentication sub-protocol: it receives the
// local profile's serial, whether that profile is already paired and
// its saved passkey, and returns the AUTHENTICATE command to send.
type AuthFunc func(serial uint32, paired bool, passkey []byte) session.AuthenticateCommand

func New(radio Radio, events <-chan transport.Record, prof *profile.Profile, hookRunner *hooks.Runner, report Reporter, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Orchestrator{
		radio: radio, profile: prof, hooks: hookRunner, report: report, logger: logger,
		events: events, auth: DefaultAuth,
	}
}

// DefaultAuth requests PASSKEY_EXCHANGE when already paired,
// otherwise PAIRING, matching the authentication sub-protocol in
// SPEC_FULL.md §4.6.
func DefaultAuth(serial uint32, paired bool, passkey []byte) session.AuthenticateCommand {
	if paired {
		return session.AuthenticateCommand{SubType: byte(session.AuthPasskeyExchange), Serial: serial, Data: passkey}
	}
	return session.AuthenticateCommand{SubType: byte(session.AuthPairing), Serial: serial}
}

// defaultLinkFrequency/defaultLinkPeriod pick the pairing channel the
// host asks the device to move to once it's spotted on the common
// search frequency.
const (
	defaultLinkFrequency byte = 0x39
	defaultLinkPeriod    byte = 0x04
)

// EstablishLink configures the channel, opens it, and drives the
// session state machine until the device reports TRANSPORT,
// performing the LINK and AUTHENTICATION hooks along the way.
func (o *Orchestrator) EstablishLink(opts Options) error {
	if opts.Pair && o.profile != nil {
		if err := o.profile.Repair(); err != nil {
			return err
		}
	}

	if err := o.radio.Assign(0x00, 0); err != nil { // type=0 bidirectional slave, network 0
		return err
	}
	if err := o.radio.SetNetworkKey(0, opts.NetworkKey); err != nil {
		return err
	}
	if opts.SearchTimeout != 0 {
		if err := o.radio.SetSearchTimeout(opts.SearchTimeout); err != nil {
			return err
		}
	}
	if _, err := o.radio.Open(); err != nil {
		return err
	}

	return o.awaitTransport(opts)
}

func (o *Orchestrator) linkHooks() session.Hooks {
	return session.Hooks{
		OnLink: func() error {
			cmd := session.LinkCommand{Frequency: defaultLinkFrequency, Period: defaultLinkPeriod, Serial: o.profile.Serial}
			return o.radio.SendBurst(cmd.Encode())
		},
		OnAuthentication: func() error {
			req := o.auth(o.profile.Serial, o.profile.Paired(), o.profile.Passkey)
			if err := o.radio.SendBurst(req.Encode()); err != nil {
				return err
			}
			rec, err := o.radio.WaitForEvent(transport.EventRxBurstPacket)
			if err != nil {
				return err
			}
			resp, err := session.DecodeAuthenticateCommand(rec.Data)
			if err != nil {
				return err
			}
			result, err := session.InterpretAuthResponse(resp)
			if err != nil {
				return err
			}
			if result.Accepted && len(result.Passkey) > 0 && !o.profile.Paired() {
				return o.profile.SavePasskey(result.Passkey)
			}
			return nil
		},
	}
}

func (o *Orchestrator) awaitTransport(opts Options) error {
	machine := session.NewMachine(o.linkHooks(), o.logger)

	for {
		rec, ok := <-o.events
		if !ok {
			return ErrLinkTimedOut
		}
		if rec.Code != transport.EventRxBroadcast {
			continue
		}
		beaconBytes, _ := session.SplitEnvelope(rec.Data)
		if beaconBytes == nil {
			continue
		}
		b, err := session.Decode(beaconBytes)
		if err != nil {
			continue
		}
		if o.profile == nil {
			if o.resolve == nil {
				return fmt.Errorf("syncer: no profile and no resolver set")
			}
			prof, err := o.resolve(b.Descriptor)
			if err != nil {
				return fmt.Errorf("syncer: resolving profile for serial %d: %w", b.Descriptor, err)
			}
			o.profile = prof
			if opts.Pair {
				if err := o.profile.Repair(); err != nil {
					return err
				}
			}
		}
		if err := machine.Observe(b); err != nil {
			return err
		}
		if machine.State() == session.StateTransport {
			return nil
		}
	}
}

// Sync performs one full directory download, local/remote diff,
// download pass, and (if enabled) upload pass.
func (o *Orchestrator) Sync(opts Options) (Result, error) {
	var result Result

	dl := download.New(o.radio, o.logger)
	dirBytes, err := dl.Download(0, o.progressFn("directory"))
	if err != nil {
		return result, fmt.Errorf("syncer: downloading directory: %w", err)
	}
	dir, err := directory.Parse(dirBytes)
	if err != nil {
		return result, fmt.Errorf("syncer: parsing directory: %w", err)
	}

	localNames, err := o.localCanonicalNames()
	if err != nil {
		return result, err
	}

	for _, entry := range dir.Entries {
		if opts.SkipArchived && entry.Flags.Archived() {
			continue
		}
		_, exists := localNames[entry.CanonicalName()]
		if exists && entry.Flags.Archived() {
			// Already have the finalized copy; only unarchived
			// (still-updating) or missing files are re-fetched.
			continue
		}
		if err := o.downloadEntry(dl, entry); err != nil {
			o.logger.WithError(err).WithField("index", entry.Index).Warn("download failed, continuing")
			continue
		}
		result.Downloaded = append(result.Downloaded, entry.CanonicalName())
	}

	if opts.Upload {
		up := upload.New(o.radio, o.logger)
		uploaded, err := o.uploadCandidates(dl, up, dir)
		if err != nil {
			o.logger.WithError(err).Warn("upload pass failed")
		}
		result.Uploaded = uploaded
	}

	return result, nil
}

func (o *Orchestrator) downloadEntry(dl *download.Engine, entry directory.Entry) error {
	folder := entry.SubType.FolderName()
	if folder == "" {
		return fmt.Errorf("syncer: unknown sub-type %d for index %d", entry.SubType, entry.Index)
	}
	data, err := dl.Download(entry.Index, o.progressFn(entry.CanonicalName()))
	if err != nil {
		if o.report != nil {
			o.report.Done(entry.CanonicalName(), err)
		}
		return err
	}
	path := filepath.Join(o.profile.SubfolderPath(folder), entry.CanonicalName())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("syncer: writing %s: %w", path, err)
	}
	if o.report != nil {
		o.report.Done(entry.CanonicalName(), nil)
	}
	if o.hooks != nil {
		o.hooks.Fire(hooks.ActionDownload, path, entry.SubType.FolderName())
	}
	return nil
}

// uploadCandidates walks every upload-eligible subfolder, and for any
// local file not already present in the remote directory, uploads it.
// Once every candidate has been pushed, it re-fetches the directory
// once (the device assigns each upload's final index and identifier,
// neither knowable up front) and renames each uploaded file in place
// to its device-assigned canonical name, mirroring the original
// client's upload-then-rename pass (program.py's upload_directory).
func (o *Orchestrator) uploadCandidates(dl *download.Engine, up *upload.Engine, dir directory.Directory) ([]string, error) {
	pending := make(map[uint16]string) // requested index -> local path
	nextIdx := nextFreeIndex(dir)
	remote := make(map[string]bool, len(dir.Entries))
	for _, entry := range dir.Entries {
		remote[entry.CanonicalName()] = true
	}

	for subtype, folder := range uploadableFolders() {
		entries, err := os.ReadDir(o.profile.SubfolderPath(folder))
		if err != nil {
			continue
		}
		for _, fileEntry := range entries {
			if fileEntry.IsDir() || remote[fileEntry.Name()] {
				continue
			}
			path := filepath.Join(o.profile.SubfolderPath(folder), fileEntry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				o.logger.WithError(err).Warn("reading upload candidate")
				continue
			}

			idx := nextIdx
			nextIdx++
			if err := up.Upload(idx, data, o.progressFn(fileEntry.Name())); err != nil {
				o.logger.WithError(err).WithField("file", fileEntry.Name()).Warn("upload failed")
				continue
			}
			pending[idx] = path
			if o.hooks != nil {
				o.hooks.Fire(hooks.ActionUpload, path, folderNameOf(subtype))
			}
		}
	}

	if len(pending) == 0 {
		return nil, nil
	}

	dirBytes, err := dl.Download(0, o.progressFn("directory"))
	if err != nil {
		return nil, fmt.Errorf("syncer: re-fetching directory after upload: %w", err)
	}
	fresh, err := directory.Parse(dirBytes)
	if err != nil {
		return nil, fmt.Errorf("syncer: parsing directory after upload: %w", err)
	}

	var uploaded []string
	for _, entry := range fresh.Entries {
		src, ok := pending[entry.Index]
		if !ok {
			continue
		}
		folder := entry.SubType.FolderName()
		if folder == "" {
			o.logger.WithField("index", entry.Index).Warn("uploaded entry has unknown sub-type, leaving unrenamed")
			continue
		}
		dst := filepath.Join(o.profile.SubfolderPath(folder), entry.CanonicalName())
		if err := os.Rename(src, dst); err != nil {
			o.logger.WithError(err).WithField("index", entry.Index).Warn("renaming uploaded file to canonical name failed")
			continue
		}
		uploaded = append(uploaded, entry.CanonicalName())
	}
	return uploaded, nil
}

func (o *Orchestrator) localCanonicalNames() (map[string]string, error) {
	names := make(map[string]string)
	for _, folder := range allFolders() {
		root := o.profile.SubfolderPath(folder)
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			names[e.Name()] = filepath.Join(root, e.Name())
		}
	}
	return names, nil
}

func (o *Orchestrator) progressFn(name string) func(float64) {
	if o.report == nil {
		return nil
	}
	return func(fraction float64) { o.report.Report(name, fraction) }
}

func allFolders() []string {
	return []string{
		"device", "settings", "sport_settings", "activities", "workouts",
		"courses", "weight", "totals", "goals", "blood_pressure", "activity_summary",
	}
}

func uploadableFolders() map[directory.SubType]string {
	return map[directory.SubType]string{
		directory.SubTypeWorkout: "workouts",
		directory.SubTypeCourse:  "courses",
		directory.SubTypeWeight:  "weight",
	}
}

func folderNameOf(s directory.SubType) string { return s.FolderName() }

// nextFreeIndex picks an index not already used by the known
// directory entries. The device is the actual authority on indices
// once UPLOAD REQUEST's capacity response comes back; this is only
// the value placed in the query.
func nextFreeIndex(dir directory.Directory) uint16 {
	var max uint16
	for _, e := range dir.Entries {
		if e.Index > max {
			max = e.Index
		}
	}
	return max + 1
}
