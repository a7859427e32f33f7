// Command antfs-cli runs one sync pass against an ANT-FS fitness
// device: establish the session link, authenticate, download new
// files, and (optionally) upload new local ones. See SPEC_FULL.md §6
// for the full CLI surface and on-disk layout.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hexad/antfs/internal/hooks"
	progresstui "github.com/hexad/antfs/internal/progress"
	"github.com/hexad/antfs/pkg/channel"
	"github.com/hexad/antfs/pkg/dongle"
	"github.com/hexad/antfs/pkg/profile"
	"github.com/hexad/antfs/pkg/syncer"
	"github.com/hexad/antfs/pkg/transport"
)

// defaultNetworkKey is the public ANT-FS network key every host and
// device on this profile shares; there is nothing secret about it.
var defaultNetworkKey = [8]byte{0xA8, 0xA4, 0x23, 0xB9, 0xF5, 0x5E, 0x63, 0xC1}

// Exit codes per SPEC_FULL.md §6.
const (
	exitOK              = 0
	exitFatal           = 1
	exitVersionMismatch = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		upload        bool
		pair          bool
		skipArchived  bool
		debug         bool
		searchTimeout byte
	)

	root := &cobra.Command{
		Use:           "antfs-cli",
		Short:         "Synchronise an ANT-FS fitness device with the local filesystem",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			logger.SetLevel(logrus.InfoLevel)
			if debug {
				logger.SetLevel(logrus.DebugLevel)
				logger.SetOutput(os.Stderr)
			}
			return doSync(logger, syncer.Options{
				Upload:        upload,
				Pair:          pair,
				SkipArchived:  skipArchived,
				SearchTimeout: searchTimeout,
				NetworkKey:    defaultNetworkKey,
			})
		},
	}

	root.Flags().BoolVar(&upload, "upload", false, "enable the upload leg of sync")
	root.Flags().BoolVar(&pair, "pair", false, "force re-pairing even if a passkey already exists")
	root.Flags().BoolVarP(&skipArchived, "skip-archived", "a", false, "do not download files flagged archived")
	root.Flags().BoolVar(&debug, "debug", false, "log at debug level (log output goes to stderr with or without this flag)")
	root.Flags().Uint8Var(&searchTimeout, "search-timeout", 0, "channel search timeout override (0 keeps the dongle default)")

	if err := root.Execute(); err != nil {
		var vme *profile.ErrVersionMismatch
		if asVersionMismatch(err, &vme) {
			fmt.Fprintln(os.Stderr, err)
			return exitVersionMismatch
		}
		fmt.Fprintln(os.Stderr, err)
		return exitFatal
	}
	return exitOK
}

func asVersionMismatch(err error, target **profile.ErrVersionMismatch) bool {
	for err != nil {
		if vme, ok := err.(*profile.ErrVersionMismatch); ok {
			*target = vme
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func doSync(logger *logrus.Logger, opts syncer.Options) error {
	drv, err := dongle.Open(
		dongle.NewUSBFinder(dongle.KnownUSBSticks),
		dongle.NewSerialFinder(dongle.SerialPaths),
	)
	if err != nil {
		return fmt.Errorf("antfs-cli: opening dongle: %w", err)
	}

	core := transport.New(drv, logger)
	if err := core.Start(); err != nil {
		return fmt.Errorf("antfs-cli: starting transport: %w", err)
	}
	defer core.Stop()

	ch := channel.New(core, 0, logger)

	configDir, err := configHome()
	if err != nil {
		return fmt.Errorf("antfs-cli: locating config directory: %w", err)
	}
	registry, err := profile.OpenRegistry(configDir, logger)
	if err != nil {
		return err
	}

	hookRunner := hooks.NewRunner(filepath.Join(configDir, "scripts"), logger)
	defer hookRunner.Wait()

	tui := progresstui.Start()
	defer tui.Quit()

	orch := syncer.New(ch, core.Events(), nil, hookRunner, tui, logger)
	orch.ResolveProfileBy(func(serial uint32) (*profile.Profile, error) {
		prof, err := profile.Load(filepath.Join(configDir, fmt.Sprintf("%d", serial)), serial, logger)
		if err != nil {
			return nil, err
		}
		if err := registry.Remember(serial, prof.Name, prof.Root); err != nil {
			logger.WithError(err).Warn("recording device in registry")
		}
		return prof, nil
	})

	if err := orch.EstablishLink(opts); err != nil {
		return fmt.Errorf("antfs-cli: establishing link: %w", err)
	}

	result, err := orch.Sync(opts)
	if err != nil {
		return fmt.Errorf("antfs-cli: sync: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"downloaded": len(result.Downloaded),
		"uploaded":   len(result.Uploaded),
	}).Info("sync complete")
	return nil
}

// configHome resolves the per-host config root following the
// environment variables named in SPEC_FULL.md §6 — XDG_CONFIG_HOME,
// falling back to $HOME/.config. The XDG *specification*'s broader
// rules (data dirs precedence, cache dirs) are out of scope; only the
// one directory this module writes into is resolved, with stdlib
// os.Getenv, matching spec.md §1's explicit non-goal of pulling in an
// XDG-compliance library for this single lookup.
func configHome() (string, error) {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "antfs-cli"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "antfs-cli"), nil
}
