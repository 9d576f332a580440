package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/identity"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// appName is the canonical name of the keygen utility used for logging.
const appName = "PGL-Mirror-Keygen"

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s (version %s):\n", appName, buildinfo.Version)
		fmt.Fprintf(flag.CommandLine.Output(), "Generates an Ed25519 peer identity for pgl-mirror.\n\n")
		flag.PrintDefaults()
	}
}

func run() error {
	outputFlag := flag.String("output", "", "Directory to write the key pair into (default ~/.pgl-mirror).")
	versionFlag := flag.Bool("version", false, "Print the application version and exit.")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s version %s\n", appName, buildinfo.Version)
		return nil
	}

	dir := *outputFlag
	if dir == "" {
		var err error
		if dir, err = identity.DefaultDir(); err != nil {
			return err
		}
	}

	if err := identity.CheckDir(dir); err != nil {
		return err
	}

	plog.Notice("Generating new Ed25519 keypair", "dir", dir)
	priv, err := identity.Generate()
	if err != nil {
		return err
	}

	id, err := identity.Save(dir, priv)
	if err != nil {
		return err
	}
	plog.Notice("Peer ID", "id", id.String())

	// Sanity check: the key written to disk must load back and derive the
	// same peer ID.
	loaded, err := identity.Load(dir, id)
	if err != nil {
		return fmt.Errorf("generated key failed to load back: %w", err)
	}
	if !loaded.Equals(priv) {
		return fmt.Errorf("generated key round-trip mismatch")
	}

	plog.Notice("Keys written", "dir", dir)
	return nil
}

func main() {
	if err := run(); err != nil {
		plog.Error(appName+" exited with error", "error", err)
		os.Exit(1)
	}
}
