package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/engine"
	"github.com/paulschiretz/pgl-mirror/pkg/flagparse"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// action defines a special command to execute instead of running the
// daemon.
type action int

const (
	actionRunMirror action = iota // The default action is to run the mirror daemon.
	actionShowVersion
	actionInitConfig
)

// init sets up a custom, more descriptive help message for the
// command-line flags.
func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s (version %s):\n", buildinfo.Name, buildinfo.Version)
		fmt.Fprintf(flag.CommandLine.Output(), "A live directory mirroring daemon: watches a source tree and replays every change against a destination tree.\n\n")
		flag.PrintDefaults()
	}
}

// parseFlagConfig defines and parses command-line flags, and constructs a
// map containing only the values the user explicitly provided.
func parseFlagConfig() (action, map[string]any, error) {
	// Flags cover options worth overriding for a single run. Long-term
	// behavior belongs in pgl-mirror.config.json inside the output root.
	srcFlag := flag.String("source", "", "Source directory to watch and mirror from")
	targetFlag := flag.String("target", "", "Destination directory to mirror into")
	logLevelFlag := flag.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	quietFlag := flag.Bool("quiet", false, "Suppress per-event INFO output.")
	dryRunFlag := flag.Bool("dry-run", false, "Show what would be done without making any changes.")
	metricsFlag := flag.Bool("metrics", true, "Enable file-counting metrics and the periodic progress line.")
	seedFlag := flag.Bool("seed", true, "Bring the destination up to date with the source before watching.")
	workersFlag := flag.Int("workers", 0, "Number of worker goroutines for the seed pass (0 = one per CPU).")
	bufferSizeKBFlag := flag.Int("buffer-size-kb", 0, "Size of the I/O buffer in kilobytes for file copies.")
	renameWindowFlag := flag.Int("rename-window-ms", 0, "Milliseconds to wait for the second endpoint of a rename.")
	archiveFlag := flag.Bool("archive", false, "Archive the existing destination tree before mirroring starts.")
	archiveFormatFlag := flag.String("archive-format", "", "Archive format: 'tar.gz' or 'tar.zst'.")
	archiveDirFlag := flag.String("archive-dir", "", "Directory receiving pre-run archives.")
	userExcludeFilesFlag := flag.String("user-exclude-files", "", "Comma-separated list of case-insensitive file names to exclude (supports glob patterns).")
	userExcludeDirsFlag := flag.String("user-exclude-dirs", "", "Comma-separated list of case-insensitive directory names to exclude (supports glob patterns).")
	initFlag := flag.Bool("init", false, "Generate a default pgl-mirror.config.json in the target directory and exit.")
	versionFlag := flag.Bool("version", false, "Print the application version and exit.")

	flag.Parse()

	// Only explicitly-set flags may override the loaded configuration.
	usedFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]any)

	addIfUsed := func(name string, value any) {
		if usedFlags[name] {
			flagMap[name] = value
		}
	}
	addParsedIfUsed := func(name string, rawValue string, parser func(string) []string) {
		if usedFlags[name] {
			flagMap[name] = parser(rawValue)
		}
	}

	addIfUsed("source", *srcFlag)
	addIfUsed("target", *targetFlag)
	addIfUsed("log-level", *logLevelFlag)
	addIfUsed("quiet", *quietFlag)
	addIfUsed("dry-run", *dryRunFlag)
	addIfUsed("metrics", *metricsFlag)
	addIfUsed("seed", *seedFlag)
	addIfUsed("workers", *workersFlag)
	addIfUsed("buffer-size-kb", *bufferSizeKBFlag)
	addIfUsed("rename-window-ms", *renameWindowFlag)
	addIfUsed("archive", *archiveFlag)
	addIfUsed("archive-format", *archiveFormatFlag)
	addIfUsed("archive-dir", *archiveDirFlag)

	addParsedIfUsed("user-exclude-files", *userExcludeFilesFlag, flagparse.ParseExcludeList)
	addParsedIfUsed("user-exclude-dirs", *userExcludeDirsFlag, flagparse.ParseExcludeList)

	if *versionFlag {
		return actionShowVersion, flagMap, nil
	}
	if *initFlag {
		return actionInitConfig, flagMap, nil
	}
	return actionRunMirror, flagMap, nil
}

// runInit generates a config file in the target directory.
func runInit(flagMap map[string]any) error {
	if _, ok := flagMap["target"]; !ok {
		return fmt.Errorf("the -target flag is required for the init operation")
	}

	runConfig := config.MergeConfigWithFlags(config.NewDefault(), flagMap)
	if err := os.MkdirAll(runConfig.OutputBase, 0755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}
	if err := config.Generate(runConfig); err != nil {
		return err
	}
	plog.Info(buildinfo.Name + " configuration successfully initialized.")
	return nil
}

// runMirror loads and merges the configuration, then runs the daemon until
// the context is cancelled.
func runMirror(ctx context.Context, flagMap map[string]any) error {
	targetPath, ok := flagMap["target"].(string)
	if !ok || targetPath == "" {
		return fmt.Errorf("the -target flag is required to run the mirror")
	}

	loadedConfig, err := config.Load(targetPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration from target: %w", err)
	}

	runConfig := config.MergeConfigWithFlags(loadedConfig, flagMap)

	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	plog.SetQuiet(runConfig.Runtime.Quiet)

	if err := runConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	runConfig.LogSummary()

	startTime := time.Now()
	err = engine.New(runConfig).Run(ctx)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err // The error is logged with full details by main().
	}
	plog.Notice(buildinfo.Name+" finished.", "duration", duration)
	return nil
}

// run encapsulates the application logic so main can handle exit codes.
func run(ctx context.Context) error {
	plog.Info("Starting "+buildinfo.Name, "version", buildinfo.Version, "pid", os.Getpid())

	action, flagMap, err := parseFlagConfig()
	if err != nil {
		return err
	}

	switch action {
	case actionShowVersion:
		fmt.Printf("%s version %s\n", buildinfo.Name, buildinfo.Version)
		return nil
	case actionInitConfig:
		return runInit(flagMap)
	case actionRunMirror:
		return runMirror(ctx, flagMap)
	default:
		return fmt.Errorf("internal error: unknown action %d", action)
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := run(ctx); err != nil {
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		os.Exit(1)
	}
}
