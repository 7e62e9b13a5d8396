package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/theckman/yacspin"

	"github.com/ptp-gadget/ptpd/bulk"
	"github.com/ptp-gadget/ptpd/config"
	"github.com/ptp-gadget/ptpd/control"
	"github.com/ptp-gadget/ptpd/engine"
	"github.com/ptp-gadget/ptpd/gadget"
	"github.com/ptp-gadget/ptpd/objectstore"
	"github.com/ptp-gadget/ptpd/ptp"
	"github.com/ptp-gadget/ptpd/reset"
	"github.com/ptp-gadget/ptpd/thumbnail"
)

const configFileName = "ptpd.yml"

func main() {
	os.Exit(run())
}

// run performs the daemon's entire lifecycle and returns the process
// exit code: 0 on normal termination, nonzero on any initialization
// failure, matching spec.md section 6's CLI contract.
func run() int {
	verbosity, backingDir, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg, err := config.Load(configFileName)
	if err != nil {
		logger.Printf("error loading %s: %v", configFileName, err)
		return 1
	}

	if _, err := os.Stat(backingDir); err != nil {
		logger.Printf("backing directory %s: %v", backingDir, err)
		return 1
	}

	store := objectstore.New(backingDir, cfg.ModelDir, cfg.StorageID)
	if verbosity >= 1 {
		if err := enumerateWithSpinner(store); err != nil {
			logger.Printf("enumerating %s: %v", backingDir, err)
			return 1
		}
	} else if err := store.Enumerate(); err != nil {
		logger.Printf("enumerating %s: %v", backingDir, err)
		return 1
	}

	thumbs := thumbnail.NewCache(cfg.ThumbDir, cfg.ThumbnailTool)

	device := ptp.DeviceInfo{Manufacturer: cfg.Manufacturer, Model: cfg.Model}
	eng := engine.New(store, device, storageDescription(backingDir))
	eng.Thumbnailer = thumbs
	eng.Logger = logger
	eng.ChunkSize = cfg.DataChunkSize
	eng.Level = verbosity

	g, err := gadget.Open(cfg.DeviceRoot)
	if err != nil {
		logger.Printf("opening gadget endpoints at %s: %v", cfg.DeviceRoot, err)
		return 1
	}
	defer g.Close()

	coord := reset.New()
	defer coord.Close()

	ctrl := &control.Engine{
		Gadget:      g,
		PTP:         eng,
		Coordinator: coord,
		Logger:      logger,
		Level:       verbosity,
		NewRunner: func(bulkIn io.Writer, bulkOut io.Reader) control.BulkRunner {
			return bulk.NewEngine(eng, bulkIn, bulkOut, coord, logger)
		},
	}

	if verbosity >= 1 {
		printBanner(cfg, backingDir)
	}

	ctrl.Run()
	return 0
}

// parseArgs implements the `ptpd [-v]* <backing-directory>` surface:
// each -v increases verbosity, and exactly one positional argument
// names the backing directory.
func parseArgs(args []string) (verbosity int, backingDir string, err error) {
	var positional []string
	for _, a := range args {
		switch a {
		case "-v":
			verbosity++
		default:
			positional = append(positional, a)
		}
	}
	if len(positional) != 1 {
		return 0, "", fmt.Errorf("usage: ptpd [-v]* <backing-directory>")
	}
	dir, err := filepath.Abs(positional[0])
	if err != nil {
		return 0, "", err
	}
	return verbosity, dir, nil
}

func storageDescription(dir string) string {
	return fmt.Sprintf("removable storage (%s)", dir)
}

func enumerateWithSpinner(store *objectstore.Store) error {
	cfg := yacspin.Config{
		Frequency:       100_000_000,
		CharSet:         yacspin.CharSets[9],
		Suffix:          " enumerating backing directory",
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	}
	spinner, err := yacspin.New(cfg)
	if err != nil {
		return err
	}
	if err := spinner.Start(); err != nil {
		return err
	}
	err = store.Enumerate()
	if err != nil {
		spinner.StopFailMessage(err.Error())
		_ = spinner.StopFail()
		return err
	}
	spinner.StopMessage(fmt.Sprintf("enumerated %d objects", store.Count()))
	return spinner.Stop()
}

func printBanner(cfg config.Config, backingDir string) {
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s serving %s as %s\n", bold("ptpd"), green(backingDir), cfg.DeviceRoot)
}
