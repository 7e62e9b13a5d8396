// Package config loads ptpd's configuration: a small struct of
// defaults overlaid with an optional YAML file, in the style the rest
// of the corpus uses for its daemons.
package config

import (
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
)

// Config holds everything the daemon needs beyond the backing
// directory given on the command line.
type Config struct {
	// ModelDir is the synthetic subdirectory name exposed under DCIM
	// (handle 2), matching the model-name directory a real camera
	// advertises.
	ModelDir string `koanf:"modeldir"`

	// ThumbDir is the optional thumbnail cache directory. Empty
	// disables thumbnail generation entirely.
	ThumbDir string `koanf:"thumbdir"`

	// ThumbnailTool is the external image-conversion command invoked
	// to populate the thumbnail cache, per spec.md section 6.
	ThumbnailTool string `koanf:"thumbnailtool"`

	// StorageID is the single storage unit's fixed identifier.
	StorageID uint32 `koanf:"storageid"`

	// DataChunkSize is the data-phase chunk size in bytes for large
	// object transfers.
	DataChunkSize int `koanf:"datachunksize"`

	// DeviceRoot is the directory containing the FunctionFS endpoint
	// files (ep0..ep3).
	DeviceRoot string `koanf:"deviceroot"`

	// Manufacturer and Model populate GetDeviceInfo.
	Manufacturer string `koanf:"manufacturer"`
	Model        string `koanf:"model"`
}

// Default returns the configuration used when no ptpd.yml is present.
func Default() Config {
	return Config{
		ModelDir:      "MODEL",
		ThumbDir:      "",
		ThumbnailTool: "convert",
		StorageID:     0x00010001,
		DataChunkSize: 8192,
		DeviceRoot:    "/dev/functionfs/ptp",
		Manufacturer:  "ptpd",
		Model:         "ptpd",
	}
}

// Load returns Default() overlaid with path, if path exists and
// parses as YAML. A missing file is not an error; any other read or
// parse failure is.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, errors.Wrap(err, "config: load defaults")
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such file") {
			return Config{}, errors.Wrapf(err, "config: load %s", path)
		}
	}
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, errors.Wrap(err, "config: unmarshal")
	}
	return c, nil
}
