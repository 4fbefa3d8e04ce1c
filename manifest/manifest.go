// Package manifest handles grass.toml engine configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/chazu/grass/driver"
	"github.com/chazu/grass/vm"
)

// FileName is the name of the configuration file.
const FileName = "grass.toml"

// ErrInvalid is returned for configuration files that decode but make no
// sense.
var ErrInvalid = errors.New("invalid manifest")

// Manifest represents a grass.toml configuration.
type Manifest struct {
	Tracer  Tracer  `toml:"tracer"`
	Journal Journal `toml:"journal"`
	Log     Log     `toml:"log"`

	// Dir is the directory containing the grass.toml file (set at load
	// time). Empty for Default().
	Dir string `toml:"-"`
}

// Tracer configures the driver's tracer.
type Tracer struct {
	HotThreshold uint64 `toml:"hot-threshold"`
	MaxTraces    int    `toml:"max-traces"`
	Optimize     bool   `toml:"optimize"`
	Disabled     bool   `toml:"disabled"`
}

// Journal configures the trace journal. An empty Path disables it.
type Journal struct {
	Path string `toml:"path"`
	Load bool   `toml:"load"` // warm the trace cache from the journal
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"` // empty logs to stderr
}

// Default returns the configuration used when no grass.toml exists.
func Default() *Manifest {
	return &Manifest{
		Tracer: Tracer{HotThreshold: vm.DefaultHotThreshold},
		Log:    Log{Verbosity: 1},
	}
}

// Load parses a grass.toml file from the given directory. Keys missing
// from the file keep their Default() values; unknown keys are an error.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes grass.toml content over Default().
func Parse(data string) (*Manifest, error) {
	m := Default()
	md, err := toml.Decode(data, m)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) validate() error {
	if m.Tracer.MaxTraces < 0 {
		return fmt.Errorf("%w: tracer.max-traces is %d", ErrInvalid, m.Tracer.MaxTraces)
	}
	if m.Journal.Load && m.Journal.Path == "" {
		return fmt.Errorf("%w: journal.load needs journal.path", ErrInvalid)
	}
	return nil
}

// FindAndLoad walks up from startDir to find a grass.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// DriverOptions converts the [tracer] section into driver options.
func (m *Manifest) DriverOptions() driver.Options {
	return driver.Options{
		HotThreshold: m.Tracer.HotThreshold,
		MaxTraces:    m.Tracer.MaxTraces,
		Optimize:     m.Tracer.Optimize,
		Disabled:     m.Tracer.Disabled,
	}
}

// JournalPath returns the journal path resolved against Dir, or "" when
// no journal is configured.
func (m *Manifest) JournalPath() string {
	return m.resolve(m.Journal.Path)
}

// LogPath returns the log file path resolved against Dir, or "" for
// stderr.
func (m *Manifest) LogPath() string {
	return m.resolve(m.Log.File)
}

func (m *Manifest) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || m.Dir == "" {
		return path
	}
	return filepath.Join(m.Dir, path)
}
