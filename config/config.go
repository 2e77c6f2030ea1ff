package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"go.yaml.in/yaml/v3"

	"github.com/ardnew/softgmu/firmware"
	"github.com/ardnew/softgmu/hfi"
	"github.com/ardnew/softgmu/host"
	"github.com/ardnew/softgmu/host/hal"
	"github.com/ardnew/softgmu/pkg"
	"github.com/ardnew/softgmu/pkg/metrics"
)

// ErrInvalidConfig indicates a configuration value out of range.
var ErrInvalidConfig = errors.New("invalid config")

// File is the on-disk configuration.
type File struct {
	HFI       HFI       `yaml:"hfi"`
	Power     Power     `yaml:"power"`
	Bandwidth Bandwidth `yaml:"bandwidth"`
	Firmware  Firmware  `yaml:"firmware"`
	Metrics   Metrics   `yaml:"metrics"`
	Log       Log       `yaml:"log"`
}

// HFI configures the host transport and bootstrap.
type HFI struct {
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`

	// Features are names (dcvs, hwsched, preemption, acd) or numeric ids.
	Features []string `yaml:"features"`

	// BootLevel is the GPU level voted at bootstrap; unset or -1 selects
	// the highest level.
	BootLevel     *int   `yaml:"boot_level"`
	BootBandwidth uint32 `yaml:"boot_bandwidth"`

	NotifyOnStop bool `yaml:"notify_on_stop"`
	Legacy       bool `yaml:"legacy"`
}

// Level is one power level. ACD applies to GPU levels only; a GPU level
// without one is sent as hfi.ACDUnused.
type Level struct {
	FreqKHz uint32  `yaml:"freq_khz"`
	Vote    uint32  `yaml:"vote"`
	ACD     *uint32 `yaml:"acd"`
}

// Power lists the GPU and GMU power levels, lowest first.
type Power struct {
	GPU []Level `yaml:"gpu"`
	GMU []Level `yaml:"gmu"`
}

// Bandwidth is the bus bandwidth table. Its contents are passed to the
// firmware unchanged; only the dimensions are checked.
type Bandwidth struct {
	CNOCWaitBitmask uint32     `yaml:"cnoc_wait_bitmask"`
	DDRWaitBitmask  uint32     `yaml:"ddr_wait_bitmask"`
	CNOCAddrs       []uint32   `yaml:"cnoc_addrs"`
	CNOCData        [][]uint32 `yaml:"cnoc_data"` // One row per CNOC level
	DDRAddrs        []uint32   `yaml:"ddr_addrs"`
	DDRData         [][]uint32 `yaml:"ddr_data"` // One row per bandwidth level
}

// Firmware configures the simulated firmware.
type Firmware struct {
	Version   uint32 `yaml:"version"`
	EnableLog *bool  `yaml:"enable_log"`
}

// Metrics configures the Prometheus endpoint. An empty Listen disables it.
type Metrics struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

// Log configures the default logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var (
	_ hal.PowerTableProvider     = (*File)(nil)
	_ hal.BandwidthTableProvider = (*File)(nil)
)

// Default returns the built-in configuration: a small three-level GPU table
// suitable for the simulator.
func Default() *File {
	highest := host.HighestLevel
	enableLog := true
	return &File{
		HFI: HFI{
			ResponseTimeout: host.DefaultResponseTimeout,
			PollInterval:    host.DefaultPollInterval,
			Features:        []string{"acd"},
			BootLevel:       &highest,
		},
		Power: Power{
			GPU: []Level{
				{FreqKHz: 0, Vote: 0x0},
				{FreqKHz: 305000, Vote: 0x20},
				{FreqKHz: 585000, Vote: 0x40},
			},
			GMU: []Level{
				{FreqKHz: 0, Vote: 0x0},
				{FreqKHz: 200000, Vote: 0x60},
			},
		},
		Bandwidth: Bandwidth{
			DDRWaitBitmask: 0x1,
			DDRAddrs:       []uint32{0x50000},
			DDRData:        [][]uint32{{0x0}, {0x60000100}},
		},
		Firmware: Firmware{
			Version:   hfi.SupportedVersion,
			EnableLog: &enableLog,
		},
		Metrics: Metrics{Path: "/metrics"},
		Log:     Log{Level: "warn", Format: "text"},
	}
}

// Load reads the configuration at path. A directory loads every .yaml and
// .yml file within it in lexical order, each overriding the ones before.
// Unset values take their defaults.
func Load(path string) (*File, error) {
	files, err := resolve(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no config files found at %s", path)
	}

	var f File
	for _, name := range files {
		b, err := os.ReadFile(name)
		if err != nil {
			return nil, err
		}
		next, err := decode(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if err := mergo.Merge(&f, next, mergo.WithOverride); err != nil {
			return nil, err
		}
	}

	pkg.LogDebug(pkg.ComponentConfig, "config loaded", "files", files)
	return finish(&f)
}

// Parse decodes a configuration from raw YAML. Empty input yields the
// defaults.
func Parse(raw []byte) (*File, error) {
	f, err := decode(raw)
	if err != nil {
		return nil, err
	}
	return finish(f)
}

func decode(raw []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &f, nil
}

func finish(f *File) (*File, error) {
	if err := mergo.Merge(f, Default()); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func resolve(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("problem while reading directory %s: %w", path, err)
	}
	var files []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Validate checks every value against the limits of the HFI messages that
// carry it.
func (f *File) Validate() error {
	if f.HFI.ResponseTimeout <= 0 || f.HFI.PollInterval <= 0 {
		return fmt.Errorf("%w: hfi timeouts must be positive", ErrInvalidConfig)
	}
	if _, err := f.features(); err != nil {
		return err
	}

	p := f.Power
	if len(p.GPU) == 0 || len(p.GPU) > hfi.MaxGXLevels {
		return fmt.Errorf("%w: %d gpu levels, want 1..%d", ErrInvalidConfig, len(p.GPU), hfi.MaxGXLevels)
	}
	if len(p.GMU) > hfi.MaxCXLevels {
		return fmt.Errorf("%w: %d gmu levels, want at most %d", ErrInvalidConfig, len(p.GMU), hfi.MaxCXLevels)
	}
	if lvl := f.HFI.BootLevel; lvl != nil && *lvl != host.HighestLevel && (*lvl < 0 || *lvl >= len(p.GPU)) {
		return fmt.Errorf("%w: boot level %d out of range", ErrInvalidConfig, *lvl)
	}

	b := f.Bandwidth
	switch {
	case len(b.CNOCAddrs) > hfi.MaxCNOCCmds:
		return fmt.Errorf("%w: %d cnoc commands, want at most %d", ErrInvalidConfig, len(b.CNOCAddrs), hfi.MaxCNOCCmds)
	case len(b.CNOCData) > hfi.MaxCNOCLevels:
		return fmt.Errorf("%w: %d cnoc levels, want at most %d", ErrInvalidConfig, len(b.CNOCData), hfi.MaxCNOCLevels)
	case len(b.DDRAddrs) > hfi.MaxDDRCmds:
		return fmt.Errorf("%w: %d ddr commands, want at most %d", ErrInvalidConfig, len(b.DDRAddrs), hfi.MaxDDRCmds)
	case len(b.DDRData) > hfi.MaxBWLevels:
		return fmt.Errorf("%w: %d bandwidth levels, want at most %d", ErrInvalidConfig, len(b.DDRData), hfi.MaxBWLevels)
	}
	for i, row := range b.CNOCData {
		if len(row) > len(b.CNOCAddrs) {
			return fmt.Errorf("%w: cnoc level %d has %d values for %d commands", ErrInvalidConfig, i, len(row), len(b.CNOCAddrs))
		}
	}
	for i, row := range b.DDRData {
		if len(row) > len(b.DDRAddrs) {
			return fmt.Errorf("%w: bandwidth level %d has %d values for %d commands", ErrInvalidConfig, i, len(row), len(b.DDRAddrs))
		}
	}
	if bw := f.HFI.BootBandwidth; len(b.DDRData) > 0 && int(bw) >= len(b.DDRData) {
		return fmt.Errorf("%w: boot bandwidth %d out of range", ErrInvalidConfig, bw)
	}

	if _, ok := pkg.ParseLogLevel(f.Log.Level); !ok {
		return fmt.Errorf("%w: log level %q", ErrInvalidConfig, f.Log.Level)
	}
	if format := f.Log.Format; format != "text" && format != "json" {
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, format)
	}
	return nil
}

// features resolves the configured feature names.
func (f *File) features() ([]hfi.Feature, error) {
	out := make([]hfi.Feature, 0, len(f.HFI.Features))
	for _, name := range f.HFI.Features {
		switch strings.ToLower(name) {
		case "dcvs":
			out = append(out, hfi.FeatureDCVS)
		case "hwsched":
			out = append(out, hfi.FeatureHWSched)
		case "preemption":
			out = append(out, hfi.FeaturePreemption)
		case "acd":
			out = append(out, hfi.FeatureACD)
		default:
			id, err := strconv.ParseUint(name, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: unknown feature %q", ErrInvalidConfig, name)
			}
			out = append(out, hfi.Feature(id))
		}
	}
	return out, nil
}

// HostConfig converts the hfi section to a host configuration reporting to
// m, which may be nil.
func (f *File) HostConfig(m *metrics.Metrics) (host.Config, error) {
	features, err := f.features()
	if err != nil {
		return host.Config{}, err
	}
	cfg := host.Config{
		ResponseTimeout: f.HFI.ResponseTimeout,
		PollInterval:    f.HFI.PollInterval,
		Features:        features,
		BootLevel:       f.HFI.BootLevel,
		BootBandwidth:   f.HFI.BootBandwidth,
		NotifyOnStop:    f.HFI.NotifyOnStop,
		Legacy:          f.HFI.Legacy,
		Metrics:         m,
	}
	return cfg, nil
}

// FirmwareConfig converts the firmware section to a simulated firmware
// configuration. The legacy flag follows the hfi section.
func (f *File) FirmwareConfig() firmware.Config {
	cfg := firmware.DefaultConfig()
	if f.Firmware.Version != 0 {
		cfg.Version = f.Firmware.Version
	}
	if f.Firmware.EnableLog != nil {
		cfg.EnableLog = *f.Firmware.EnableLog
	}
	cfg.Legacy = f.HFI.Legacy
	return cfg
}

// ApplyLog configures the default logger from the log section.
func (f *File) ApplyLog() {
	if level, ok := pkg.ParseLogLevel(f.Log.Level); ok {
		pkg.SetLogLevel(level)
	}
	pkg.SetLogFormat(pkg.ParseLogFormat(f.Log.Format))
}

// PowerLevels implements hal.PowerTableProvider.
func (f *File) PowerLevels() ([]hfi.GXPerfLevel, []hfi.PerfLevel, error) {
	gpu := make([]hfi.GXPerfLevel, len(f.Power.GPU))
	for i, l := range f.Power.GPU {
		acd := hfi.ACDUnused
		if l.ACD != nil {
			acd = *l.ACD
		}
		gpu[i] = hfi.GXPerfLevel{Vote: l.Vote, ACD: acd, Freq: l.FreqKHz}
	}
	gmu := make([]hfi.PerfLevel, len(f.Power.GMU))
	for i, l := range f.Power.GMU {
		gmu[i] = hfi.PerfLevel{Vote: l.Vote, Freq: l.FreqKHz}
	}
	return gpu, gmu, nil
}

// BandwidthTable implements hal.BandwidthTableProvider.
func (f *File) BandwidthTable() (*hfi.BandwidthTable, error) {
	b := f.Bandwidth
	if len(b.CNOCAddrs) > hfi.MaxCNOCCmds || len(b.CNOCData) > hfi.MaxCNOCLevels ||
		len(b.DDRAddrs) > hfi.MaxDDRCmds || len(b.DDRData) > hfi.MaxBWLevels {
		return nil, fmt.Errorf("%w: bandwidth table too large", ErrInvalidConfig)
	}

	t := &hfi.BandwidthTable{
		NumLevels:       uint32(len(b.DDRData)),
		NumCNOCCmds:     uint32(len(b.CNOCAddrs)),
		NumDDRCmds:      uint32(len(b.DDRAddrs)),
		CNOCWaitBitmask: b.CNOCWaitBitmask,
		DDRWaitBitmask:  b.DDRWaitBitmask,
	}
	copy(t.CNOCCmdAddrs[:], b.CNOCAddrs)
	for i, row := range b.CNOCData {
		copy(t.CNOCCmdData[i][:], row)
	}
	copy(t.DDRCmdAddrs[:], b.DDRAddrs)
	for i, row := range b.DDRData {
		copy(t.DDRCmdData[i][:], row)
	}
	return t, nil
}
