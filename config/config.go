// Package config defines the splatlod configuration file and how it is read and validated.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/splatlod/fetch"
	"go.viam.com/splatlod/lod"
	"go.viam.com/splatlod/logging"
	"go.viam.com/splatlod/traversal"
)

// Defaults applied to unset fields.
const (
	DefaultMaxSplats    = 1500000
	DefaultScreenHeight = 1080
	DefaultFovY         = math.Pi / 3
	DefaultMinInterval  = time.Millisecond
)

// Config is the top level configuration.
type Config struct {
	ConfigFilePath string `json:"-"`

	LOD       LODConfig                     `json:"lod"`
	Traversal TraversalConfig               `json:"traversal"`
	Fetch     FetchConfig                   `json:"fetch"`
	Trees     []TreeConfig                  `json:"trees"`
	Instances []InstanceConfig              `json:"instances"`
	LogConfig []logging.LoggerPatternConfig `json:"log"`
	Debug     bool                          `json:"debug"`
}

// LODConfig configures tree construction.
type LODConfig struct {
	Base         float64 `json:"base"`
	MinSizeRatio float64 `json:"min_size_ratio"`
}

// TraversalConfig configures frontier selection.
type TraversalConfig struct {
	MaxSplats int `json:"max_splats"`
	// PixelScaleLimit overrides the one pixel threshold derived from ScreenHeight.
	PixelScaleLimit float64       `json:"pixel_scale_limit"`
	ScreenHeight    int           `json:"screen_height"`
	FovX            float64       `json:"fov_x"`
	FovY            float64       `json:"fov_y"`
	MinInterval     time.Duration `json:"min_interval"`
}

// ByteSize is a size in bytes. In config files it is either a number or a string such as "4MiB".
type ByteSize int64

// FetchConfig configures chunked downloads.
type FetchConfig struct {
	ChunkSize   ByteSize `json:"chunk_size"`
	MaxInFlight int      `json:"max_in_flight"`
}

// TreeConfig names a splat file to load, by local path or http(s) URL.
type TreeConfig struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// IsRemote reports whether the source is fetched over HTTP.
func (tc TreeConfig) IsRemote() bool {
	return strings.HasPrefix(tc.Source, "http://") || strings.HasPrefix(tc.Source, "https://")
}

// InstanceConfig places a configured tree in view space.
type InstanceConfig struct {
	Tree string `json:"tree"`
	// Transform is a column major 4x4 matrix. Empty means identity.
	Transform      []float64 `json:"transform"`
	LodScale       float64   `json:"lod_scale"`
	OutsideFoveate float64   `json:"outside_foveate"`
	BehindFoveate  float64   `json:"behind_foveate"`
}

// Matrix returns the instance transform.
func (ic InstanceConfig) Matrix() mgl64.Mat4 {
	if len(ic.Transform) != 16 {
		return mgl64.Ident4()
	}
	var m mgl64.Mat4
	copy(m[:], ic.Transform)
	return m
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.LOD.Base == 0 {
		c.LOD.Base = lod.DefaultBase
	}
	if c.LOD.MinSizeRatio == 0 {
		c.LOD.MinSizeRatio = lod.DefaultMinSizeRatio
	}
	if c.Traversal.MaxSplats == 0 {
		c.Traversal.MaxSplats = DefaultMaxSplats
	}
	if c.Traversal.ScreenHeight == 0 {
		c.Traversal.ScreenHeight = DefaultScreenHeight
	}
	if c.Traversal.FovY == 0 {
		c.Traversal.FovY = DefaultFovY
	}
	if c.Traversal.FovX == 0 {
		c.Traversal.FovX = c.Traversal.FovY
	}
	if c.Traversal.MinInterval == 0 {
		c.Traversal.MinInterval = DefaultMinInterval
	}
	if c.Traversal.PixelScaleLimit == 0 {
		c.Traversal.PixelScaleLimit = traversal.PixelThreshold(c.Traversal.ScreenHeight)
	}
	if c.Fetch.ChunkSize == 0 {
		c.Fetch.ChunkSize = fetch.DefaultChunkSize
	}
	if c.Fetch.MaxInFlight == 0 {
		c.Fetch.MaxInFlight = fetch.DefaultMaxInFlight
	}
	for i := range c.Instances {
		inst := &c.Instances[i]
		if inst.LodScale == 0 {
			inst.LodScale = 1
		}
		if inst.OutsideFoveate == 0 {
			inst.OutsideFoveate = 1
		}
		if inst.BehindFoveate == 0 {
			inst.BehindFoveate = 1
		}
	}
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate() error {
	if err := c.LOD.Validate("lod"); err != nil {
		return err
	}
	if err := c.Traversal.Validate("traversal"); err != nil {
		return err
	}
	if err := c.Fetch.Validate("fetch"); err != nil {
		return err
	}
	names := make(map[string]bool, len(c.Trees))
	for idx, tc := range c.Trees {
		path := fmt.Sprintf("trees.%d", idx)
		if err := tc.Validate(path); err != nil {
			return err
		}
		if names[tc.Name] {
			return utils.NewConfigValidationError(path, errors.Errorf("duplicate tree name %q", tc.Name))
		}
		names[tc.Name] = true
	}
	for idx, ic := range c.Instances {
		path := fmt.Sprintf("instances.%d", idx)
		if err := ic.Validate(path); err != nil {
			return err
		}
		if !names[ic.Tree] {
			return utils.NewConfigValidationError(path, errors.Errorf("unknown tree %q", ic.Tree))
		}
	}
	for idx, lc := range c.LogConfig {
		if !logging.ValidatePattern(lc.Pattern) {
			return utils.NewConfigValidationError(fmt.Sprintf("log.%d", idx), errors.Errorf("invalid logger pattern %q", lc.Pattern))
		}
		if _, err := logging.LevelFromString(lc.Level); err != nil {
			return utils.NewConfigValidationError(fmt.Sprintf("log.%d", idx), err)
		}
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (lc LODConfig) Validate(path string) error {
	if err := lc.BuildOptions(nil).Validate(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// BuildOptions returns the tree builder options.
func (lc LODConfig) BuildOptions(logger logging.Logger) lod.BuildOptions {
	return lod.BuildOptions{Base: lc.Base, MinSizeRatio: lc.MinSizeRatio, Logger: logger}
}

// Validate ensures all parts of the config are valid.
func (tc TraversalConfig) Validate(path string) error {
	if tc.MaxSplats <= 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("max_splats must be positive, got %d", tc.MaxSplats))
	}
	if tc.ScreenHeight < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("screen_height must be positive, got %d", tc.ScreenHeight))
	}
	if tc.MinInterval < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("min_interval must not be negative, got %v", tc.MinInterval))
	}
	req := traversal.Request{PixelScaleLimit: tc.PixelScaleLimit, View: tc.View()}
	if err := req.Validate(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// View returns the camera parameters.
func (tc TraversalConfig) View() traversal.View {
	return traversal.View{FovX: tc.FovX, FovY: tc.FovY}
}

// Validate ensures all parts of the config are valid.
func (fc FetchConfig) Validate(path string) error {
	if fc.ChunkSize <= 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("chunk_size must be positive, got %d", fc.ChunkSize))
	}
	if fc.MaxInFlight < 1 || fc.MaxInFlight > 16 {
		return utils.NewConfigValidationError(path, errors.Errorf("max_in_flight must be in [1, 16], got %d", fc.MaxInFlight))
	}
	return nil
}

// Options returns the fetcher options.
func (fc FetchConfig) Options() fetch.Options {
	return fetch.Options{ChunkSize: int64(fc.ChunkSize), MaxInFlight: fc.MaxInFlight}
}

// Validate ensures all parts of the config are valid.
func (tc TreeConfig) Validate(path string) error {
	if tc.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if tc.Source == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "source")
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (ic InstanceConfig) Validate(path string) error {
	if ic.Tree == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "tree")
	}
	if len(ic.Transform) != 0 && len(ic.Transform) != 16 {
		return utils.NewConfigValidationError(path, errors.Errorf("transform must have 16 values, got %d", len(ic.Transform)))
	}
	if ic.LodScale <= 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("lod_scale must be positive, got %v", ic.LodScale))
	}
	for name, v := range map[string]float64{"outside_foveate": ic.OutsideFoveate, "behind_foveate": ic.BehindFoveate} {
		if !(v > 0 && v <= 1) {
			return utils.NewConfigValidationError(path, errors.Errorf("%s must be in (0, 1], got %v", name, v))
		}
	}
	return nil
}
