// Package config loads and validates the image server's runtime
// configuration: the storage backend selection, the bucket table, and
// the optional process-wide cache and concurrency caps.
package config

import (
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/kestrelic/imageserver/core"
	apperrors "github.com/kestrelic/imageserver/errors"
)

// Mode selects a bucket's processing pipeline variant.
type Mode string

const (
	ModeAOT      Mode = "aot"
	ModeJIT      Mode = "jit"
	ModeRealtime Mode = "realtime"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeAOT, ModeJIT, ModeRealtime:
		return true
	}
	return false
}

// BackendKind selects the storage driver.
type BackendKind string

const (
	BackendFilesystem BackendKind = "filesystem"
	BackendBlobStorage BackendKind = "blob_storage"
	BackendScylla      BackendKind = "scylla"
)

// FilesystemConfig configures the filesystem storage driver.
type FilesystemConfig struct {
	Directory string `mapstructure:"directory"`
}

// BlobStorageConfig configures the S3-compatible blob storage driver.
type BlobStorageConfig struct {
	Name        string `mapstructure:"name"`
	Region      string `mapstructure:"region"`
	Endpoint    string `mapstructure:"endpoint"`
	StorePublic bool   `mapstructure:"store_public"`
}

// ScyllaConfig configures the wide-column storage driver.
type ScyllaConfig struct {
	Nodes    []string `mapstructure:"nodes"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	Keyspace string   `mapstructure:"keyspace"`
	Table    string   `mapstructure:"table"`
}

// BackendConfig is the tagged union of the three storage drivers.
type BackendConfig struct {
	Kind        BackendKind        `mapstructure:"kind"`
	Filesystem  *FilesystemConfig  `mapstructure:"filesystem"`
	BlobStorage *BlobStorageConfig `mapstructure:"blob_storage"`
	Scylla      *ScyllaConfig      `mapstructure:"scylla"`
}

func (b BackendConfig) validate() error {
	switch b.Kind {
	case BackendFilesystem:
		if b.Filesystem == nil || strings.TrimSpace(b.Filesystem.Directory) == "" {
			return fmt.Errorf("backend.filesystem.directory is required")
		}
	case BackendBlobStorage:
		if b.BlobStorage == nil || b.BlobStorage.Name == "" || b.BlobStorage.Region == "" {
			return fmt.Errorf("backend.blob_storage.name and region are required")
		}
	case BackendScylla:
		if b.Scylla == nil || len(b.Scylla.Nodes) == 0 || b.Scylla.Keyspace == "" {
			return fmt.Errorf("backend.scylla.nodes and keyspace are required")
		}
	default:
		return fmt.Errorf("backend.kind must be one of filesystem, blob_storage, scylla (got %q)", b.Kind)
	}
	return nil
}

// CacheConfig requires exactly one of MaxImages / MaxCapacityMB.
type CacheConfig struct {
	MaxImages     int `mapstructure:"max_images"`
	MaxCapacityMB int `mapstructure:"max_capacity"`
}

func (c *CacheConfig) validate(path string) error {
	if c == nil {
		return nil
	}
	hasCount := c.MaxImages > 0
	hasWeight := c.MaxCapacityMB > 0
	if hasCount == hasWeight {
		return fmt.Errorf("%s: exactly one of max_images or max_capacity must be set", path)
	}
	return nil
}

// WebPConfig carries per-bucket WebP tuning knobs.
type WebPConfig struct {
	Quality  int  `mapstructure:"quality"`
	Lossless bool `mapstructure:"lossless"`
	Method   int  `mapstructure:"method"`
	Threaded bool `mapstructure:"threaded"`
}

// FormatsConfig is a bucket's enabled-kind table plus WebP tuning and
// the kind used to persist the single stored variant in jit/realtime
// mode.
type FormatsConfig struct {
	Enabled             map[core.Kind]bool `mapstructure:"enabled"`
	OriginalStoreFormat core.Kind          `mapstructure:"original_image_store_format"`
	WebP                WebPConfig         `mapstructure:"webp"`
}

func (f FormatsConfig) isEnabled(k core.Kind) bool { return f.Enabled[k] }

func (f FormatsConfig) enabledKinds() []core.Kind {
	out := make([]core.Kind, 0, len(f.Enabled))
	for _, k := range core.AllKinds {
		if f.Enabled[k] {
			out = append(out, k)
		}
	}
	return out
}

// PresetConfig is a single named resizing target.
type PresetConfig struct {
	Width  int              `mapstructure:"width"`
	Height int              `mapstructure:"height"`
	Filter core.FilterKind  `mapstructure:"filter"`
}

// OriginalPresetName is the reserved preset name meaning "no resize".
const OriginalPresetName = "original"

// BucketConfig is one bucket's full processing policy.
type BucketConfig struct {
	Mode                 Mode                    `mapstructure:"mode"`
	Formats              FormatsConfig           `mapstructure:"formats"`
	DefaultServingFormat core.Kind               `mapstructure:"default_serving_format"`
	DefaultServingPreset string                  `mapstructure:"default_serving_preset"`
	Presets              map[string]PresetConfig `mapstructure:"presets"`
	Cache                *CacheConfig            `mapstructure:"cache"`
	MaxUploadSizeKB      int                     `mapstructure:"max_upload_size"`
	MaxConcurrency       int                     `mapstructure:"max_concurrency"`

	// computed once by Validate
	name       string
	bucketID   core.BucketID
	presetIDs  []uint32
	byPresetID map[core.PresetID]PresetConfig
	byName     map[string]core.PresetID
}

// Name returns the bucket's configured key in the top-level buckets map.
func (b *BucketConfig) Name() string { return b.name }

// BucketID returns the CRC-32 of the bucket's name.
func (b *BucketConfig) BucketID() core.BucketID { return b.bucketID }

// PresetIDs returns every declared preset id, precomputed at Validate
// time, not including the implicit 0/"original".
func (b *BucketConfig) PresetIDs() []uint32 { return b.presetIDs }

// ResolvePresetID maps a preset name to its id. "original" (or empty)
// always maps to (0, true). An unrecognised name returns (0, false) so
// callers can fall back to "original".
func (b *BucketConfig) ResolvePresetID(name string) (core.PresetID, bool) {
	if name == "" || name == OriginalPresetName {
		return core.OriginalPresetID, true
	}
	id, ok := b.byName[name]
	return id, ok
}

// PresetByID looks up a declared preset's sizing config by its id.
func (b *BucketConfig) PresetByID(id core.PresetID) (PresetConfig, bool) {
	p, ok := b.byPresetID[id]
	return p, ok
}

// EnabledKinds returns the bucket's enabled kinds in AllKinds order.
func (b *BucketConfig) EnabledKinds() []core.Kind { return b.Formats.enabledKinds() }

// IsEnabled reports whether k is an enabled kind for this bucket.
func (b *BucketConfig) IsEnabled(k core.Kind) bool { return b.Formats.isEnabled(k) }

// ResolveServingFormat resolves the serving format from an explicit
// query param, an Accept header, and the bucket's configured default,
// in that priority order.
func (b *BucketConfig) ResolveServingFormat(explicit core.Kind, accept string) core.Kind {
	if explicit != "" && explicit.Valid() && b.IsEnabled(explicit) {
		return explicit
	}
	for _, tok := range strings.Split(accept, ",") {
		tok = strings.TrimSpace(strings.SplitN(tok, ";", 2)[0])
		if k, ok := core.KindFromContentType(tok); ok && b.IsEnabled(k) {
			return k
		}
	}
	if b.DefaultServingFormat != "" && b.IsEnabled(b.DefaultServingFormat) {
		return b.DefaultServingFormat
	}
	enabled := b.EnabledKinds()
	if len(enabled) > 0 {
		return enabled[0]
	}
	return core.KindUnknown
}

func (b *BucketConfig) validate(name string) []string {
	var problems []string
	b.name = name
	b.bucketID = core.BucketID(crc32.ChecksumIEEE([]byte(name)))

	if !b.Mode.Valid() {
		problems = append(problems, fmt.Sprintf("bucket %q: invalid mode %q", name, b.Mode))
	}
	if len(b.EnabledKinds()) == 0 {
		problems = append(problems, fmt.Sprintf("bucket %q: at least one format must be enabled", name))
	}
	if b.DefaultServingFormat != "" && !b.IsEnabled(b.DefaultServingFormat) {
		problems = append(problems, fmt.Sprintf("bucket %q: default_serving_format %q is not enabled", name, b.DefaultServingFormat))
	}
	if b.Formats.OriginalStoreFormat == "" {
		b.Formats.OriginalStoreFormat = core.KindPNG
	}
	if !b.IsEnabled(b.Formats.OriginalStoreFormat) {
		problems = append(problems, fmt.Sprintf("bucket %q: original_image_store_format %q is not enabled", name, b.Formats.OriginalStoreFormat))
	}

	b.byPresetID = make(map[core.PresetID]PresetConfig, len(b.Presets)+1)
	b.byName = make(map[string]core.PresetID, len(b.Presets))
	b.presetIDs = make([]uint32, 0, len(b.Presets))
	for presetName, p := range b.Presets {
		if presetName == OriginalPresetName {
			problems = append(problems, fmt.Sprintf("bucket %q: %q is a reserved preset name", name, OriginalPresetName))
			continue
		}
		id := core.PresetID(crc32.ChecksumIEEE([]byte(presetName)))
		if id == core.OriginalPresetID {
			problems = append(problems, fmt.Sprintf("bucket %q: preset %q collides with the reserved id 0", name, presetName))
			continue
		}
		if p.Width <= 0 || p.Height <= 0 {
			problems = append(problems, fmt.Sprintf("bucket %q: preset %q must declare positive width and height", name, presetName))
		}
		b.byPresetID[id] = p
		b.byName[presetName] = id
		b.presetIDs = append(b.presetIDs, uint32(id))
	}

	if b.DefaultServingPreset != "" {
		if _, ok := b.ResolvePresetID(b.DefaultServingPreset); !ok {
			problems = append(problems, fmt.Sprintf("bucket %q: default_serving_preset %q is not declared", name, b.DefaultServingPreset))
		}
	}

	if err := b.Cache.validate(fmt.Sprintf("bucket %q cache", name)); err != nil {
		problems = append(problems, err.Error())
	}

	return problems
}

// ResizerBackend selects the concrete Resizer implementation the
// process builds at startup.
type ResizerBackend string

const (
	ResizerImaging ResizerBackend = "imaging"
	ResizerVips    ResizerBackend = "vips"
)

// RuntimeConfig is the fully validated, process-wide configuration.
type RuntimeConfig struct {
	Backend         BackendConfig            `mapstructure:"backend"`
	Buckets         map[string]*BucketConfig `mapstructure:"buckets"`
	BaseServingPath string                   `mapstructure:"base_serving_path"`
	GlobalCache     *CacheConfig             `mapstructure:"global_cache"`
	MaxUploadSizeKB int                      `mapstructure:"max_upload_size"`
	MaxConcurrency  int                      `mapstructure:"max_concurrency"`
	Resizer         ResizerBackend           `mapstructure:"resizer"`
	ListenAddr      string                   `mapstructure:"listen_addr"`
}

// Validate enforces every configuration invariant and returns a single
// ConfigInvalid error listing every violation found, not just the first.
func (c *RuntimeConfig) Validate() error {
	var problems []string

	if err := c.Backend.validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(c.Buckets) == 0 {
		problems = append(problems, "at least one bucket must be declared")
	}
	if c.BaseServingPath == "" {
		c.BaseServingPath = "/images"
	}
	if !strings.HasPrefix(c.BaseServingPath, "/") {
		problems = append(problems, fmt.Sprintf("base_serving_path %q must start with /", c.BaseServingPath))
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	switch c.Resizer {
	case "":
		c.Resizer = ResizerImaging
	case ResizerImaging, ResizerVips:
	default:
		problems = append(problems, fmt.Sprintf("resizer %q is not one of imaging, vips", c.Resizer))
	}
	if err := c.GlobalCache.validate("global_cache"); err != nil {
		problems = append(problems, err.Error())
	}

	for name, b := range c.Buckets {
		problems = append(problems, b.validate(name)...)
	}

	if len(problems) > 0 {
		return apperrors.New(apperrors.CategoryConfigInvalid, "config.validate",
			fmt.Errorf("%d configuration problem(s):\n  - %s", len(problems), strings.Join(problems, "\n  - ")))
	}
	return nil
}
