// Package pipeline implements the processing policy engine: a
// small state-free object deciding, for a given upload or fetch, which
// variants to compute, persist, and return. Per its own design
// note, the three known shapes (aot/jit/realtime) are expressed as one
// struct switching on a Mode field — static, tagged dispatch — rather
// than three types behind an interface, since the shape set is closed
// and the pipeline sits on the hot path.
package pipeline

import (
	"context"

	"github.com/kestrelic/imageserver/config"
	"github.com/kestrelic/imageserver/core"
	apperrors "github.com/kestrelic/imageserver/errors"
)

// CustomSize is a caller-supplied override of preset-based resizing,
// honored only in realtime mode.
type CustomSize struct {
	Width, Height int
}

// UploadResult is PipelineResult's upload shape: the set of variants
// the controller must persist. AOT produces the full preset×kind cross
// product; jit/realtime produce exactly one.
type UploadResult struct {
	ToStore []core.StoreEntry
}

// FetchResult is PipelineResult's fetch shape: the variant to return to
// the caller, plus any newly computed variants the controller should
// persist (empty in realtime mode, since realtime never persists).
type FetchResult struct {
	Response core.StoreEntry
	ToStore  []core.StoreEntry
}

// Pipeline is the per-bucket policy object. Constructed once at startup
// from the bucket's configuration and never mutated afterward.
type Pipeline struct {
	mode     config.Mode
	cfg      *config.BucketConfig
	registry core.Registry
	fanout   *FanOut
}

// New builds a Pipeline for one bucket.
func New(cfg *config.BucketConfig, registry core.Registry, fanout *FanOut) *Pipeline {
	return &Pipeline{mode: cfg.Mode, cfg: cfg, registry: registry, fanout: fanout}
}

func (p *Pipeline) webpParams() core.EncodeParams {
	w := p.cfg.Formats.WebP
	return core.EncodeParams{Quality: w.Quality, Lossless: w.Lossless, Method: w.Method, Threaded: w.Threaded}
}

// OnUpload decides what to persist for a freshly uploaded image, per the
// table.
func (p *Pipeline) OnUpload(ctx context.Context, sourceKind core.Kind, data []byte) (*UploadResult, error) {
	codec, ok := p.registry.CodecFor(sourceKind)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryDecode, "pipeline.upload", apperrors.ErrUnsupportedKind)
	}
	img, err := codec.Decode(ctx, data, sourceKind)
	if err != nil {
		return nil, err
	}

	switch p.mode {
	case config.ModeAOT:
		return p.uploadAOT(ctx, img, sourceKind, data)
	case config.ModeJIT, config.ModeRealtime:
		return p.uploadSingle(ctx, img, sourceKind, data)
	default:
		return nil, apperrors.New(apperrors.CategoryConfigInvalid, "pipeline.upload", apperrors.ErrUnsupportedKind)
	}
}

// uploadAOT computes the full cross product of (preset ∈ declared ∪ {0})
// × (kind ∈ enabled), persisting every combination.
func (p *Pipeline) uploadAOT(ctx context.Context, img core.Image, sourceKind core.Kind, sourceBytes []byte) (*UploadResult, error) {
	presetIDs := append([]uint32{uint32(core.OriginalPresetID)}, p.cfg.PresetIDs()...)
	enabled := p.cfg.EnabledKinds()

	entries := make([]core.StoreEntry, 0, len(presetIDs)*len(enabled))
	for _, rawID := range presetIDs {
		presetID := core.PresetID(rawID)

		resized := img
		if presetID != core.OriginalPresetID {
			preset, ok := p.cfg.PresetByID(presetID)
			if !ok {
				continue // stale id from a removed preset; skip
			}
			var err error
			resized, err = p.registry.Resizer().Resize(ctx, img, core.ResizeParams{
				Width: preset.Width, Height: preset.Height, Filter: preset.Filter,
			})
			if err != nil {
				return nil, err
			}
		}

		variants, err := p.fanout.EncodeAll(ctx, resized, sourceKind, sourceBytesIfOriginal(presetID, sourceKind, sourceBytes), enabled, p.webpParams())
		if err != nil {
			return nil, err
		}
		for _, v := range variants {
			entries = append(entries, core.StoreEntry{Preset: presetID, Kind: v.Kind, Bytes: v.Bytes})
		}
	}
	return &UploadResult{ToStore: entries}, nil
}

// sourceBytesIfOriginal avoids a redundant re-encode of the exact bytes
// the client uploaded, but only at preset 0 — every resized preset must
// be freshly encoded regardless of kind.
func sourceBytesIfOriginal(presetID core.PresetID, sourceKind core.Kind, sourceBytes []byte) []byte {
	if presetID == core.OriginalPresetID {
		return sourceBytes
	}
	return nil
}

// uploadSingle is the jit/realtime upload path: encode the original
// image only, as Formats.OriginalStoreFormat, preset_id = 0.
func (p *Pipeline) uploadSingle(ctx context.Context, img core.Image, sourceKind core.Kind, sourceBytes []byte) (*UploadResult, error) {
	target := p.cfg.Formats.OriginalStoreFormat
	var bytes []byte
	if target == sourceKind {
		bytes = sourceBytes
	} else {
		v, err := p.fanout.EncodeOnce(ctx, img, target, p.webpParams())
		if err != nil {
			return nil, err
		}
		bytes = v.Bytes
	}
	return &UploadResult{ToStore: []core.StoreEntry{{Preset: core.OriginalPresetID, Kind: target, Bytes: bytes}}}, nil
}

// OnFetch transforms a retrieved stored variant into the requested
// (kind, preset) shape. Only called by the controller for jit/realtime
// buckets (aot returns the stored entry verbatim).
func (p *Pipeline) OnFetch(ctx context.Context, desiredKind, retrievedKind core.Kind, data []byte, presetID core.PresetID, custom *CustomSize) (*FetchResult, error) {
	if p.mode == config.ModeAOT {
		return &FetchResult{Response: core.StoreEntry{Preset: presetID, Kind: retrievedKind, Bytes: data}}, nil
	}
	if custom != nil && p.mode != config.ModeRealtime {
		return nil, apperrors.New(apperrors.CategoryInput, "pipeline.fetch", apperrors.ErrCustomSizingNotRealtime)
	}

	codec, ok := p.registry.CodecFor(retrievedKind)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryDecode, "pipeline.fetch", apperrors.ErrUnsupportedKind)
	}
	img, err := codec.Decode(ctx, data, retrievedKind)
	if err != nil {
		return nil, err
	}

	resized := img
	if width, height, filter, resize := p.resolveResize(presetID, custom); resize {
		resized, err = p.registry.Resizer().Resize(ctx, img, core.ResizeParams{Width: width, Height: height, Filter: filter})
		if err != nil {
			return nil, err
		}
	}

	variant, err := p.fanout.EncodeOnce(ctx, resized, desiredKind, p.webpParams())
	if err != nil {
		return nil, err
	}

	response := core.StoreEntry{Preset: presetID, Kind: desiredKind, Bytes: variant.Bytes}
	result := &FetchResult{Response: response}
	if p.mode == config.ModeJIT {
		result.ToStore = []core.StoreEntry{response}
	}
	// realtime: never persisted.
	return result, nil
}

func (p *Pipeline) resolveResize(presetID core.PresetID, custom *CustomSize) (width, height int, filter core.FilterKind, resize bool) {
	if custom != nil {
		return custom.Width, custom.Height, core.FilterLanczos3, true
	}
	if presetID == core.OriginalPresetID {
		return 0, 0, "", false
	}
	preset, ok := p.cfg.PresetByID(presetID)
	if !ok {
		return 0, 0, "", false
	}
	return preset.Width, preset.Height, preset.Filter, true
}
