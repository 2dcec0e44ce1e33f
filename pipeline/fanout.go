package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/kestrelic/imageserver/core"
	apperrors "github.com/kestrelic/imageserver/errors"
)

// FanOut is the encoder fan-out: given a decoded source image it
// produces one EncodedVariant per requested target kind. FanOut never
// submits work onto the CPU-bound workerpool.Pool itself — it always
// runs inside a closure the bucket controller already dispatched onto
// that pool (Controller.Upload/Fetch), and the pool's worker count
// bounds how many pipeline calls run at once. Queuing the
// per-kind encodes back onto the same fixed pool from inside a pool
// worker can deadlock it: the worker running OnUpload/OnFetch blocks
// waiting on its child encodes, and once every worker is parked that
// way, no worker is left to dequeue the children. Concurrency across
// targets instead comes from errgroup.Go's own goroutines, which don't
// compete for pool slots.
type FanOut struct {
	registry core.Registry
}

// NewFanOut builds a FanOut over registry's codecs.
func NewFanOut(registry core.Registry) *FanOut {
	return &FanOut{registry: registry}
}

// EncodeOnce encodes img to a single target kind. Used by the jit and
// realtime pipelines, which only ever need one encode, and by EncodeAll
// for each target it fans out to.
func (f *FanOut) EncodeOnce(ctx context.Context, img core.Image, target core.Kind, params core.EncodeParams) (core.EncodedVariant, error) {
	if err := ctx.Err(); err != nil {
		return core.EncodedVariant{}, apperrors.Wrap(apperrors.CategoryCancelled, "fanout.encode_once", err)
	}
	codec, ok := f.registry.CodecFor(target)
	if !ok {
		return core.EncodedVariant{}, apperrors.New(apperrors.CategoryEncode, "fanout.encode_once", apperrors.ErrUnsupportedKind)
	}
	bytes, err := codec.Encode(ctx, img, target, params)
	if err != nil {
		return core.EncodedVariant{}, err
	}
	return core.EncodedVariant{Kind: target, Bytes: bytes}, nil
}

// EncodeAll produces one EncodedVariant per target in targets. When
// sourceBytes is non-nil, sourceKind is served as a passthrough of those
// exact bytes rather than re-encoded (valid only when img is the
// unresized original); sourceBytes is nil whenever img has already been
// resized, in which case sourceKind is encoded like any other target.
// The remaining targets encode concurrently via golang.org/x/sync/errgroup;
// the first failure cancels the rest.
func (f *FanOut) EncodeAll(ctx context.Context, img core.Image, sourceKind core.Kind, sourceBytes []byte, targets []core.Kind, params core.EncodeParams) ([]core.EncodedVariant, error) {
	out := make([]core.EncodedVariant, 0, len(targets)+1)

	toEncode := make([]core.Kind, 0, len(targets))
	for _, t := range targets {
		if t == sourceKind && sourceBytes != nil {
			out = append(out, core.EncodedVariant{Kind: sourceKind, Bytes: sourceBytes})
			continue
		}
		toEncode = append(toEncode, t)
	}
	if len(toEncode) == 0 {
		return out, nil
	}

	results := make([]core.EncodedVariant, len(toEncode))
	g, gctx := errgroup.WithContext(ctx)
	for i, target := range toEncode {
		i, target := i, target
		g.Go(func() error {
			v, err := f.EncodeOnce(gctx, img, target, params)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append(out, results...), nil
}
