package bucket

import (
	"hash/crc32"

	"github.com/kestrelic/imageserver/core"
)

// Registry is the process-wide bucket registry: a write-once,
// read-many mapping from bucket name (and its CRC-32-derived id) to
// controller. Safe for concurrent reads without synchronization once
// Build has returned; nothing mutates it afterward.
type Registry struct {
	byName map[string]*Controller
	byID   map[core.BucketID]*Controller
}

// NewRegistry builds an empty Registry. Callers populate it via Add
// during startup, then treat it as read-only.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Controller),
		byID:   make(map[core.BucketID]*Controller),
	}
}

// Add registers name's controller. Intended for startup wiring only.
func (r *Registry) Add(name string, ctl *Controller) {
	r.byName[name] = ctl
	r.byID[ctl.bucketID] = ctl
}

// ByName looks up a controller by its configured bucket name.
func (r *Registry) ByName(name string) (*Controller, bool) {
	ctl, ok := r.byName[name]
	return ctl, ok
}

// ByID looks up a controller by its CRC-32 bucket id.
func (r *Registry) ByID(id core.BucketID) (*Controller, bool) {
	ctl, ok := r.byID[id]
	return ctl, ok
}

// BucketIDOf computes the CRC-32 bucket id for a bucket name, the same
// derivation used at configuration time (config.BucketConfig.BucketID).
func BucketIDOf(name string) core.BucketID {
	return core.BucketID(crc32.ChecksumIEEE([]byte(name)))
}
