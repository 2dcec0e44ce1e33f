package storage

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/kestrelic/imageserver/core"
	apperrors "github.com/kestrelic/imageserver/errors"
)

// ScyllaConfig configures the wide-column storage driver, grounded on
// weiawesome/wes-io-live's gocql-based Cassandra repositories.
type ScyllaConfig struct {
	Nodes    []string
	Username string
	Password string
	Keyspace string
	Table    string
}

// Scylla is the core.Storage driver backed by a single wide-column
// table with primary key (bucket_id, preset_id, image_id, kind), per
// the wide-column addressing convention: one row per variant.
type Scylla struct {
	session *gocql.Session
	table   string
}

// NewScylla opens a session against cfg.Nodes and returns a ready driver.
func NewScylla(cfg ScyllaConfig) (*Scylla, error) {
	table := cfg.Table
	if table == "" {
		table = "variants"
	}
	cluster := gocql.NewCluster(cfg.Nodes...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("storage/scylla: creating session: %w", err)
	}
	return &Scylla{session: session, table: table}, nil
}

// Close releases the underlying gocql session.
func (s *Scylla) Close() { s.session.Close() }

func (s *Scylla) Store(ctx context.Context, key core.VariantKey, data []byte) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (bucket_id, preset_id, image_id, kind, bytes) VALUES (?, ?, ?, ?, ?)`, s.table)
	err := s.session.Query(query, uint32(key.Bucket), uint32(key.Preset), key.Image[:], string(key.Kind), data).
		WithContext(ctx).Exec()
	if err != nil {
		return apperrors.New(apperrors.CategoryStorageTransient, "storage.scylla.store", err)
	}
	return nil
}

func (s *Scylla) Fetch(ctx context.Context, key core.VariantKey) ([]byte, bool, error) {
	query := fmt.Sprintf(
		`SELECT bytes FROM %s WHERE bucket_id = ? AND preset_id = ? AND image_id = ? AND kind = ?`, s.table)
	var data []byte
	err := s.session.Query(query, uint32(key.Bucket), uint32(key.Preset), key.Image[:], string(key.Kind)).
		WithContext(ctx).Scan(&data)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, apperrors.New(apperrors.CategoryStorageTransient, "storage.scylla.fetch", err)
	}
	return data, true, nil
}

// Delete finds every row for (bucket_id, image_id) via a secondary
// index on image_id (ALLOW FILTERING is acceptable here since the
// result set is bounded by the small number of presets × kinds per
// image) and deletes each by its full primary key.
func (s *Scylla) Delete(ctx context.Context, bucket core.BucketID, image [16]byte) ([]core.DeletedVariant, error) {
	query := fmt.Sprintf(
		`SELECT preset_id, kind FROM %s WHERE bucket_id = ? AND image_id = ? ALLOW FILTERING`, s.table)
	iter := s.session.Query(query, uint32(bucket), image[:]).WithContext(ctx).Iter()

	var deleted []core.DeletedVariant
	var presetID uint32
	var kindStr string
	for iter.Scan(&presetID, &kindStr) {
		deleted = append(deleted, core.DeletedVariant{Preset: core.PresetID(presetID), Kind: core.Kind(kindStr)})
	}
	if err := iter.Close(); err != nil {
		return deleted, apperrors.New(apperrors.CategoryStorageTransient, "storage.scylla.delete.select", err)
	}

	delQuery := fmt.Sprintf(
		`DELETE FROM %s WHERE bucket_id = ? AND preset_id = ? AND image_id = ? AND kind = ?`, s.table)
	for _, dv := range deleted {
		if err := s.session.Query(delQuery, uint32(bucket), uint32(dv.Preset), image[:], string(dv.Kind)).
			WithContext(ctx).Exec(); err != nil {
			return deleted, apperrors.New(apperrors.CategoryStorageTransient, "storage.scylla.delete.exec", err)
		}
	}
	return deleted, nil
}

var _ core.Storage = (*Scylla)(nil)
