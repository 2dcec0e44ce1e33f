package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/kestrelic/imageserver/core"
	apperrors "github.com/kestrelic/imageserver/errors"
)

// BlobStoreConfig configures the S3-compatible blob storage driver.
type BlobStoreConfig struct {
	Bucket      string
	Region      string
	Endpoint    string // optional: MinIO, localstack, etc.
	StorePublic bool
}

// BlobStore is the core.Storage driver backed by aws-sdk-go-v2's S3
// client. Object keys use the same logical path as the filesystem
// driver so the two are interchangeable at the configuration level.
type BlobStore struct {
	client *s3.Client
	bucket string
	acl    types.ObjectCannedACL
}

// NewBlobStore builds a BlobStore using the default AWS credential
// chain (environment, shared config, IAM role) plus cfg.Region/Endpoint.
func NewBlobStore(ctx context.Context, cfg BlobStoreConfig) (*BlobStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage/blobstore: loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	acl := types.ObjectCannedACLPrivate
	if cfg.StorePublic {
		acl = types.ObjectCannedACLPublicRead
	}
	return &BlobStore{client: client, bucket: cfg.Bucket, acl: acl}, nil
}

func objectKey(key core.VariantKey) string {
	return fmt.Sprintf("%d/%d/%s.%s",
		key.Bucket, key.Preset, formatImageID(key.Image), key.Kind.Extension())
}

func (b *BlobStore) Store(ctx context.Context, key core.VariantKey, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(key.Kind.ContentType()),
		ACL:         b.acl,
	})
	if err != nil {
		return apperrors.New(apperrors.CategoryStorageTransient, "storage.blobstore.store", err)
	}
	return nil
}

func (b *BlobStore) Fetch(ctx context.Context, key core.VariantKey) ([]byte, bool, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, apperrors.New(apperrors.CategoryStorageTransient, "storage.blobstore.fetch", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, apperrors.New(apperrors.CategoryStorageTransient, "storage.blobstore.fetch.read", err)
	}
	return data, true, nil
}

// Delete lists every object under the bucket/image's possible
// preset-id prefixes and removes each; since S3 has no directory
// enumeration by image id alone, this walks every preset-id "directory"
// stored so far via ListObjectsV2 with a bucket-id prefix and filters
// by the image id suffix.
func (b *BlobStore) Delete(ctx context.Context, bucket core.BucketID, image [16]byte) ([]core.DeletedVariant, error) {
	prefix := strconv.FormatUint(uint64(bucket), 10) + "/"
	imageID := formatImageID(image)

	var deleted []core.DeletedVariant
	var token *string
	for {
		page, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return deleted, apperrors.New(apperrors.CategoryStorageTransient, "storage.blobstore.delete.list", err)
		}
		for _, obj := range page.Contents {
			presetID, kind, ok := parseObjectKey(*obj.Key, imageID)
			if !ok {
				continue
			}
			if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(b.bucket),
				Key:    obj.Key,
			}); err != nil {
				return deleted, apperrors.New(apperrors.CategoryStorageTransient, "storage.blobstore.delete", err)
			}
			deleted = append(deleted, core.DeletedVariant{Preset: presetID, Kind: kind})
		}
		if page.IsTruncated == nil || !*page.IsTruncated {
			break
		}
		token = page.NextContinuationToken
	}
	return deleted, nil
}

func parseObjectKey(key, imageID string) (core.PresetID, core.Kind, bool) {
	var bucketID, presetID uint64
	var name string
	if n, err := fmt.Sscanf(key, "%d/%d/%s", &bucketID, &presetID, &name); err != nil || n != 3 {
		return 0, "", false
	}
	for _, kind := range core.AllKinds {
		suffix := imageID + "." + kind.Extension()
		if name == suffix {
			return core.PresetID(presetID), kind, true
		}
	}
	return 0, "", false
}

func isNotFound(err error) bool {
	var nf *types.NoSuchKey
	if errors.As(err, &nf) {
		return true
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 404
	}
	return false
}

var _ core.Storage = (*BlobStore)(nil)
