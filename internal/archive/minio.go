// Package archive keeps the original bytes of documents before a schema
// upgrade rewrites them, in an S3-compatible bucket.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound is returned when no archived object exists for a key/version.
var ErrNotFound = errors.New("archived document not found")

// Options configures the bucket connection.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// Entry describes one archived document.
type Entry struct {
	Object    string    `json:"object"`
	Version   string    `json:"version"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store writes and reads archived documents.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the endpoint and creates the bucket if needed.
func New(ctx context.Context, opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("archive bucket is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	s := &Store{client: client, bucket: opts.Bucket}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		// Another instance may have created it in the meantime.
		if exists, checkErr := s.client.BucketExists(ctx, s.bucket); checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	log.Printf("archive: created bucket %s", s.bucket)
	return nil
}

// ObjectName is where the document key at version is archived.
func ObjectName(key, version string) string {
	return path.Join(key, version+".json")
}

// Put archives data and returns the object name.
func (s *Store) Put(ctx context.Context, key, version string, data []byte) (string, error) {
	name := ObjectName(key, version)
	_, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"config-key":     key,
			"schema-version": version,
		},
	})
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", name, err)
	}
	return name, nil
}

// Get reads the archived document key at version.
func (s *Store) Get(ctx context.Context, key, version string) ([]byte, error) {
	name := ObjectName(key, version)
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapErr(name, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapErr(name, err)
	}
	return data, nil
}

// List returns the archived versions of key, oldest object first.
func (s *Store) List(ctx context.Context, key string) ([]Entry, error) {
	prefix := key + "/"
	items := make([]Entry, 0)
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list archive %s: %w", key, info.Err)
		}
		items = append(items, Entry{
			Object:    info.Key,
			Version:   strings.TrimSuffix(strings.TrimPrefix(info.Key, prefix), ".json"),
			Size:      info.Size,
			CreatedAt: info.LastModified,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

// Ping checks the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

func mapErr(name string, err error) error {
	if minio.ToErrorResponse(err).Code == minio.NoSuchKey {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return fmt.Errorf("read archive %s: %w", name, err)
}
