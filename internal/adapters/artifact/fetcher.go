// Package artifact resolves model and scaler paths. Local paths pass through;
// s3://bucket/key paths are downloaded once into a cache directory.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

const s3Scheme = "s3://"

type Fetcher struct {
	cacheDir string
	client   s3iface.S3API
}

// NewS3Client builds an S3 client from the default credential chain.
func NewS3Client(region string) (s3iface.S3API, error) {
	cfg := &aws.Config{}
	if region != "" {
		cfg.Region = aws.String(region)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return s3.New(sess), nil
}

// NewFetcher returns a Fetcher. client may be nil when no s3 paths are used.
func NewFetcher(cacheDir string, client s3iface.S3API) *Fetcher {
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "aegis-models")
	}
	return &Fetcher{cacheDir: cacheDir, client: client}
}

func IsRemote(path string) bool {
	return strings.HasPrefix(path, s3Scheme)
}

// Resolve returns a local file path for p.
func (f *Fetcher) Resolve(ctx context.Context, p string) (string, error) {
	if !IsRemote(p) {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("artifact %s: %w", p, err)
		}
		return p, nil
	}

	bucket, key, err := splitS3(p)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(f.cacheDir, bucket, filepath.FromSlash(key))
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}
	if f.client == nil {
		return "", fmt.Errorf("artifact %s: no s3 client configured", p)
	}

	obj, err := f.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("download %s: %w", p, err)
	}
	defer obj.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, obj.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("download %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return dest, nil
}

func splitS3(p string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(p, s3Scheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" || strings.Contains(key, "..") {
		return "", "", errors.New("invalid s3 path " + p)
	}
	return bucket, key, nil
}
