package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

type stubS3 struct {
	s3iface.S3API
	objects map[string][]byte
	gets    int
}

func (s *stubS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	s.gets++
	body, ok := s.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func TestResolveLocalPath(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "model.onnx")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := NewFetcher(dir, nil)
	got, err := f.Resolve(context.Background(), p)
	if err != nil || got != p {
		t.Fatalf("expected %s, got %s (%v)", p, got, err)
	}
	if _, err := f.Resolve(context.Background(), filepath.Join(dir, "missing.onnx")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestResolveS3DownloadsOnce(t *testing.T) {
	stub := &stubS3{objects: map[string][]byte{"models/cnc/anomaly.onnx": []byte("onnx-bytes")}}
	f := NewFetcher(t.TempDir(), stub)

	for i := 0; i < 2; i++ {
		p, err := f.Resolve(context.Background(), "s3://models/cnc/anomaly.onnx")
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		data, err := os.ReadFile(p)
		if err != nil || string(data) != "onnx-bytes" {
			t.Fatalf("unexpected cached content %q (%v)", data, err)
		}
	}
	if stub.gets != 1 {
		t.Fatalf("expected one download, got %d", stub.gets)
	}
}

func TestResolveS3Errors(t *testing.T) {
	f := NewFetcher(t.TempDir(), &stubS3{objects: map[string][]byte{}})
	if _, err := f.Resolve(context.Background(), "s3://models/missing.onnx"); err == nil {
		t.Fatalf("expected download error")
	}
	if _, err := f.Resolve(context.Background(), "s3://bucket-only"); err == nil {
		t.Fatalf("expected invalid path error")
	}
	if _, err := NewFetcher(t.TempDir(), nil).Resolve(context.Background(), "s3://b/k"); err == nil {
		t.Fatalf("expected missing client error")
	}
}
