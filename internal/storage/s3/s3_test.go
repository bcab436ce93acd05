package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	appconfig "github.com/sentinelops/sentinel/internal/config"
	"github.com/sentinelops/sentinel/internal/storage"
	"github.com/sentinelops/sentinel/pkg/checksum"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     appconfig.S3StorageConfig
		wantErr bool
	}{
		{"missing bucket", appconfig.S3StorageConfig{Region: "us-east-1"}, true},
		{"missing region", appconfig.S3StorageConfig{Bucket: "archive"}, true},
		{"static without keys", appconfig.S3StorageConfig{Bucket: "archive", Region: "us-east-1", AuthMethod: "static"}, true},
		{"unknown auth method", appconfig.S3StorageConfig{Bucket: "archive", Region: "us-east-1", AuthMethod: "kerberos"}, true},
		{"default chain", appconfig.S3StorageConfig{Bucket: "archive", Region: "eu-west-1"}, false},
		{"static with endpoint", appconfig.S3StorageConfig{
			Bucket: "archive", Region: "us-east-1", AuthMethod: "static",
			AccessKeyID: "k", SecretAccessKey: "s", Endpoint: "http://localhost:9000",
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(&tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("New() = nil error, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error: %v", err)
			}
			if s.bucket != tt.cfg.Bucket {
				t.Errorf("bucket = %q, want %q", s.bucket, tt.cfg.Bucket)
			}
		})
	}
}

// fakeBucket is an in-memory path-style S3 endpoint covering the four calls
// the archive store makes.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]http.Header
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, key, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if !ok {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	data, exists := b.objects[key]
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		b.objects[key] = body
		h := http.Header{}
		for k, v := range r.Header {
			if strings.HasPrefix(strings.ToLower(k), "x-amz-meta-") {
				h[k] = v
			}
		}
		b.meta[key] = h
		w.Header().Set("ETag", `"etag"`)
	case http.MethodGet, http.MethodHead:
		if !exists {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				_, _ = io.WriteString(w, `<?xml version="1.0"?><Error><Code>NoSuchKey</Code></Error>`)
			}
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		for k, v := range b.meta[key] {
			w.Header()[k] = v
		}
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	case http.MethodDelete:
		delete(b.objects, key)
		delete(b.meta, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newArchiveStore(t *testing.T) (*S3Storage, *fakeBucket) {
	t.Helper()
	bucket := &fakeBucket{objects: map[string][]byte{}, meta: map[string]http.Header{}}
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	s, err := New(&appconfig.S3StorageConfig{
		Bucket:          "audit-archive",
		Region:          "us-east-1",
		AuthMethod:      "static",
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
		Endpoint:        srv.URL,
	})
	if err != nil {
		t.Fatalf("New(): %v", err)
	}
	return s, bucket
}

const archiveKey = "audit/org-1/20260601T030000Z-12.ndjson.gz"

func TestS3_UploadReportsChecksumOfSentBytes(t *testing.T) {
	s, bucket := newArchiveStore(t)
	data := []byte(`{"id":12,"message":"role changed"}` + "\n")

	res, err := s.Upload(context.Background(), archiveKey, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if res.Path != archiveKey || res.Size != int64(len(data)) {
		t.Errorf("result = %+v", res)
	}
	if res.Checksum != checksum.Bytes(data) {
		t.Errorf("Checksum = %q, want %q", res.Checksum, checksum.Bytes(data))
	}

	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	if got := bucket.meta[archiveKey].Get("X-Amz-Meta-Sha256"); got != res.Checksum {
		t.Errorf("sha256 metadata = %q, want %q", got, res.Checksum)
	}
}

func TestS3_RoundTripAndDelete(t *testing.T) {
	s, _ := newArchiveStore(t)
	ctx := context.Background()
	want := []byte("gzip bytes")

	if _, err := s.Upload(ctx, archiveKey, bytes.NewReader(want), int64(len(want))); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if ok, err := s.Exists(ctx, archiveKey); err != nil || !ok {
		t.Fatalf("Exists = %v, %v; want true", ok, err)
	}

	rc, err := s.Download(ctx, archiveKey)
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, want) {
		t.Errorf("Download = %q, want %q", got, want)
	}

	if err := s.Delete(ctx, archiveKey); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if ok, err := s.Exists(ctx, archiveKey); err != nil || ok {
		t.Errorf("Exists after delete = %v, %v; want false", ok, err)
	}
}

func TestS3_MissingObject(t *testing.T) {
	s, _ := newArchiveStore(t)
	ctx := context.Background()

	if _, err := s.Download(ctx, "audit/system/missing.ndjson.gz"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Download() error = %v, want ErrNotFound", err)
	}
	ok, err := s.Exists(ctx, "audit/system/missing.ndjson.gz")
	if err != nil || ok {
		t.Errorf("Exists = %v, %v; want false, nil", ok, err)
	}
}
