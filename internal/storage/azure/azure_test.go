package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"github.com/sentinelops/sentinel/internal/config"
	"github.com/sentinelops/sentinel/internal/storage"
)

type storedBlob struct {
	content  []byte
	metadata map[string]string
	tier     string
}

type blobServer struct {
	mu    sync.Mutex
	blobs map[string]*storedBlob
}

func (b *blobServer) notFound(w http.ResponseWriter) {
	w.Header().Set("x-ms-error-code", "BlobNotFound")
	w.WriteHeader(http.StatusNotFound)
}

// ServeHTTP imitates enough of the Blob REST API for the backend's calls.
func (b *blobServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")
	b.mu.Lock()
	defer b.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		meta := map[string]string{}
		for k, v := range r.Header {
			lk := strings.ToLower(k)
			if strings.HasPrefix(lk, "x-ms-meta-") && len(v) > 0 {
				meta[strings.TrimPrefix(lk, "x-ms-meta-")] = v[0]
			}
		}
		b.blobs[key] = &storedBlob{content: data, metadata: meta, tier: r.Header.Get("x-ms-access-tier")}
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		blob, ok := b.blobs[key]
		if !ok {
			b.notFound(w)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(blob.content)))
		w.WriteHeader(http.StatusOK)
		w.Write(blob.content)
	case http.MethodHead:
		blob, ok := b.blobs[key]
		if !ok {
			b.notFound(w)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(blob.content)))
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		if _, ok := b.blobs[key]; !ok {
			b.notFound(w)
			return
		}
		delete(b.blobs, key)
		w.WriteHeader(http.StatusAccepted)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStorage(t *testing.T, tier *blob.AccessTier) (*AzureStorage, *blobServer) {
	t.Helper()
	srv := &blobServer{blobs: map[string]*storedBlob{}}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	client, err := azblob.NewClientWithNoCredential(ts.URL, nil)
	if err != nil {
		t.Fatalf("failed to create azblob client: %v", err)
	}
	return &AzureStorage{client: client, containerName: "archive", tier: tier}, srv
}

func TestUploadDownloadDeleteAndExists(t *testing.T) {
	s, srv := newTestStorage(t, nil)
	ctx := context.Background()
	data := []byte(`{"id":1,"message":"user login"}` + "\n")

	res, err := s.Upload(ctx, "audit/org-1/2026-03.ndjson.gz", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if res.Size != int64(len(data)) || len(res.Checksum) != 64 {
		t.Errorf("Upload() = %+v", res)
	}
	stored := srv.blobs["archive/audit/org-1/2026-03.ndjson.gz"]
	if stored == nil {
		t.Fatal("blob not stored under container path")
	}
	if stored.metadata["sha256"] != res.Checksum {
		t.Errorf("sha256 metadata = %q, want %q", stored.metadata["sha256"], res.Checksum)
	}

	ok, err := s.Exists(ctx, "audit/org-1/2026-03.ndjson.gz")
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v; want true", ok, err)
	}

	rc, err := s.Download(ctx, "audit/org-1/2026-03.ndjson.gz")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, data) {
		t.Errorf("Download() = %q, want %q", got, data)
	}

	if err := s.Delete(ctx, "audit/org-1/2026-03.ndjson.gz"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	ok, err = s.Exists(ctx, "audit/org-1/2026-03.ndjson.gz")
	if err != nil || ok {
		t.Errorf("Exists() after delete = %v, %v; want false", ok, err)
	}
}

func TestMissingBlob(t *testing.T) {
	s, _ := newTestStorage(t, nil)
	ctx := context.Background()

	if _, err := s.Download(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Download() error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "nope"); err != nil {
		t.Errorf("Delete() of missing blob = %v, want nil", err)
	}
}

func TestUpload_AccessTier(t *testing.T) {
	tier := blob.AccessTierCool
	s, srv := newTestStorage(t, &tier)

	if _, err := s.Upload(context.Background(), "a.gz", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if got := srv.blobs["archive/a.gz"].tier; got != "Cool" {
		t.Errorf("access tier header = %q, want Cool", got)
	}
}

func TestParseTier(t *testing.T) {
	for _, name := range []string{"", "hot", "cool", "cold", "archive"} {
		if _, err := parseTier(name); err != nil {
			t.Errorf("parseTier(%q) error: %v", name, err)
		}
	}
	if _, err := parseTier("glacier"); err == nil {
		t.Error("parseTier(glacier) = nil error")
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AzureStorageConfig
	}{
		{"missing account name", config.AzureStorageConfig{AccountKey: "a2V5", ContainerName: "c"}},
		{"missing account key", config.AzureStorageConfig{AccountName: "acct", ContainerName: "c"}},
		{"missing container", config.AzureStorageConfig{AccountName: "acct", AccountKey: "a2V5"}},
		{"bad tier", config.AzureStorageConfig{AccountName: "acct", AccountKey: "a2V5", ContainerName: "c", AccessTier: "frozen"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(&tt.cfg); err == nil {
				t.Error("New() = nil error")
			}
		})
	}
}
