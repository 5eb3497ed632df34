package objectstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/prdforge/pkg/storage"
)

type recordedRequest struct {
	method string
	path   string
	body   string
}

func newFakeS3(t *testing.T, status int) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recordedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recordedRequest{method: r.Method, path: r.URL.Path, body: string(body)})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

func testConfig(endpoint string) storage.Config {
	cfg := storage.DefaultConfig()
	cfg.S3Endpoint = endpoint
	cfg.S3Bucket = "prd-archive"
	cfg.S3AccessKey = "test"
	cfg.S3SecretKey = "test"
	cfg.S3UsePathStyle = true
	return cfg
}

func TestNewS3Client_RequiresBucket(t *testing.T) {
	_, err := NewS3Client(context.Background(), storage.DefaultConfig())
	assert.Error(t, err)
}

func TestS3Client_PutObject(t *testing.T) {
	srv, requests := newFakeS3(t, http.StatusOK)

	client, err := NewS3Client(context.Background(), testConfig(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "prd-archive", client.Bucket())

	err = client.PutObject(context.Background(), "prds/abc/v1.md", []byte("# Checkout revamp"), "text/markdown")
	require.NoError(t, err)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPut, reqs[0].method)
	assert.Equal(t, "/prd-archive/prds/abc/v1.md", reqs[0].path)
	assert.Contains(t, reqs[0].body, "# Checkout revamp")
}

func TestS3Client_HealthCheck(t *testing.T) {
	t.Run("bucket present", func(t *testing.T) {
		srv, requests := newFakeS3(t, http.StatusOK)
		client, err := NewS3Client(context.Background(), testConfig(srv.URL))
		require.NoError(t, err)

		require.NoError(t, client.HealthCheck(context.Background()))
		assert.Equal(t, http.MethodHead, requests()[0].method)
	})

	t.Run("bucket missing", func(t *testing.T) {
		srv, _ := newFakeS3(t, http.StatusNotFound)
		client, err := NewS3Client(context.Background(), testConfig(srv.URL))
		require.NoError(t, err)

		assert.Error(t, client.HealthCheck(context.Background()))
	})
}

func TestNewS3Client_CreatesMissingBucket(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.S3CreateBucket = true
	_, err := NewS3Client(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{http.MethodHead, http.MethodPut}, methods)
}

func TestS3Client_PutObjectChecksum(t *testing.T) {
	var checksum string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checksum = r.Header.Get("X-Amz-Meta-" + ChecksumMetadataKey)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewS3Client(context.Background(), testConfig(srv.URL))
	require.NoError(t, err)
	require.NoError(t, client.PutObject(context.Background(), "prds/abc/v2.md", []byte("abc"), "text/markdown"))

	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", checksum)
}
