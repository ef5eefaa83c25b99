package blobstore

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/xhare/sealshare/interfaces"
)

func TestFileMirrorRoundTrip(t *testing.T) {
	mirror, err := NewFileMirror(t.TempDir(), slog.Default())
	require.NoError(t, err)
	require.True(t, mirror.Available(context.Background()))

	data := []byte("blob bytes")
	id := interfaces.ComputeBlobID(data)
	require.NoError(t, mirror.Put(id, data))

	got, err := mirror.Fetch(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, data, got)

	_, err = mirror.Fetch(context.Background(), interfaces.ComputeBlobID([]byte("other")))
	require.ErrorIs(t, err, interfaces.ErrBlobNotFound)
}

func TestPoolFallsBackAcrossMirrors(t *testing.T) {
	empty, err := NewFileMirror(t.TempDir(), slog.Default())
	require.NoError(t, err)
	full, err := NewFileMirror(t.TempDir(), slog.Default())
	require.NoError(t, err)

	data := []byte("replicated blob")
	id := interfaces.ComputeBlobID(data)
	require.NoError(t, full.Put(id, data))

	pool := NewPool([]interfaces.ReadMirror{empty, full}, slog.Default())
	got, err := pool.GetBlob(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestPoolGetFilesKeepsOrderAndRecordsMisses(t *testing.T) {
	mirror, err := NewFileMirror(t.TempDir(), slog.Default())
	require.NoError(t, err)

	first := []byte("first blob")
	second := []byte("second blob")
	firstID := interfaces.ComputeBlobID(first)
	secondID := interfaces.ComputeBlobID(second)
	missingID := interfaces.ComputeBlobID([]byte("missing"))
	require.NoError(t, mirror.Put(firstID, first))
	require.NoError(t, mirror.Put(secondID, second))

	pool := NewPool([]interfaces.ReadMirror{mirror}, slog.Default())
	results := pool.GetFiles(context.Background(), []interfaces.BlobID{firstID, missingID, secondID})
	require.Len(t, results, 3)
	require.Equal(t, first, results[0].Data)
	require.ErrorIs(t, results[1].Err, interfaces.ErrCiphertextUnavailable)
	require.Equal(t, second, results[2].Data)
}

func TestPoolAllMirrorsFail(t *testing.T) {
	first, err := NewFileMirror(t.TempDir(), slog.Default())
	require.NoError(t, err)
	second, err := NewFileMirror(t.TempDir(), slog.Default())
	require.NoError(t, err)

	pool := NewPool([]interfaces.ReadMirror{first, second}, slog.Default())
	_, err = pool.GetBlob(context.Background(), interfaces.ComputeBlobID([]byte("missing")))
	require.ErrorIs(t, err, interfaces.ErrCiphertextUnavailable)
}

func TestPoolTimesOutSlowMirror(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	slow, err := NewAggregatorMirror(srv.URL, slog.Default())
	require.NoError(t, err)

	pool := NewPool([]interfaces.ReadMirror{slow}, slog.Default())
	pool.SetTimeout(50 * time.Millisecond)

	start := time.Now()
	_, err = pool.GetBlob(context.Background(), interfaces.ComputeBlobID([]byte("data")))
	require.ErrorIs(t, err, interfaces.ErrCiphertextUnavailable)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestPoolTimeoutSharedAcrossMirrors(t *testing.T) {
	var requests atomic.Int64
	hang := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Inc()
		<-r.Context().Done()
	})
	first := httptest.NewServer(hang)
	defer first.Close()
	second := httptest.NewServer(hang)
	defer second.Close()

	mirrors := make([]interfaces.ReadMirror, 0, 2)
	for _, srv := range []*httptest.Server{first, second} {
		mirror, err := NewAggregatorMirror(srv.URL, slog.Default())
		require.NoError(t, err)
		mirrors = append(mirrors, mirror)
	}

	pool := NewPool(mirrors, slog.Default())
	pool.SetTimeout(50 * time.Millisecond)

	_, err := pool.GetBlob(context.Background(), interfaces.ComputeBlobID([]byte("data")))
	require.ErrorIs(t, err, interfaces.ErrCiphertextUnavailable)

	// The timeout bounds the whole fetch: after the first mirror burned
	// it, the second one is never contacted.
	require.EqualValues(t, 1, requests.Load())
}

func TestMirrorFactorySchemes(t *testing.T) {
	factory := NewMirrorFactory(slog.Default())

	mirror, err := factory.MirrorFor("walrus://aggregator.test:8080?insecure")
	require.NoError(t, err)
	require.Equal(t, "aggregator", mirror.Name())

	mirror, err = factory.MirrorFor("file://" + t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "file", mirror.Name())

	_, err = factory.MirrorFor("ftp://nope")
	require.ErrorIs(t, err, interfaces.ErrInvalidMirrorURI)

	_, err = factory.MirrorFor("s3://bucket/prefix")
	require.ErrorIs(t, err, interfaces.ErrInvalidMirrorURI)
}

func TestPoolForSkipsInvalidURIs(t *testing.T) {
	factory := NewMirrorFactory(slog.Default())

	pool, err := factory.PoolFor([]string{"ftp://nope", "file://" + t.TempDir()})
	require.NoError(t, err)
	require.Len(t, pool.Mirrors(), 1)

	_, err = factory.PoolFor([]string{"ftp://nope"})
	require.Error(t, err)
}
