package catalyst

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"catalyst-migrator/pkg/catalyst/catalysttest"
	"catalyst-migrator/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestEntitiesByPointers(t *testing.T) {
	srv := catalysttest.New()
	defer srv.Close()

	srv.AddEntity(types.Entity{ID: "bafkreia", Type: types.EntityTypeProfile, Pointers: []string{"default1"}})
	srv.AddEntity(types.Entity{ID: "bafkreib", Type: types.EntityTypeProfile, Pointers: []string{"default2"}})
	srv.AddEntity(types.Entity{ID: "bafkreic", Type: types.EntityTypeScene, Pointers: []string{"0,0"}})

	client := NewClient(srv.URL+"/", WithLogger(zaptest.NewLogger(t)))
	entities, err := client.EntitiesByPointers(context.Background(), []string{"default1", "default2", "unknown"})
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, types.ContentHash("bafkreia"), entities[0].ID)
	assert.Equal(t, srv.URL, client.baseURL)
}

func TestEntitiesByPointersBatches(t *testing.T) {
	srv := catalysttest.New()
	defer srv.Close()

	pointers := make([]string, 0, 160)
	for i := 1; i <= 160; i++ {
		pointers = append(pointers, fmt.Sprintf("default%d", i))
	}
	srv.AddEntity(types.Entity{ID: "bafkreilast", Type: types.EntityTypeProfile, Pointers: []string{"default160"}})

	entities, err := NewClient(srv.URL).EntitiesByPointers(context.Background(), pointers)
	require.NoError(t, err)
	assert.Len(t, entities, 1)
	assert.Equal(t, 2, srv.Calls("active"))
}

func TestCollectionEntities(t *testing.T) {
	srv := catalysttest.New()
	defer srv.Close()

	urn := "urn:decentraland:off-chain:base-avatars"
	srv.AddCollection(urn,
		types.Entity{ID: "bafkreiw1", Type: types.EntityTypeWearable, Pointers: []string{urn + ":eyebrows_00"}},
		types.Entity{ID: "bafkreiw2", Type: types.EntityTypeWearable, Pointers: []string{urn + ":eyes_00"}},
	)

	entities, err := NewClient(srv.URL).CollectionEntities(context.Background(), urn)
	require.NoError(t, err)
	assert.Len(t, entities, 2)

	empty, err := NewClient(srv.URL).CollectionEntities(context.Background(), "urn:none")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestResolve(t *testing.T) {
	srv := catalysttest.New()
	defer srv.Close()
	srv.AddContent("bafkreiblob", []byte("blob"))

	client := NewClient(srv.URL, WithRetryPolicy(fastRetry()))

	data, err := client.Resolve(context.Background(), "bafkreiblob")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), data)

	_, err = client.Resolve(context.Background(), "bafkreimissing")
	assert.ErrorIs(t, err, types.ErrContentNotFound)
	// Not found is final.
	assert.Equal(t, 2, srv.Calls("content"))
}

func TestResolveRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("finally"))
	}))
	defer srv.Close()

	data, err := NewClient(srv.URL, WithRetryPolicy(fastRetry())).Resolve(context.Background(), "bafkreix")
	require.NoError(t, err)
	assert.Equal(t, []byte("finally"), data)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestResolveDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "bad hash", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithRetryPolicy(fastRetry())).Resolve(context.Background(), "bafkreix")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, "bad hash", statusErr.Body)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithTimeout(50*time.Millisecond), WithRetryPolicy(NoRetry()))
	start := time.Now()
	_, err := client.Resolve(context.Background(), "bafkreislow")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.False(t, isRetryableError(types.ErrContentNotFound))
	assert.False(t, isRetryableError(context.Canceled))
	assert.False(t, isRetryableError(&StatusError{StatusCode: http.StatusNotFound}))
	assert.True(t, isRetryableError(&StatusError{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, isRetryableError(&StatusError{StatusCode: http.StatusBadGateway}))
}

func TestBackoffBounded(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, JitterFactor: 0.2}
	for attempt := 0; attempt < 10; attempt++ {
		d := p.backoff(attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}
