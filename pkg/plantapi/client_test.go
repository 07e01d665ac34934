package plantapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, t.Logf)
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func TestFetchPlantOK(t *testing.T) {
	t.Parallel()
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/8", r.URL.Path)
		fmt.Fprint(w, `{"plant_id": 8, "name": "Bird of paradise", "temperature": 12.07}`)
	}))

	payload, err := c.FetchPlant(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, "Bird of paradise", payload["name"])
	assert.Equal(t, 12.07, payload["temperature"])
}

func TestFetchPlantNotFoundSurfacesBody(t *testing.T) {
	t.Parallel()
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": "plant not found", "plant_id": 7}`)
	}))

	_, err := c.FetchPlant(context.Background(), 7)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "plant not found")
}

func TestFetchPlantAuthIsNotRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.FetchPlant(context.Background(), 1)
	require.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchPlantRetriesUpstream(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"plant_id": 2, "name": "Corpse flower"}`)
	}))

	payload, err := c.FetchPlant(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "Corpse flower", payload["name"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchPlantGivesUpAfterRetries(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.FetchPlant(context.Background(), 3)
	require.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, int32(maxUpstreamRetries+1), calls.Load())
}

func TestFetchPlantOtherStatus(t *testing.T) {
	t.Parallel()
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	_, err := c.FetchPlant(context.Background(), 4)
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusTeapot, serr.Code)
}

func TestFetchRangeKeepsOrder(t *testing.T) {
	t.Parallel()
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/3":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error": "plant not found"}`)
		default:
			fmt.Fprintf(w, `{"name": "plant%s"}`, r.URL.Path[1:])
		}
	}))

	results, err := c.FetchRange(context.Background(), 1, 5, 3)
	require.NoError(t, err)
	require.Len(t, results, 5)

	for i, res := range results {
		assert.Equal(t, i+1, res.ID, "results stay in id order")
	}
	assert.Equal(t, "plant1", results[0].Payload["name"])
	assert.ErrorIs(t, results[2].Err, ErrNotFound)
	assert.Equal(t, "plant5", results[4].Payload["name"])
}

func TestFetchRangeAbortsOnAuth(t *testing.T) {
	t.Parallel()
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.FetchRange(context.Background(), 1, 50, 4)
	require.ErrorIs(t, err, ErrAuth)
}

func TestFetchRangeEmpty(t *testing.T) {
	t.Parallel()
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty range")
	}))

	results, err := c.FetchRange(context.Background(), 5, 4, 2)
	require.NoError(t, err)
	assert.Empty(t, results)
}
