package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fieldline/internal/retry"
)

func TestCreateInspection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/inspections", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "prop-1", body["property_id"])
		require.Equal(t, "insp-7", body["inspector_id"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/api/", 0)
	c.BearerToken = "tok"
	id, err := c.CreateInspection(context.Background(), "prop-1", "insp-7")
	require.NoError(t, err)
	require.Equal(t, "abc", id)
}

func TestUpsertChecklistItemPath(t *testing.T) {
	var got ChecklistUpsert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/inspections/i%201/checklist/smoke", r.URL.EscapedPath())
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := New(srv.URL, 0).UpsertChecklistItem(context.Background(), "i 1", ChecklistUpsert{ChecklistItemID: "smoke", Status: "completed"})
	require.NoError(t, err)
	require.Equal(t, "completed", got.Status)
}

func TestStatusErrorsClassify(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", int(status.Load()))
	}))
	defer srv.Close()
	c := New(srv.URL, 0)

	err := c.UpsertChecklistItem(context.Background(), "i", ChecklistUpsert{ChecklistItemID: "x"})
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, http.StatusServiceUnavailable, rerr.StatusCode)
	require.Equal(t, "nope", rerr.Body)
	require.Equal(t, retry.Transient, retry.Classify(err))

	for _, code := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity} {
		status.Store(int32(code))
		err = c.UpsertChecklistItem(context.Background(), "i", ChecklistUpsert{ChecklistItemID: "x"})
		require.Equal(t, retry.Terminal, retry.Classify(err), "status %d", code)
	}
	status.Store(http.StatusTooManyRequests)
	err = c.UpsertChecklistItem(context.Background(), "i", ChecklistUpsert{ChecklistItemID: "x"})
	require.Equal(t, retry.Transient, retry.Classify(err))
}

func TestUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := New(url, 0).Ping(context.Background())
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	require.Zero(t, rerr.StatusCode)
	require.Equal(t, retry.Transient, retry.Classify(err))
}

func TestMissingBaseURLIsTerminal(t *testing.T) {
	_, err := New("", 0).CreateInspection(context.Background(), "p", "i")
	require.Error(t, err)
	require.Equal(t, retry.Terminal, retry.Classify(err))

	_, err = New("http://x", 0).CreateInspection(context.Background(), "", "i")
	require.Error(t, err)
}

func TestCreateInspectionMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	_, err := New(srv.URL, 0).CreateInspection(context.Background(), "p", "i")
	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	require.Equal(t, http.StatusBadGateway, rerr.StatusCode)
}

func TestSharedClientConcurrentCalls(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"id":"x"}`))
	}))
	defer srv.Close()

	for _, c := range []*Client{New(srv.URL, time.Second), {BaseURL: srv.URL}} {
		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				errs <- c.Ping(context.Background())
			}()
			go func() {
				defer wg.Done()
				_, err := c.CreateInspection(context.Background(), "p", "i")
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
	}
	require.EqualValues(t, 32, hits.Load())
}

func TestNewAppliesTimeout(t *testing.T) {
	require.Equal(t, DefaultTimeout, New("http://x", 0).HTTPClient.Timeout)
	require.Equal(t, 2*time.Second, New("http://x", 2*time.Second).HTTPClient.Timeout)
}
