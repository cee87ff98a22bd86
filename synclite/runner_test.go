package synclite

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunOnceSkipsWhenOffline(t *testing.T) {
	store := newTestStore(t)
	outbox := NewOutbox(store, nil)
	ctx := context.Background()

	_, err := outbox.Enqueue(ctx, Entry{TempID: "products_t1", ResourceType: "products", Op: OpCreate})
	require.NoError(t, err)

	calls := 0
	replay := func(ctx context.Context, resourceType string, op Op, payload Document, targetID string) (Document, error) {
		calls++
		return nil, nil
	}

	health := NewNetworkStatus(false)
	runner := NewRunner(outbox, replay, health)

	require.Equal(t, 0, runner.RunOnce(ctx))
	require.Equal(t, 0, calls)

	health.Set(true)
	require.Equal(t, 1, runner.RunOnce(ctx))
	require.Equal(t, 1, calls)
}

func TestRunnerReplaysOnReconnect(t *testing.T) {
	store := newTestStore(t)
	outbox := NewOutbox(store, nil)
	ctx := context.Background()

	_, err := outbox.Enqueue(ctx, Entry{TempID: "products_t1", ResourceType: "products", Op: OpCreate})
	require.NoError(t, err)

	replayed := make(chan struct{}, 1)
	replay := func(ctx context.Context, resourceType string, op Op, payload Document, targetID string) (Document, error) {
		select {
		case replayed <- struct{}{}:
		default:
		}
		return nil, nil
	}

	health := NewNetworkStatus(false)
	runner := NewRunner(outbox, replay, health)
	runner.SetInterval(time.Hour) // only the transition should trigger a sweep

	require.NoError(t, runner.Start(ctx))
	defer runner.Stop()
	require.Error(t, runner.Start(ctx)) // double start

	health.Set(true)

	select {
	case <-replayed:
	case <-time.After(5 * time.Second):
		t.Fatal("outbox was not replayed after reconnect")
	}
}

func TestAPIReplay(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		switch r.Method {
		case http.MethodPost:
			w.Write([]byte(`{"id":"real-123","name":"Widget"}`))
		case http.MethodPut:
			w.Write([]byte(`{"success":true,"data":{"id":"p1","name":"Renamed"}}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	replay := APIReplay(NewAPIClient(srv.URL, "biz", "loc"))
	ctx := context.Background()

	doc, err := replay(ctx, "products", OpCreate, Document{"name": "Widget"}, "")
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, "/resources/biz-loc", gotPath)
	require.Equal(t, "real-123", doc.ID())

	doc, err = replay(ctx, "products", OpUpdate, Document{"name": "Renamed"}, "p1")
	require.NoError(t, err)
	require.Equal(t, http.MethodPut, gotMethod)
	require.Equal(t, "/resources/biz-loc/p1", gotPath)
	require.Equal(t, "Renamed", doc.str("name"))

	doc, err = replay(ctx, "products", OpDelete, nil, "p1")
	require.NoError(t, err)
	require.Equal(t, http.MethodDelete, gotMethod)
	require.Nil(t, doc)

	_, err = replay(ctx, "products", Op("bogus"), nil, "")
	require.Error(t, err)
}
