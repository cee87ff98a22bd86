package synclite

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAPIClientHeadersAndBody(t *testing.T) {
	var gotAuth, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("X-Resource-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte(`{"id":"p1"}`))
	}))
	defer srv.Close()

	api := NewAPIClient(srv.URL, "biz", "loc")
	api.Token = func(ctx context.Context) (string, error) { return "tok-1", nil }

	resp, err := api.Do(context.Background(), http.MethodPost, "products", "", nil, Document{"name": "Widget"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Bearer tok-1", gotAuth)
	require.Equal(t, "products", gotType)
	require.JSONEq(t, `{"data":{"name":"Widget"}}`, gotBody)
}

func TestAPIClientEndpoint(t *testing.T) {
	api := NewAPIClient("https://api.example.com/", "biz", "loc")

	require.Equal(t, "https://api.example.com/resources/biz-loc", api.endpoint("", nil))
	require.Equal(t, "https://api.example.com/resources/biz-loc/p1", api.endpoint("p1", nil))
	require.Equal(t, "https://api.example.com/resources/biz-loc?page=2",
		api.endpoint("", url.Values{"page": {"2"}}))
}

func TestAPIClientNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	api := NewAPIClient(srv.URL, "biz", "loc")
	_, err := api.Do(context.Background(), http.MethodGet, "products", "", nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}

func TestAPIClientTokenFailureAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not be sent when the token cannot be obtained")
	}))
	defer srv.Close()

	api := NewAPIClient(srv.URL, "biz", "loc")
	api.Token = func(ctx context.Context) (string, error) { return "", context.DeadlineExceeded }

	_, err := api.Do(context.Background(), http.MethodGet, "products", "", nil, nil)
	require.Error(t, err)
}
