package nvr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a fake events API that records every call.
type recorder struct {
	mu       sync.Mutex
	eventID  any // string or number, to exercise both response shapes
	calls    []string
	bodies   map[string]map[string]any
	lastRole string
}

func newRecorder(eventID any) *recorder {
	return &recorder{eventID: eventID, bodies: make(map[string]map[string]any)}
}

func (r *recorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()

		r.calls = append(r.calls, req.Method+" "+req.URL.Path)
		r.lastRole = req.Header.Get("Remote-Role")

		var body map[string]any
		_ = json.NewDecoder(req.Body).Decode(&body)
		r.bodies[req.URL.Path] = body

		if req.URL.Path == "/api/events/register/pos/create" {
			_ = json.NewEncoder(w).Encode(map[string]any{"event_id": r.eventID})
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (r *recorder) callList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:  baseURL,
		Camera:   "register",
		Label:    "pos",
		Duration: 90,
	}
}

func TestCreateEventStringID(t *testing.T) {
	rec := newRecorder("1721775300.123456-abc")
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	id, url, err := client.CreateEvent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1721775300.123456-abc", id)
	assert.Equal(t, srv.URL+"/api/events/1721775300.123456-abc", url)
	assert.Equal(t, float64(90), rec.bodies["/api/events/register/pos/create"]["duration"])
}

func TestCreateEventNumericID(t *testing.T) {
	rec := newRecorder(42)
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	id, _, err := client.CreateEvent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestRemoteRoleHeader(t *testing.T) {
	rec := newRecorder("ev")
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RemoteRole = "admin"
	client := NewClient(cfg)

	_, _, err := client.CreateEvent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "admin", rec.lastRole)
}

func TestCoordinatorLifecycle(t *testing.T) {
	rec := newRecorder("ev-1")
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Retain = true
	coord := NewCoordinator(cfg)
	require.NotNil(t, coord)

	ctx := context.Background()
	ref := coord.Begin(ctx, "txn-1")
	require.NotNil(t, ref)

	ref.Wait(ctx)
	id, url, ok := ref.Event()
	require.True(t, ok)
	assert.Equal(t, "ev-1", id)
	assert.Contains(t, url, "/api/events/ev-1")

	total := 5.78
	coord.Finish(ctx, ref, Summary{TransactionNumber: "1028401", TotalAmount: &total, ItemCount: 2})

	calls := rec.callList()
	assert.Contains(t, calls, "POST /api/events/register/pos/create")
	assert.Contains(t, calls, "POST /api/events/ev-1/sub_label")
	assert.Contains(t, calls, "POST /api/events/ev-1/description")
	assert.Contains(t, calls, "POST /api/events/ev-1/retain")
	assert.Contains(t, calls, "PUT /api/events/ev-1/end")

	assert.Equal(t, "Txn 1028401", rec.bodies["/api/events/ev-1/sub_label"]["subLabel"])
	assert.Equal(t, "Txn 1028401 | Total: 5.78 | Items: 2", rec.bodies["/api/events/ev-1/description"]["description"])
}

func TestUnreachableRecorderLeavesRefUnresolved(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := testConfig(url)
	cfg.RequestTimeout = 500 * time.Millisecond
	coord := NewCoordinator(cfg)

	ctx := context.Background()
	ref := coord.Begin(ctx, "txn-1")
	require.NotNil(t, ref)

	ref.Wait(ctx)
	_, _, ok := ref.Event()
	assert.False(t, ok)

	// Finishing an unresolved ref is a silent no-op.
	coord.Finish(ctx, ref, Summary{TransactionNumber: "1"})
}

func TestDisabledCoordinatorIsNil(t *testing.T) {
	coord := NewCoordinator(Config{})
	assert.Nil(t, coord)

	// Nil receivers are safe on the whole surface.
	ref := coord.Begin(context.Background(), "txn-1")
	assert.Nil(t, ref)
	coord.Finish(context.Background(), ref, Summary{})

	id, url, ok := ref.Event()
	assert.False(t, ok)
	assert.Empty(t, id)
	assert.Empty(t, url)
}

func TestAnnotationFailureStillEndsEvent(t *testing.T) {
	var mu sync.Mutex
	var ended bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.URL.Path == "/api/events/register/pos/create":
			_ = json.NewEncoder(w).Encode(map[string]any{"event_id": "ev-2"})
		case req.URL.Path == "/api/events/ev-2/end":
			mu.Lock()
			ended = true
			mu.Unlock()
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	coord := NewCoordinator(testConfig(srv.URL))
	ctx := context.Background()
	ref := coord.Begin(ctx, "txn-2")
	ref.Wait(ctx)

	coord.Finish(ctx, ref, Summary{TransactionNumber: "7"})

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, ended)
}

func TestDescribeWithMissingFields(t *testing.T) {
	assert.Equal(t, "Txn ? | Total: ? | Items: 0", describe(Summary{}))
}
