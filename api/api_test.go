package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iidesho/aggregates"
	"github.com/iidesho/aggregates/serializer"
	"github.com/iidesho/aggregates/store/inmemory"
	"github.com/iidesho/aggregates/webserver"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type order struct{}

func (order) Bucket() string   { return "orders" }
func (order) StreamId() string { return "" }

type orderPlaced struct {
	OrderId string `json:"order_id"`
}

func newServer(t *testing.T, registry *serializer.Registry) webserver.Server {
	conn, err := inmemory.Init()
	require.NoError(t, err)
	s, err := aggregates.New(context.Background(), conn, registry)
	require.NoError(t, err)
	serv, err := webserver.Init(0, true)
	require.NoError(t, err)
	Register[order](serv.API(), s, "/streams")
	return serv
}

func do(t *testing.T, serv webserver.Server, method, path string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set(webserver.CONTENT_TYPE, webserver.CONTENT_TYPE_JSON)
	}
	resp, err := serv.App().Test(req)
	require.NoError(t, err)
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func writeRequest(expected *int64, ids ...string) map[string]any {
	var events []map[string]any
	for _, id := range ids {
		events = append(events, map[string]any{
			"type": "OrderPlaced",
			"data": map[string]any{"order_id": id},
		})
	}
	req := map[string]any{"events": events, "headers": map[string]string{"user": "api"}}
	if expected != nil {
		req["expected_version"] = *expected
	}
	return req
}

func registry(t *testing.T) *serializer.Registry {
	r := serializer.NewRegistry()
	require.NoError(t, serializer.Register[orderPlaced](r, "OrderPlaced"))
	return r
}

func TestWriteAndRead(t *testing.T) {
	serv := newServer(t, registry(t))
	noStream := int64(-1)

	status, body := do(t, serv, http.MethodPost, "/streams/orders/ORD-1", writeRequest(&noStream, "a", "b"))
	require.Equal(t, http.StatusNoContent, status, string(body))

	status, body = do(t, serv, http.MethodPost, "/streams/orders/ORD-1", writeRequest(&noStream, "c"))
	assert.Equal(t, http.StatusConflict, status, string(body))

	status, body = do(t, serv, http.MethodPost, "/streams/orders/ORD-1", writeRequest(nil, "c"))
	require.Equal(t, http.StatusNoContent, status, string(body))

	status, body = do(t, serv, http.MethodGet, "/streams/orders/ORD-1", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var stream Stream
	require.NoError(t, json.Unmarshal(body, &stream))
	assert.Equal(t, "orders", stream.Bucket)
	assert.Equal(t, "ORD-1", stream.StreamId)
	assert.EqualValues(t, 2, stream.LastVersion)
	require.Len(t, stream.Events, 3)
	assert.Equal(t, "OrderPlaced", stream.Events[0].Type)
	assert.JSONEq(t, `{"order_id":"a"}`, string(stream.Events[0].Data))
	assert.Equal(t, "api", stream.Events[2].Headers["user"])
	assert.EqualValues(t, 2, stream.Events[2].Version)

	status, body = do(t, serv, http.MethodGet, "/streams/orders/ORD-1/backwards?count=2", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var back []Event
	require.NoError(t, json.Unmarshal(body, &back))
	require.Len(t, back, 2)
	assert.EqualValues(t, 2, back[0].Version)
}

func TestTraceIdHeader(t *testing.T) {
	serv := newServer(t, registry(t))
	b, err := json.Marshal(writeRequest(nil, "a"))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/streams/orders/ORD-2", bytes.NewReader(b))
	req.Header.Set(webserver.CONTENT_TYPE, webserver.CONTENT_TYPE_JSON)
	req.Header.Set(webserver.TRACE_ID, "req-42")
	resp, err := serv.App().Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	status, body := do(t, serv, http.MethodGet, "/streams/orders/ORD-2", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var stream Stream
	require.NoError(t, json.Unmarshal(body, &stream))
	require.Len(t, stream.Events, 1)
	assert.Equal(t, "req-42", stream.Events[0].Headers["trace_id"])
}

func TestExport(t *testing.T) {
	serv := newServer(t, registry(t))
	status, body := do(t, serv, http.MethodPost, "/streams/orders/ORD-3", writeRequest(nil, "a", "b", "c"))
	require.Equal(t, http.StatusNoContent, status, string(body))

	status, body = do(t, serv, http.MethodGet, "/streams/orders/ORD-3/export?from=1", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var got []Event
	for _, line := range strings.Split(string(body), "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok || strings.HasPrefix(data, `{"last_version"`) {
			continue
		}
		var e Event
		require.NoError(t, json.Unmarshal([]byte(data), &e))
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.EqualValues(t, 1, got[0].Version)
	assert.JSONEq(t, `{"order_id":"c"}`, string(got[1].Data))
	assert.Contains(t, string(body), "event: end\ndata: {\"last_version\":2}")

	status, _ = do(t, serv, http.MethodGet, "/streams/orders.OOB/ORD-3/export", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestBadRequests(t *testing.T) {
	serv := newServer(t, registry(t))

	status, _ := do(t, serv, http.MethodPost, "/streams/orders/ORD-2", map[string]any{
		"events": []map[string]any{{"type": "Unknown", "data": map[string]any{}}},
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, serv, http.MethodPost, "/streams/orders/ORD-2", map[string]any{"events": []map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, serv, http.MethodPost, "/streams/orders.OOB/ORD-2", writeRequest(nil, "a"))
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, serv, http.MethodGet, "/streams/orders/ORD-2?from=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, serv, http.MethodPut, "/streams/orders/ORD-2/metadata", map[string]any{"max_age": "forever"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestEventFields(t *testing.T) {
	serv := newServer(t, registry(t))
	id := "018f6b2e-5c4a-7e1b-9a3d-2f6c8e0b4d71"
	status, body := do(t, serv, http.MethodPost, "/streams/orders/ORD-5", map[string]any{
		"events": []map[string]any{{
			"id":        id,
			"type":      "OrderPlaced",
			"headers":   map[string]string{"source": "import", "user": "event"},
			"timestamp": "2024-05-01T10:00:00Z",
			"data":      map[string]any{"order_id": "ORD-5"},
		}},
		"headers": map[string]string{"user": "api"},
	})
	require.Equal(t, http.StatusNoContent, status, string(body))

	status, body = do(t, serv, http.MethodGet, "/streams/orders/ORD-5", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var stream Stream
	require.NoError(t, json.Unmarshal(body, &stream))
	require.Len(t, stream.Events, 1)
	e := stream.Events[0]
	assert.Equal(t, id, e.Id.String())
	assert.Equal(t, "import", e.Headers["source"])
	assert.Equal(t, "api", e.Headers["user"])
	assert.Equal(t, 2024, e.Timestamp.Year())

	status, _ = do(t, serv, http.MethodPost, "/streams/orders/ORD-5", map[string]any{
		"events":           []map[string]any{{"type": "OrderPlaced", "data": map[string]any{}}},
		"expected_version": -3,
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestMetadata(t *testing.T) {
	serv := newServer(t, registry(t))
	status, body := do(t, serv, http.MethodPut, "/streams/orders/ORD-3/metadata", map[string]any{
		"max_count":     1,
		"max_age":       "1h",
		"cache_control": "5m",
	})
	require.Equal(t, http.StatusNoContent, status, string(body))

	status, _ = do(t, serv, http.MethodPost, "/streams/orders/ORD-3", writeRequest(nil, "a", "b"))
	require.Equal(t, http.StatusNoContent, status)

	status, body = do(t, serv, http.MethodGet, "/streams/orders/ORD-3", nil)
	require.Equal(t, http.StatusOK, status)
	var stream Stream
	require.NoError(t, json.Unmarshal(body, &stream))
	require.Len(t, stream.Events, 1)
	assert.JSONEq(t, `{"order_id":"b"}`, string(stream.Events[0].Data))
}

func TestOOB(t *testing.T) {
	serv := newServer(t, serializer.NewRegistry(serializer.AllowRaw()))
	for _, id := range []string{"x0", "x1", "x2"} {
		status, body := do(t, serv, http.MethodPost, "/streams/orders/ORD-4/oob", writeRequest(nil, id))
		require.Equal(t, http.StatusNoContent, status, string(body))
	}

	status, body := do(t, serv, http.MethodGet, "/streams/orders/ORD-4/oob?order=desc", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var got []Event
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 3)
	assert.JSONEq(t, `{"order_id":"x2"}`, string(got[0].Data))
	assert.JSONEq(t, `{"order_id":"x0"}`, string(got[2].Data))
	assert.Equal(t, "OrderPlaced", got[0].Type)

	status, body = do(t, serv, http.MethodGet, "/streams/orders/ORD-4/oob?skip=1&take=1", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"order_id":"x1"}`, string(got[0].Data))

	status, body = do(t, serv, http.MethodGet, "/streams/orders/ORD-4", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var stream Stream
	require.NoError(t, json.Unmarshal(body, &stream))
	assert.Empty(t, stream.Events)
}

func TestSnapshot(t *testing.T) {
	serv := newServer(t, registry(t))

	status, _ := do(t, serv, http.MethodGet, "/streams/orders/ORD-5/snapshot", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body := do(t, serv, http.MethodPut, "/streams/orders/ORD-5/snapshot", map[string]any{
		"version": 3,
		"type":    "OrderPlaced",
		"data":    map[string]any{"order_id": "ORD-5"},
	})
	require.Equal(t, http.StatusNoContent, status, string(body))

	status, body = do(t, serv, http.MethodGet, "/streams/orders/ORD-5/snapshot", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var snap Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.EqualValues(t, 3, snap.Version)
	assert.Equal(t, "OrderPlaced", snap.Type)
	assert.JSONEq(t, `{"order_id":"ORD-5"}`, string(snap.Data))
}
