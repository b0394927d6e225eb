package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/strongdm/cxdb/internal/blob"
	"github.com/strongdm/cxdb/internal/store"
)

func newTestGateway(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), blob.Policy{})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	srv := New(Config{Addr: "127.0.0.1:0"}, st)
	ts := httptest.NewServer(srv.httpSrv.Handler)
	t.Cleanup(ts.Close)
	return ts, st
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealth(t *testing.T) {
	ts, _ := newTestGateway(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCreateAndGetContext(t *testing.T) {
	ts, _ := newTestGateway(t)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/contexts", map[string]any{"client_tag": "alpha"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create_context status = %d, body = %v", resp.StatusCode, body)
	}
	contextID := body["context_id"].(string)
	if body["client_tag"] != "alpha" {
		t.Fatalf("client_tag = %v, want alpha", body["client_tag"])
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/contexts/"+contextID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get_context status = %d", resp.StatusCode)
	}
	if body["context_id"] != contextID {
		t.Fatalf("context_id = %v, want %v", body["context_id"], contextID)
	}
}

func TestGetContextUnknownReturns404(t *testing.T) {
	ts, _ := newTestGateway(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/contexts/999", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, body = %v, want 404", resp.StatusCode, body)
	}
	if body["kind"] != "ContextNotFound" {
		t.Fatalf("kind = %v, want ContextNotFound", body["kind"])
	}
}

func TestAppendAndGetTurns(t *testing.T) {
	ts, _ := newTestGateway(t)
	_, ctxBody := doJSON(t, http.MethodPost, ts.URL+"/v1/contexts", nil)
	contextID := ctxBody["context_id"].(string)

	resp, turnBody := doJSON(t, http.MethodPost, ts.URL+"/v1/contexts/"+contextID+"/turns", map[string]any{
		"type_id":      "com.example.Message",
		"type_version": 1,
		"payload":      map[string]any{"text": "hi"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("append status = %d, body = %v", resp.StatusCode, turnBody)
	}
	turnID := turnBody["turn_id"].(string)
	if turnID == "0" || turnID == "" {
		t.Fatalf("turn_id = %v", turnID)
	}

	resp, batchBody := doJSON(t, http.MethodGet, ts.URL+"/v1/contexts/"+contextID+"/turns?view=raw&limit=10", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get_turns status = %d, body = %v", resp.StatusCode, batchBody)
	}
	turns, ok := batchBody["turns"].([]any)
	if !ok || len(turns) != 1 {
		t.Fatalf("turns = %v, want 1 entry", batchBody["turns"])
	}
}

func TestForkContext(t *testing.T) {
	ts, _ := newTestGateway(t)
	_, ctxBody := doJSON(t, http.MethodPost, ts.URL+"/v1/contexts", nil)
	contextID := ctxBody["context_id"].(string)

	_, turnBody := doJSON(t, http.MethodPost, ts.URL+"/v1/contexts/"+contextID+"/turns", map[string]any{
		"type_id":      "com.example.Message",
		"type_version": 1,
		"payload":      map[string]any{"text": "root"},
	})
	turnID := turnBody["turn_id"].(string)

	resp, forkBody := doJSON(t, http.MethodPost, ts.URL+"/v1/contexts/"+contextID+"/fork", map[string]any{
		"base_turn_id": turnID,
		"spawn_reason": "branch-test",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("fork status = %d, body = %v", resp.StatusCode, forkBody)
	}
	if forkBody["head_turn_id"] != turnID {
		t.Fatalf("forked head_turn_id = %v, want %v", forkBody["head_turn_id"], turnID)
	}
}

func TestGetBlob(t *testing.T) {
	ts, st := newTestGateway(t)
	hash, err := st.Blobs().Put([]byte("blob bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	resp, err := http.Get(ts.URL + "/v1/blobs/" + fmt.Sprintf("%x", hash))
	if err != nil {
		t.Fatalf("get blob: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got, _ := io.ReadAll(resp.Body)
	if string(got) != "blob bytes" {
		t.Fatalf("body = %q", got)
	}
}

func TestPublishAndGetBundle(t *testing.T) {
	ts, _ := newTestGateway(t)
	bundle := map[string]any{
		"types": map[string]any{
			"com.example.Message": map[string]any{
				"1": map[string]any{
					"1": map[string]any{"name": "text", "type": "string"},
				},
			},
		},
	}
	resp, body := doJSON(t, http.MethodPut, ts.URL+"/v1/registry/bundles/b1", bundle)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("publish status = %d, body = %v", resp.StatusCode, body)
	}

	resp, getBody := doJSON(t, http.MethodGet, ts.URL+"/v1/registry/bundles/b1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get_bundle status = %d", resp.StatusCode)
	}
	if getBody["bundle_id"] != "b1" {
		t.Fatalf("bundle_id = %v, want b1", getBody["bundle_id"])
	}

	resp, descBody := doJSON(t, http.MethodGet, ts.URL+"/v1/registry/types/com.example.Message/versions/1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get_descriptor status = %d, body = %v", resp.StatusCode, descBody)
	}
	if _, ok := descBody["1"]; !ok {
		t.Fatalf("descriptor missing tag 1: %v", descBody)
	}
}

func TestListContextsAndChildren(t *testing.T) {
	ts, _ := newTestGateway(t)
	_, root := doJSON(t, http.MethodPost, ts.URL+"/v1/contexts", map[string]any{"client_tag": "root"})
	rootID := root["context_id"].(string)

	_, turn := doJSON(t, http.MethodPost, ts.URL+"/v1/contexts/"+rootID+"/turns", map[string]any{
		"type_id": "com.example.Message", "type_version": 1, "payload": map[string]any{"text": "x"},
	})
	baseTurnID := turn["turn_id"].(string)

	doJSON(t, http.MethodPost, ts.URL+"/v1/contexts/"+rootID+"/fork", map[string]any{"base_turn_id": baseTurnID})

	// list_contexts returns a JSON array, not an object, so it is
	// fetched directly rather than through doJSON's object decoder.
	var list []map[string]any
	rawResp, err := http.Get(ts.URL + "/v1/contexts")
	if err != nil {
		t.Fatalf("list_contexts: %v", err)
	}
	defer rawResp.Body.Close()
	if err := json.NewDecoder(rawResp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list_contexts returned %d contexts, want 2", len(list))
	}

	childResp, err := http.Get(ts.URL + "/v1/contexts/" + rootID + "/children")
	if err != nil {
		t.Fatalf("get_children: %v", err)
	}
	defer childResp.Body.Close()
	var children []map[string]any
	if err := json.NewDecoder(childResp.Body).Decode(&children); err != nil {
		t.Fatalf("decode children: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("children = %d, want 1", len(children))
	}
}

func TestAppendTurnMsgpackEncodesPayload(t *testing.T) {
	// Sanity-checks the gateway's JSON->msgpack bridge independent of
	// HTTP plumbing: a map[string]any marshals the same way
	// handleAppendTurn does.
	payload := map[string]any{"text": "hi", "count": 3}
	b, err := msgpack.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]any
	if err := msgpack.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["text"] != "hi" {
		t.Fatalf("text = %v", decoded["text"])
	}
}

func TestGetTurnsLimitValidation(t *testing.T) {
	ts, _ := newTestGateway(t)
	_, ctxBody := doJSON(t, http.MethodPost, ts.URL+"/v1/contexts", nil)
	contextID := ctxBody["context_id"].(string)

	resp, err := http.Get(ts.URL + "/v1/contexts/" + contextID + "/turns?limit=9999")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPublishBundleConflictReturns409(t *testing.T) {
	ts, _ := newTestGateway(t)
	bundleV1 := map[string]any{
		"types": map[string]any{
			"com.example.Message": map[string]any{
				"1": map[string]any{"1": map[string]any{"name": "text", "type": "string"}},
			},
		},
	}
	resp, body := doJSON(t, http.MethodPut, ts.URL+"/v1/registry/bundles/b1", bundleV1)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first publish status = %d, body = %v", resp.StatusCode, body)
	}

	bundleConflict := map[string]any{
		"types": map[string]any{
			"com.example.Message": map[string]any{
				"1": map[string]any{"1": map[string]any{"name": "text", "type": "bytes"}},
			},
		},
	}
	resp, body = doJSON(t, http.MethodPut, ts.URL+"/v1/registry/bundles/b2", bundleConflict)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("conflicting publish status = %d, body = %v", resp.StatusCode, body)
	}
}

