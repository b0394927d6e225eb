package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/strongdm/cxdb/internal/blob"
	"github.com/strongdm/cxdb/internal/ctxstore"
	"github.com/strongdm/cxdb/internal/cxerr"
	"github.com/strongdm/cxdb/internal/projection"
	"github.com/strongdm/cxdb/internal/registry"
	"github.com/strongdm/cxdb/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type createContextRequest struct {
	BaseTurnID  string            `json:"base_turn_id,omitempty"`
	ClientTag   string            `json:"client_tag,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	Title       string            `json:"title,omitempty"`
	Labels      []string          `json:"labels,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

func contextJSON(c ctxstore.Context) map[string]any {
	return map[string]any{
		"context_id":  formatUint(c.ContextID),
		"head_turn_id": formatUint(c.HeadTurnID),
		"head_depth":  c.HeadDepth,
		"created_at_ms": c.CreatedAtMS,
		"client_tag":  c.Metadata.ClientTag,
		"session_id":  c.Metadata.SessionID,
		"title":       c.Metadata.Title,
		"labels":      c.Metadata.Labels,
		"extra":       c.Metadata.Extra,
		"provenance": map[string]any{
			"parent_context_id": formatUint(c.Metadata.Provenance.ParentContextID),
			"root_context_id":   formatUint(c.Metadata.Provenance.RootContextID),
			"spawn_reason":      c.Metadata.Provenance.SpawnReason,
		},
	}
}

func (s *Server) handleCreateContext(w http.ResponseWriter, r *http.Request) {
	var req createContextRequest
	if !decodeJSONBodyAllowEmpty(w, r, &req) {
		return
	}
	baseTurnID, ok := parseOptionalUint(w, req.BaseTurnID, "base_turn_id")
	if !ok {
		return
	}
	md := ctxstore.Metadata{
		ClientTag: req.ClientTag,
		SessionID: req.SessionID,
		Title:     req.Title,
		Labels:    req.Labels,
		Extra:     req.Extra,
	}
	c, err := s.store.Contexts().CreateContext(baseTurnID, md)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, contextJSON(c))
}

func (s *Server) handleListContexts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ctxstore.ListFilter{
		ClientTag: q.Get("client_tag"),
		SessionID: q.Get("session_id"),
		Label:     q.Get("label"),
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeErrorMsg(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	contexts, err := s.store.Contexts().List(filter, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, len(contexts))
	for i, c := range contexts {
		out[i] = contextJSON(c)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	contextID, ok := parsePathUint(w, r.PathValue("id"), "id")
	if !ok {
		return
	}
	c, err := s.store.Contexts().GetContext(contextID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contextJSON(c))
}

type forkContextRequest struct {
	BaseTurnID  string `json:"base_turn_id"`
	SpawnReason string `json:"spawn_reason,omitempty"`
}

func (s *Server) handleForkContext(w http.ResponseWriter, r *http.Request) {
	owningContextID, ok := parsePathUint(w, r.PathValue("id"), "id")
	if !ok {
		return
	}
	var req forkContextRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	baseTurnID, ok := parseRequiredUint(w, req.BaseTurnID, "base_turn_id")
	if !ok {
		return
	}
	c, err := s.store.Contexts().Fork(baseTurnID, owningContextID, req.SpawnReason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, contextJSON(c))
}

func (s *Server) handleGetChildren(w http.ResponseWriter, r *http.Request) {
	contextID, ok := parsePathUint(w, r.PathValue("id"), "id")
	if !ok {
		return
	}
	recursive := r.URL.Query().Get("recursive") == "true"
	children, err := s.store.Contexts().Children(contextID, recursive)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, len(children))
	for i, c := range children {
		out[i] = contextJSON(c)
	}
	writeJSON(w, http.StatusOK, out)
}

type appendTurnRequest struct {
	ParentTurnID   string         `json:"parent_turn_id,omitempty"`
	TypeID         string         `json:"type_id"`
	TypeVersion    uint32         `json:"type_version"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// handleAppendTurn is a JSON convenience append path, supplementing
// spec §6.3's read-only gateway contract. The high-throughput append
// path remains internal/wire's binary protocol (spec §6.2); this
// handler exists for callers (scripts, curl, low-volume integrations)
// that would rather not speak the binary framing.
func (s *Server) handleAppendTurn(w http.ResponseWriter, r *http.Request) {
	contextID, ok := parsePathUint(w, r.PathValue("id"), "id")
	if !ok {
		return
	}
	var req appendTurnRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	parentTurnID, ok := parseOptionalUint(w, req.ParentTurnID, "parent_turn_id")
	if !ok {
		return
	}
	payload, err := msgpack.Marshal(req.Payload)
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "payload: "+err.Error())
		return
	}
	t, err := s.store.AppendTurn(store.AppendRequest{
		ContextID:      contextID,
		ParentTurnID:   parentTurnID,
		TypeID:         req.TypeID,
		TypeVersion:    req.TypeVersion,
		Payload:        payload,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"context_id":   formatUint(contextID),
		"turn_id":      formatUint(t.TurnID),
		"depth":        t.Depth,
		"payload_hash": hex.EncodeToString(t.ContentHash[:]),
	})
}

func (s *Server) handleGetTurns(w http.ResponseWriter, r *http.Request) {
	contextID, ok := parsePathUint(w, r.PathValue("id"), "id")
	if !ok {
		return
	}
	q := r.URL.Query()

	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 512 {
			writeErrorMsg(w, http.StatusBadRequest, "limit must be an integer in [0, 512]")
			return
		}
		limit = n
	}
	beforeTurnID, ok := parseOptionalUint(w, q.Get("before_turn_id"), "before_turn_id")
	if !ok {
		return
	}

	opts := store.DefaultReadOptions()
	if v := q.Get("view"); v != "" {
		opts.View = projection.View(v)
	}
	if v := q.Get("type_hint_mode"); v != "" {
		opts.TypeHintMode = store.TypeHintMode(v)
	}
	if opts.TypeHintMode == store.HintExplicit {
		opts.ExplicitTypeID = q.Get("explicit_type_id")
		v, ok := parseOptionalUint32(w, q.Get("explicit_type_version"), "explicit_type_version")
		if !ok {
			return
		}
		opts.ExplicitTypeVersion = v
	}
	opts.Render.IncludeUnknown = q.Get("include_unknown") == "true"
	if v := q.Get("bytes_render"); v != "" {
		opts.Render.BytesRender = projection.BytesRender(v)
	}
	if v := q.Get("u64_format"); v != "" {
		opts.Render.U64Format = projection.U64Format(v)
	}
	if v := q.Get("enum_render"); v != "" {
		opts.Render.EnumRender = projection.EnumRender(v)
	}
	if v := q.Get("time_render"); v != "" {
		opts.Render.TimeRender = projection.TimeRender(v)
	}

	batch, err := s.store.GetTurns(contextID, limit, beforeTurnID, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turnBatchJSON(batch))
}

func turnBatchJSON(b store.TurnBatch) map[string]any {
	turns := make([]map[string]any, len(b.Turns))
	for i, v := range b.Turns {
		turns[i] = turnViewJSON(v)
	}
	out := map[string]any{
		"meta": map[string]any{
			"context_id":   formatUint(b.ContextID),
			"head_turn_id": formatUint(b.HeadTurnID),
			"head_depth":   b.HeadDepth,
		},
		"turns": turns,
	}
	if b.HasMore {
		out["next_before_turn_id"] = formatUint(b.NextBeforeTurnID)
	}
	return out
}

func turnViewJSON(v store.TurnView) map[string]any {
	out := map[string]any{
		"turn_id":              formatUint(v.Turn.TurnID),
		"parent_turn_id":       formatUint(v.Turn.ParentTurnID),
		"depth":                v.Turn.Depth,
		"content_hash":         hex.EncodeToString(v.Turn.ContentHash[:]),
		"declared_type_id":     v.Turn.DeclaredTypeID,
		"declared_type_version": v.Turn.DeclaredTypeVersion,
		"compression":          v.Turn.Compression,
		"created_at_ms":        v.Turn.CreatedAtMS,
	}
	if v.Raw != nil {
		out["raw"] = v.Raw
	}
	if v.Typed != nil {
		out["typed"] = v.Typed
	}
	if v.TypedUnknown != nil {
		out["typed_unknown"] = v.TypedUnknown
	}
	if v.TypedUnavailable {
		out["typed_unavailable"] = true
		out["typed_error"] = v.TypedError.Error()
	}
	return out
}

func (s *Server) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	hashHex := r.PathValue("hash")
	raw, err := hex.DecodeString(hashHex)
	if err != nil || len(raw) != 32 {
		writeErrorMsg(w, http.StatusBadRequest, "hash must be 64 hex characters")
		return
	}
	var h blob.Hash
	copy(h[:], raw)
	data, err := s.store.Blobs().Get(h)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handlePublishBundle(w http.ResponseWriter, r *http.Request) {
	bundleID := r.PathValue("id")
	var bundle registry.Bundle
	if !decodeJSONBody(w, r, &bundle) {
		return
	}
	report, err := s.store.Registry().PublishBundle(bundleID, bundle)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (s *Server) handleGetBundle(w http.ResponseWriter, r *http.Request) {
	bundleID := r.PathValue("id")
	b, ok := s.store.Registry().GetBundle(bundleID)
	if !ok {
		writeErrorMsg(w, http.StatusNotFound, "bundle not found")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleGetDescriptor(w http.ResponseWriter, r *http.Request) {
	typeID := r.PathValue("type_id")
	version, ok := parsePathUint32(w, r.PathValue("version"), "version")
	if !ok {
		return
	}
	desc, ok := s.store.Registry().LookupDescriptor(typeID, version)
	if !ok {
		writeErrorMsg(w, http.StatusNotFound, "descriptor not found")
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

// --- request/response helpers ---

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	defer r.Body.Close()
	if err := dec.Decode(v); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// decodeJSONBodyAllowEmpty tolerates an empty body (create_context with
// no options), leaving v at its zero value.
func decodeJSONBodyAllowEmpty(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		writeErrorMsg(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func parsePathUint(w http.ResponseWriter, s, field string) (uint64, bool) {
	return parseRequiredUint(w, s, field)
}

func parsePathUint32(w http.ResponseWriter, s, field string) (uint32, bool) {
	n, ok := parseRequiredUint(w, s, field)
	if !ok {
		return 0, false
	}
	return uint32(n), true
}

func parseRequiredUint(w http.ResponseWriter, s, field string) (uint64, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, field+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func parseOptionalUint(w http.ResponseWriter, s, field string) (uint64, bool) {
	if s == "" {
		return 0, true
	}
	return parseRequiredUint(w, s, field)
}

func parseOptionalUint32(w http.ResponseWriter, s, field string) (uint32, bool) {
	if s == "" {
		return 0, true
	}
	n, ok := parseRequiredUint(w, s, field)
	if !ok {
		return 0, false
	}
	return uint32(n), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMsg(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// writeError maps a core error onto an HTTP status via cxerr.Kind,
// per spec §7's propagation column ("surfaced to caller").
func writeError(w http.ResponseWriter, err error) {
	kind := cxerr.Kind(err)
	status := http.StatusInternalServerError
	switch kind {
	case "NotFound", "ContextNotFound", "ParentNotFound", "DescriptorMissing":
		status = http.StatusNotFound
	case "ParentMismatch", "DescriptorConflict", "FieldTypeMismatch", "Conflict":
		status = http.StatusConflict
	case "Corrupt":
		status = http.StatusUnprocessableEntity
	case "Io":
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]any{"error": err.Error(), "kind": kind})
}
