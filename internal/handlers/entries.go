package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dbcache/internal/cache"
	appErrors "github.com/charlesng35/dbcache/pkg/errors"
	"github.com/charlesng35/dbcache/pkg/response"
)

const maxBatchItems = 1000

// Recorder queues ids of entries that were read so their freshness can be refreshed later.
type Recorder interface {
	Record(ids ...int64)
}

// EntryHandler exposes cache entry operations over HTTP.
type EntryHandler struct {
	store     cache.Store
	recorder  Recorder
	batchSize int
}

// NewEntryHandler constructs an EntryHandler. recorder may be nil when recency tracking is off.
func NewEntryHandler(store cache.Store, recorder Recorder, batchSize int) (*EntryHandler, error) {
	if store == nil {
		return nil, errors.New("entry handler: cache store is required")
	}
	if batchSize <= 0 {
		batchSize = cache.DefaultBatchSize
	}
	return &EntryHandler{store: store, recorder: recorder, batchSize: batchSize}, nil
}

// Values are opaque bytes and travel base64-encoded in JSON.
type entryPayload struct {
	ID    int64  `json:"id"`
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

type setEntryRequest struct {
	Value     []byte     `json:"value" validate:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type incrementRequest struct {
	Amount    *int64     `json:"amount"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type batchGetRequest struct {
	Keys []string `json:"keys" validate:"required,min=1,max=1000,dive,cachekey"`
}

type batchSetItem struct {
	Key   string `json:"key" validate:"cachekey"`
	Value []byte `json:"value"`
}

type batchSetRequest struct {
	Entries   []batchSetItem `json:"entries" validate:"required,min=1,max=1000,dive"`
	ExpiresAt *time.Time     `json:"expires_at"`
}

type batchTouchRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,max=1000,dive,gt=0"`
}

type deleteMatchedRequest struct {
	Matcher   string `json:"matcher" validate:"required,max=512"`
	BatchSize int    `json:"batch_size" validate:"omitempty,gte=1,lte=10000"`
}

// Get returns the entry stored under key.
func (h *EntryHandler) Get(c *gin.Context) {
	key := entryKey(c)

	record, found, err := h.store.Get(requestContext(c), key)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	if !found {
		response.Error(c, appErrors.ErrEntryNotFound)
		return
	}

	h.record(record.ID)
	response.Success(c, http.StatusOK, entryPayload{ID: record.ID, Key: key, Value: record.Value})
}

// Put stores a value under key, replacing any existing value.
func (h *EntryHandler) Put(c *gin.Context) {
	var req setEntryRequest
	if !bindAndValidate(c, &req) {
		return
	}

	key := entryKey(c)
	if err := h.store.Set(requestContext(c), key, req.Value, expiryOptions(req.ExpiresAt)...); err != nil {
		writeStoreError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"key": key})
}

// Delete removes key and reports whether it existed.
func (h *EntryHandler) Delete(c *gin.Context) {
	deleted, err := h.store.Delete(requestContext(c), entryKey(c))
	if err != nil {
		writeStoreError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": deleted})
}

// Increment adds amount (default 1) to the counter at key and returns the new value.
func (h *EntryHandler) Increment(c *gin.Context) {
	var req incrementRequest
	if c.Request.ContentLength != 0 && !bindAndValidate(c, &req) {
		return
	}

	amount := int64(1)
	if req.Amount != nil {
		amount = *req.Amount
	}

	key := entryKey(c)
	value, err := h.store.Increment(requestContext(c), key, amount, expiryOptions(req.ExpiresAt)...)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"key": key, "value": value})
}

// BatchGet returns the subset of the requested keys that exist.
func (h *EntryHandler) BatchGet(c *gin.Context) {
	var req batchGetRequest
	if !bindAndValidate(c, &req) {
		return
	}

	records, err := h.store.GetAll(requestContext(c), req.Keys)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	entries := make(map[string]entryPayload, len(records))
	ids := make([]int64, 0, len(records))
	for key, record := range records {
		entries[key] = entryPayload{ID: record.ID, Key: key, Value: record.Value}
		ids = append(ids, record.ID)
	}
	h.record(ids...)

	response.Success(c, http.StatusOK, gin.H{"entries": entries})
}

// BatchSet stores every entry, applying one optional expiry to all of them.
func (h *EntryHandler) BatchSet(c *gin.Context) {
	var req batchSetRequest
	if !bindAndValidate(c, &req) {
		return
	}

	payloads := make([]cache.Payload, len(req.Entries))
	for i, item := range req.Entries {
		payloads[i] = cache.Payload{Key: item.Key, Value: item.Value}
	}

	if err := h.store.SetAll(requestContext(c), payloads, expiryOptions(req.ExpiresAt)...); err != nil {
		writeStoreError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"count": len(payloads)})
}

// BatchTouch refreshes the freshness timestamp of the given entry ids immediately.
func (h *EntryHandler) BatchTouch(c *gin.Context) {
	var req batchTouchRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.store.TouchByIDs(requestContext(c), req.IDs); err != nil {
		writeStoreError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"touched": len(req.IDs)})
}

// DeleteMatched removes every entry whose key matches the LIKE pattern.
func (h *EntryHandler) DeleteMatched(c *gin.Context) {
	var req deleteMatchedRequest
	if !bindAndValidate(c, &req) {
		return
	}

	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = h.batchSize
	}

	deleted, err := h.store.DeleteMatched(requestContext(c), req.Matcher, batchSize)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": deleted})
}

// entryKey returns the *key catch-all parameter, which may itself contain slashes.
func entryKey(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}

func (h *EntryHandler) record(ids ...int64) {
	if h.recorder == nil || len(ids) == 0 {
		return
	}
	h.recorder.Record(ids...)
}

func expiryOptions(expiresAt *time.Time) []cache.WriteOption {
	if expiresAt == nil {
		return nil
	}
	return []cache.WriteOption{cache.ExpiresAt(*expiresAt)}
}

func writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, cache.ErrInvalidKey):
		response.Error(c, appErrors.ErrInvalidKey)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		_ = c.Error(err)
		response.Error(c, appErrors.New("REQUEST_CANCELLED", "Request cancelled before completion", http.StatusServiceUnavailable).WithInternal(err))
	case errors.Is(err, cache.ErrStorage):
		_ = c.Error(err)
		response.Error(c, appErrors.ErrStorage.WithInternal(err))
	default:
		_ = c.Error(err)
		response.Error(c, err)
	}
}
