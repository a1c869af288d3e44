package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-sync/internal/adapter/storage"
	"github.com/rl1809/fulfillment-sync/internal/core/domain"
	"github.com/rl1809/fulfillment-sync/internal/core/service"
	"github.com/rl1809/fulfillment-sync/internal/port"
)

const testToken = "s3cret"

type stubChat struct {
	mu      sync.Mutex
	edits   []port.EditMessageRequest
	answers []string
}

func (c *stubChat) EditMessage(ctx context.Context, req port.EditMessageRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edits = append(c.edits, req)
	return nil
}

func (c *stubChat) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers = append(c.answers, text)
	return nil
}

type stubWorkflow struct {
	result port.SyncResult
	err    error
}

func (w stubWorkflow) Trigger(ctx context.Context) (port.SyncResult, error) {
	return w.result, w.err
}

type harness struct {
	store    *storage.MemorySheet
	locker   *storage.LocalLocker
	bindings *storage.MemoryBindingRepository
	chat     *stubChat
	handler  http.Handler
}

func newHarness(t *testing.T, workflow port.WorkflowTrigger, seg1 ...[]string) *harness {
	t.Helper()
	header := []string{"SKU", "QTY", "LOC", "ORDER ID", "NOTE", "STATUS", "HAND"}
	rows := [][]string{{"All orders"}, {}, header}
	rows = append(rows, seg1...)
	rows = append(rows, []string{}, []string{}, []string{}, []string{"DIRECT"}, header, []string{}, []string{}, []string{})

	h := &harness{
		store:    storage.NewMemorySheet(rows),
		locker:   storage.NewLocalLocker(),
		bindings: storage.NewMemoryBindingRepository(),
		chat:     &stubChat{},
	}
	inv := service.NewInventoryResolver(storage.NewMemorySheet([][]string{
		{"sku", "C:Model Year", "Quantity", "Quantity Sold"},
		{"WIDGET-A", "L-01", "10", "1"},
	}), service.DefaultInventoryHeaders(), 5, zap.NewNop())

	svc := service.NewOrderService(service.Dependencies{
		Ledger:       service.NewLedger(h.store, inv, domain.DefaultLayout(), zap.NewNop()),
		Gate:         service.NewGate(h.locker, zap.NewNop()),
		Synchronizer: service.NewSynchronizer(h.bindings, h.chat, inv, 20, time.UTC, zap.NewNop()),
		Bindings:     h.bindings,
		Chat:         h.chat,
		Workflow:     workflow,
		Idempotency:  storage.NewMemoryIdempotency(),
		Timeouts:     service.Timeouts{Batch: 50 * time.Millisecond, Bulk: 50 * time.Millisecond, ManualEdit: 50 * time.Millisecond},
	})
	h.handler = NewHTTPHandler(svc, testToken, 30*24*time.Hour, zap.NewNop()).Routes()
	return h
}

func (h *harness) do(t *testing.T, method, target string, body any, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func (h *harness) exec(t *testing.T, body map[string]any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	if _, ok := body["token"]; !ok {
		body["token"] = testToken
	}
	return h.do(t, http.MethodPost, "/exec", body)
}

func pending(orderID string) []string {
	return []string{"WIDGET-A", "1", "L-01", orderID, "", "PENDING", "8"}
}

func TestExec_RejectsBadToken(t *testing.T) {
	h := newHarness(t, stubWorkflow{})

	for _, token := range []string{"wrong", " "} {
		rec, body := h.exec(t, map[string]any{"action": "stats", "token": token})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Unauthorized", body["message"])
	}

	rec, _ := h.do(t, http.MethodPost, "/exec?token="+testToken, map[string]any{"action": "stats"})
	assert.Equal(t, http.StatusOK, rec.Code, "token may come from the query string")
}

func TestExec_MethodAndBody(t *testing.T) {
	h := newHarness(t, stubWorkflow{})

	rec, _ := h.do(t, http.MethodGet, "/exec", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/exec", bytes.NewBufferString("{not json"))
	out := httptest.NewRecorder()
	h.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)

	rec, body := h.exec(t, map[string]any{"action": "launchRockets"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["message"], "unknown action")
}

func TestExec_RequestID(t *testing.T) {
	h := newHarness(t, stubWorkflow{})

	rec, _ := h.do(t, http.MethodGet, "/health", nil, "X-Request-ID", "req-7")
	assert.Equal(t, "req-7", rec.Header().Get("X-Request-ID"))

	rec, _ = h.do(t, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestExec_InsertOrders(t *testing.T) {
	h := newHarness(t, stubWorkflow{})

	rec, body := h.exec(t, map[string]any{
		"orders": []map[string]any{
			{"SKU": "WIDGET-A", "QTY": 2, "SALES ORDER": 1001},
			{"SKU": "WIDGET-A", "QTY": "2", "SALES ORDER": "1001"},
			{"SKU": "", "SALES ORDER": "1002"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(1), body["added"])
	assert.Len(t, body["details"], 3)

	row, err := h.store.ReadRows(context.Background(), 4, 1)
	require.NoError(t, err)
	assert.Equal(t, "WIDGET-A", row[0][0])
	assert.Equal(t, "1001", row[0][3])
	assert.Equal(t, "7", row[0][6])
}

func TestExec_InsertOrders_InvalidSegment(t *testing.T) {
	h := newHarness(t, stubWorkflow{})

	rec, _ := h.exec(t, map[string]any{"action": "insertOrders", "segment": 3, "orders": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExec_Busy(t *testing.T) {
	h := newHarness(t, stubWorkflow{})
	unlock, err := h.locker.Lock(context.Background())
	require.NoError(t, err)
	defer unlock()

	rec, body := h.exec(t, map[string]any{"orders": []map[string]any{{"SKU": "WIDGET-A", "SALES ORDER": "1001"}}})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Server Busy", body["message"])
}

func TestExec_UpdateOrderStatus(t *testing.T) {
	h := newHarness(t, stubWorkflow{}, pending("SO-1"))

	rec, body := h.exec(t, map[string]any{"action": "updateOrderStatus", "orderId": "SO-1", "newStatus": "PREPARING"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["found"])
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, "PREPARING", body["currentStatus"])

	rec, body = h.exec(t, map[string]any{"action": "updateOrderStatus", "orderId": "SO-404", "newStatus": "PREPARING"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["found"])
	assert.Equal(t, float64(0), body["count"])
	assert.Equal(t, "success", body["status"])

	rec, _ = h.exec(t, map[string]any{"action": "updateOrderStatus", "orderId": "SO-1", "newStatus": "LOST"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExec_UpdateStatus(t *testing.T) {
	h := newHarness(t, stubWorkflow{}, pending("SO-1"))

	rec, body := h.exec(t, map[string]any{"action": "updateStatus", "rowNumber": "4", "status": "PREPARING"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), body["row"])

	rec, body = h.exec(t, map[string]any{"action": "updateStatus", "rowNumber": "four", "status": "SHIPPED"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid row number", body["message"])
}

func TestExec_Callback(t *testing.T) {
	h := newHarness(t, stubWorkflow{}, pending("SO-1"))

	callback := func(id, data string) map[string]any {
		return map[string]any{"callback_query": map[string]any{
			"id":   id,
			"data": data,
			"message": map[string]any{
				"message_id": 77,
				"chat":       map[string]any{"id": -100123},
			},
		}}
	}

	rec, body := h.do(t, http.MethodPost, "/exec", callback("cb-1", "PREP_SO-1"))
	require.Equal(t, http.StatusOK, rec.Code, "callbacks need no token")
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, service.ToastPreparing, body["toast"])

	rec, body = h.do(t, http.MethodPost, "/exec", callback("cb-1", "PREP_SO-1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["duplicate"])

	rec, body = h.do(t, http.MethodPost, "/exec", callback("cb-2", "NOPE"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.ToastUnknownAction, body["toast"])

	h.chat.mu.Lock()
	defer h.chat.mu.Unlock()
	require.Len(t, h.chat.edits, 1)
	assert.Equal(t, "-100123", h.chat.edits[0].ChatID)
	assert.Equal(t, int64(77), h.chat.edits[0].MessageID)
}

func TestExec_CallbackBusyStillOK(t *testing.T) {
	h := newHarness(t, stubWorkflow{}, pending("SO-1"))
	unlock, err := h.locker.Lock(context.Background())
	require.NoError(t, err)
	defer unlock()

	rec, body := h.do(t, http.MethodPost, "/exec", map[string]any{"callback_query": map[string]any{"id": "cb-9", "data": "PEND_SO-1"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, service.ToastBusy, body["toast"])
}

func TestExec_StoreMessageIDAndNotify(t *testing.T) {
	h := newHarness(t, stubWorkflow{}, pending("SO-1"))

	rec, body := h.exec(t, map[string]any{"action": "notifyShipped", "orderId": "SO-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "skipped", body["status"])

	rec, body = h.exec(t, map[string]any{"action": "storeMessageId", "orderId": "SO-1", "chatId": -100, "messageId": "55"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stored_message_id", body["action"])

	rec, body = h.exec(t, map[string]any{"action": "notifyShipped", "orderId": "SO-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "updated_telegram", body["action"])

	rec, _ = h.exec(t, map[string]any{"action": "storeMessageId", "orderId": "SO-1", "chatId": "-100", "messageId": "abc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExec_MarkPreparing(t *testing.T) {
	h := newHarness(t, stubWorkflow{}, pending("SO-1"), pending("SO-2"))

	rec, _ := h.exec(t, map[string]any{"action": "markPreparing", "startRow": 4, "numRows": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := h.exec(t, map[string]any{"action": "markPreparing", "startRow": 4, "numRows": 2})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["orders"])
	assert.Equal(t, float64(2), body["updated"])
}

func TestExec_MaintenanceActions(t *testing.T) {
	h := newHarness(t, stubWorkflow{}, pending("SO-1"))

	rec, body := h.exec(t, map[string]any{"action": "stats"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["stats"].(map[string]any)["pending"])

	rec, body = h.exec(t, map[string]any{"action": "sortTable", "segment": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["segment"])

	rec, body = h.exec(t, map[string]any{"action": "consolidate", "segment": 2})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["segment"])

	rec, body = h.exec(t, map[string]any{"action": "cleanupBindings", "days": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["deleted"])
}

func TestTriggerSync(t *testing.T) {
	h := newHarness(t, stubWorkflow{result: port.SyncResult{Message: "Synced! 2 orders added.", Added: 2}})

	rec, _ := h.do(t, http.MethodPost, "/api/sync", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := h.do(t, http.MethodPost, "/api/sync", nil, "Authorization", "Bearer "+testToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["added"])

	rec, _ = h.do(t, http.MethodGet, "/api/sync", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTriggerSync_WorkflowDown(t *testing.T) {
	h := newHarness(t, stubWorkflow{err: port.ErrWorkflowUnreachable})

	rec, _ := h.do(t, http.MethodPost, "/api/sync?token="+testToken, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	h := newHarness(t, stubWorkflow{})

	rec, body := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestFlexString(t *testing.T) {
	var p OrderPayload
	require.NoError(t, json.Unmarshal([]byte(`{"SKU":" A1 ","QTY":2.5,"SALES ORDER":null}`), &p))
	assert.Equal(t, "A1", p.SKU.String())
	assert.Equal(t, "2.5", p.QTY.String())
	assert.Empty(t, p.SalesOrder.String())

	assert.Error(t, json.Unmarshal([]byte(`{"SKU":{}}`), &p))
}
