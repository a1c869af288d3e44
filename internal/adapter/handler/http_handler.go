package handler

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-sync/internal/core/domain"
	"github.com/rl1809/fulfillment-sync/internal/core/service"
	"github.com/rl1809/fulfillment-sync/internal/logger"
	"github.com/rl1809/fulfillment-sync/internal/port"
)

const maxBodyBytes = 1 << 20

type HTTPHandler struct {
	orderService *service.OrderService
	token        string
	retention    time.Duration
	logger       *zap.Logger
}

func NewHTTPHandler(orderService *service.OrderService, token string, retention time.Duration, log *zap.Logger) *HTTPHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPHandler{
		orderService: orderService,
		token:        token,
		retention:    retention,
		logger:       log,
	}
}

// Routes returns the HTTP surface with request ids and panic recovery applied.
func (h *HTTPHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/exec", h.Exec)
	mux.HandleFunc("/api/sync", h.TriggerSync)
	mux.HandleFunc("/health", h.HealthCheck)
	return h.withRequestID(h.recoverer(mux))
}

// flexString accepts a JSON string or number. Chat and message ids arrive as either.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string { return string(f) }

type OrderPayload struct {
	SKU        flexString `json:"SKU"`
	QTY        flexString `json:"QTY"`
	SalesOrder flexString `json:"SALES ORDER"`
	Note       flexString `json:"NOTE"`
}

type CallbackQuery struct {
	ID      string `json:"id"`
	Data    string `json:"data"`
	Message *struct {
		MessageID int64 `json:"message_id"`
		Chat      struct {
			ID flexString `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// ExecRequest is the union of every action payload accepted on /exec.
type ExecRequest struct {
	Action string `json:"action"`
	Token  string `json:"token"`

	Orders  []OrderPayload `json:"orders"`
	Segment int            `json:"segment"`

	OrderID   flexString `json:"orderId"`
	NewStatus string     `json:"newStatus"`
	RowNumber flexString `json:"rowNumber"`
	Status    string     `json:"status"`
	MessageID flexString `json:"messageId"`
	ChatID    flexString `json:"chatId"`

	StartRow int      `json:"startRow"`
	NumRows  int      `json:"numRows"`
	Row      int      `json:"row"`
	Column   int      `json:"column"`
	Values   []string `json:"values"`
	Days     int      `json:"days"`

	CallbackQuery *CallbackQuery `json:"callback_query"`
}

type response map[string]any

// Exec is the single action entry point. Chat callbacks are accepted without the token.
func (h *HTTPHandler) Exec(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	log := logger.FromContext(r.Context(), h.logger)

	var req ExecRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.CallbackQuery != nil {
		h.callback(w, r, req.CallbackQuery)
		return
	}

	token := req.Token
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if !h.authorized(token) {
		log.Warn("rejected request with bad token", zap.String("action", req.Action))
		h.fail(w, r, service.ErrUnauthorized)
		return
	}

	log.Debug("exec", zap.String("action", req.Action))
	switch req.Action {
	case "", "orders", "insertOrders":
		h.insertOrders(w, r, req)
	case "updateOrderStatus":
		h.updateOrderStatus(w, r, req)
	case "updateStatus":
		h.updateStatus(w, r, req)
	case "storeMessageId":
		h.storeMessageID(w, r, req)
	case "notifyShipped":
		h.notifyShipped(w, r, req)
	case "markPreparing":
		h.markPreparing(w, r, req)
	case "manualEdit":
		h.manualEdit(w, r, req)
	case "stats":
		h.stats(w, r)
	case "sortTable", "deleteEmptyRows", "consolidate", "refreshLocations":
		h.segmentAction(w, r, req)
	case "cleanupBindings":
		h.cleanupBindings(w, r, req)
	default:
		writeError(w, http.StatusBadRequest, "unknown action: "+req.Action)
	}
}

func (h *HTTPHandler) authorized(token string) bool {
	token = strings.TrimSpace(token)
	if h.token == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) == 1
}

func segmentOf(n int) (domain.Segment, error) {
	switch n {
	case 0, 1:
		return domain.SegmentMarketplace, nil
	case 2:
		return domain.SegmentDirect, nil
	}
	return 0, fmt.Errorf("%w: %d", service.ErrInvalidSegment, n)
}

func (h *HTTPHandler) insertOrders(w http.ResponseWriter, r *http.Request, req ExecRequest) {
	seg, err := segmentOf(req.Segment)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items := make([]service.IncomingItem, 0, len(req.Orders))
	for _, o := range req.Orders {
		items = append(items, service.IncomingItem{
			SKU:      o.SKU.String(),
			Quantity: service.ParseQuantity(o.QTY.String()),
			OrderID:  o.SalesOrder.String(),
			Note:     o.Note.String(),
		})
	}
	result, err := h.orderService.InsertOrders(r.Context(), seg, items)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{
		"status":  "success",
		"added":   result.Added,
		"details": result.Details,
	})
}

func (h *HTTPHandler) updateOrderStatus(w http.ResponseWriter, r *http.Request, req ExecRequest) {
	result, err := h.orderService.UpdateOrderStatus(r.Context(), req.OrderID.String(), domain.OrderStatus(req.NewStatus))
	if err != nil {
		h.fail(w, r, err, transitionFields(result))
		return
	}
	body := transitionFields(result)
	body["status"] = "success"
	writeJSON(w, http.StatusOK, body)
}

func (h *HTTPHandler) updateStatus(w http.ResponseWriter, r *http.Request, req ExecRequest) {
	row, err := strconv.Atoi(req.RowNumber.String())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid row number")
		return
	}
	result, err := h.orderService.UpdateRowStatus(r.Context(), row, domain.OrderStatus(req.Status))
	if err != nil {
		h.fail(w, r, err, transitionFields(result))
		return
	}
	body := transitionFields(result)
	body["status"] = "success"
	body["row"] = row
	writeJSON(w, http.StatusOK, body)
}

func transitionFields(r service.TransitionResult) response {
	return response{
		"found":         r.Found,
		"count":         r.Count,
		"currentStatus": r.CurrentStatus,
	}
}

func (h *HTTPHandler) storeMessageID(w http.ResponseWriter, r *http.Request, req ExecRequest) {
	messageID, err := strconv.ParseInt(req.MessageID.String(), 10, 64)
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: message id %q", service.ErrInvalidBinding, req.MessageID))
		return
	}
	if err := h.orderService.StoreMessageID(r.Context(), req.OrderID.String(), req.ChatID.String(), messageID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{"status": "success", "action": "stored_message_id"})
}

func (h *HTTPHandler) notifyShipped(w http.ResponseWriter, r *http.Request, req ExecRequest) {
	result, err := h.orderService.NotifyShipped(r.Context(), req.OrderID.String())
	if errors.Is(err, port.ErrChatRejected) {
		writeJSON(w, http.StatusBadGateway, response{"status": "error", "telegram_error": err.Error()})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if result.Skipped {
		writeJSON(w, http.StatusOK, response{"status": "skipped", "reason": result.Reason})
		return
	}
	writeJSON(w, http.StatusOK, response{"status": "success", "action": "updated_telegram"})
}

func (h *HTTPHandler) markPreparing(w http.ResponseWriter, r *http.Request, req ExecRequest) {
	if req.NumRows <= 0 {
		writeError(w, http.StatusBadRequest, "numRows must be positive")
		return
	}
	result, err := h.orderService.MarkPreparing(r.Context(), req.StartRow, req.NumRows)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{
		"status":  "success",
		"orders":  result.Orders,
		"updated": result.Updated,
		"locked":  result.Locked,
		"failed":  result.Failed,
	})
}

func (h *HTTPHandler) manualEdit(w http.ResponseWriter, r *http.Request, req ExecRequest) {
	result, err := h.orderService.ApplyManualEdit(r.Context(), service.ManualEdit{
		Row:    req.Row,
		Column: req.Column,
		Values: req.Values,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{"status": "success", "rows": result.Rows, "details": result.Details})
}

func (h *HTTPHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orderService.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{"status": "success", "stats": stats})
}

func (h *HTTPHandler) segmentAction(w http.ResponseWriter, r *http.Request, req ExecRequest) {
	seg, err := segmentOf(req.Segment)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx := r.Context()
	body := response{"status": "success", "segment": int(seg)}
	switch req.Action {
	case "sortTable":
		var n int
		n, err = h.orderService.SortSegment(ctx, seg)
		body["rows"] = n
	case "deleteEmptyRows":
		var n int
		n, err = h.orderService.DeleteEmptyRows(ctx, seg)
		body["deleted"] = n
	case "refreshLocations":
		var n int
		n, err = h.orderService.RefreshLocations(ctx, seg)
		body["updated"] = n
	case "consolidate":
		var before, after int
		before, after, err = h.orderService.Consolidate(ctx, seg)
		body["before"] = before
		body["after"] = after
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *HTTPHandler) cleanupBindings(w http.ResponseWriter, r *http.Request, req ExecRequest) {
	retention := h.retention
	if req.Days > 0 {
		retention = time.Duration(req.Days) * 24 * time.Hour
	}
	n, err := h.orderService.CleanupBindings(r.Context(), retention)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{"status": "success", "deleted": n})
}

// callback always answers 200 so the chat platform does not redeliver; the outcome is in the body.
func (h *HTTPHandler) callback(w http.ResponseWriter, r *http.Request, q *CallbackQuery) {
	cb := service.Callback{ID: q.ID, Data: q.Data}
	if q.Message != nil {
		cb.ChatID = q.Message.Chat.ID.String()
		cb.MessageID = q.Message.MessageID
	}
	result, err := h.orderService.HandleCallback(r.Context(), cb)
	if err != nil && !errors.Is(err, service.ErrBusy) {
		h.fail(w, r, err)
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	writeJSON(w, http.StatusOK, response{
		"status":    status,
		"toast":     result.Toast,
		"duplicate": result.Duplicate,
	})
}

// TriggerSync asks the external workflow to pull new orders.
func (h *HTTPHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if !h.authorized(token) {
		h.fail(w, r, service.ErrUnauthorized)
		return
	}
	result, err := h.orderService.TriggerSync(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{"status": "success", "message": result.Message, "added": result.Added})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps an error class to an HTTP status and the message shown to callers.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, service.ErrBusy):
		return http.StatusServiceUnavailable, "Server Busy"
	case errors.Is(err, service.ErrBoundaryNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrInvalidOrderID),
		errors.Is(err, service.ErrMissingSKU),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrRowOutOfRange),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrIllegalTransition),
		errors.Is(err, service.ErrInvalidBinding),
		errors.Is(err, service.ErrInvalidColumn),
		errors.Is(err, service.ErrInvalidSegment):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, port.ErrWorkflowNotFound),
		errors.Is(err, port.ErrWorkflowUnreachable),
		errors.Is(err, port.ErrChatRejected):
		return http.StatusBadGateway, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error, extra ...response) {
	status, message := statusFor(err)
	log := logger.FromContext(r.Context(), h.logger)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		log.Error("request failed", zap.Error(err))
	} else {
		log.Info("request rejected", zap.Int("code", status), zap.Error(err))
	}

	body := response{}
	for _, e := range extra {
		for k, v := range e {
			body[k] = v
		}
	}
	body["status"] = "error"
	body["message"] = message
	writeJSON(w, status, body)
}

func (h *HTTPHandler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.FromContext(r.Context(), h.logger).Error("panic in handler",
					zap.Any("panic", rec), zap.Stack("stack"))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *HTTPHandler) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		log := h.logger.With(zap.String("request_id", id), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), log)))
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, response{"status": "error", "message": message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
