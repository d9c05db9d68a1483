// Package httpapi exposes the engine over HTTP. Handlers decode and
// translate; every decision belongs to the service layer. The verified
// Principal is handed to handlers as an argument, never stuffed into the
// request context.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"raankha/backoffice/internal/domain"
	"raankha/backoffice/internal/service"
	"raankha/backoffice/internal/xid"
)

type API struct {
	service       *service.Service
	verifier      *TokenVerifier
	allowedOrigin string
	backendKind   string
}

func New(svc *service.Service, verifier *TokenVerifier, allowedOrigin string, backendKind string) *API {
	if backendKind == "" {
		backendKind = "unknown"
	}
	return &API{
		service:       svc,
		verifier:      verifier,
		allowedOrigin: allowedOrigin,
		backendKind:   backendKind,
	}
}

// authedHandler is a handler that runs after token verification, with the
// caller's identity as an explicit argument.
type authedHandler func(http.ResponseWriter, *http.Request, domain.Principal)

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)

	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales, domain.RoleEmployee, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/sales/", a.requireAuth(a.handleSaleActions, domain.RoleEmployee, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/credit/summary", a.requireAuth(a.handleCreditSummary, domain.RoleEmployee, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/credit/summary/batch", a.requireAuth(a.handleCreditSummaryBatch, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/employees", a.requireAuth(a.handleEmployees, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/stock", a.requireAuth(a.handleStock, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/stock/movements", a.requireAuth(a.handleStockMovements, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/stock/adjust", a.requireAuth(a.handleStockAdjust, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next authedHandler, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		principal, err := a.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(principal.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r, principal)
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"backend": a.backendKind,
		"at":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request, principal domain.Principal) {
	switch r.Method {
	case http.MethodPost:
		var req domain.SaleCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sale, err := a.service.CreateSale(r.Context(), principal, req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
	case http.MethodGet:
		q, err := parseSaleQuery(r)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		sales, err := a.service.ListSales(r.Context(), principal, q)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request, principal domain.Principal) {
	prefix := "/api/v1/sales/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("sale id required"))
		return
	}

	if strings.HasSuffix(tail, "/settle") {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		saleID := strings.Trim(strings.TrimSuffix(tail, "/settle"), "/")
		if saleID == "" {
			writeError(w, http.StatusBadRequest, errors.New("sale id required"))
			return
		}
		var req domain.SettleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sale, err := a.service.SettleSale(r.Context(), principal, saleID, req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
		return
	}

	if strings.Contains(tail, "/") {
		writeError(w, http.StatusBadRequest, errors.New("unknown sale action"))
		return
	}
	saleID := tail

	switch r.Method {
	case http.MethodGet:
		sale, err := a.service.GetSale(r.Context(), principal, saleID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
	case http.MethodPatch:
		var req domain.SaleUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sale, err := a.service.UpdateSale(r.Context(), principal, saleID, req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
	case http.MethodDelete:
		if !principal.IsAdmin() {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}
		if !a.verifier.VerifyAdminPIN(r.Header.Get("X-Admin-Pin")) {
			writeError(w, http.StatusForbidden, errors.New("invalid admin pin"))
			return
		}
		if err := a.service.DeleteSale(r.Context(), principal, saleID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCreditSummary(w http.ResponseWriter, r *http.Request, principal domain.Principal) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	employeeID := strings.TrimSpace(r.URL.Query().Get("employee_id"))
	if employeeID == "" {
		employeeID = principal.ID
	}

	summary, err := a.service.CreditSummary(r.Context(), principal, employeeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

func (a *API) handleCreditSummaryBatch(w http.ResponseWriter, r *http.Request, principal domain.Principal) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CreditSummaryBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	summaries, err := a.service.CreditSummaryBatch(r.Context(), principal, req.EmployeeIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": summaries})
}

func (a *API) handleEmployees(w http.ResponseWriter, r *http.Request, principal domain.Principal) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	employees, err := a.service.ListEmployees(r.Context(), principal)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"employees": employees})
}

func (a *API) handleStock(w http.ResponseWriter, r *http.Request, principal domain.Principal) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	records, err := a.service.ListStock(r.Context(), principal, r.URL.Query()["product_id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock": records})
}

func (a *API) handleStockMovements(w http.ResponseWriter, r *http.Request, principal domain.Principal) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	productID := strings.TrimSpace(r.URL.Query().Get("product_id"))
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 200)

	movements, err := a.service.ListStockMovements(r.Context(), principal, productID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (a *API) handleStockAdjust(w http.ResponseWriter, r *http.Request, principal domain.Principal) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.verifier.VerifyAdminPIN(r.Header.Get("X-Admin-Pin")) {
		writeError(w, http.StatusForbidden, errors.New("invalid admin pin"))
		return
	}

	var req domain.StockAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	record, err := a.service.AdjustStock(r.Context(), principal, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock": record})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request, principal domain.Principal) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	values := r.URL.Query()
	var from time.Time
	if raw := strings.TrimSpace(values.Get("from")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeDomainError(w, &domain.ValidationError{Field: "from", Message: "must be formatted YYYY-MM-DD"})
			return
		}
		from = parsed
	}
	// The upper bound is half-open; an explicit to=YYYY-MM-DD includes that
	// whole day.
	to := time.Now().UTC().Add(time.Minute)
	if raw := strings.TrimSpace(values.Get("to")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeDomainError(w, &domain.ValidationError{Field: "to", Message: "must be formatted YYYY-MM-DD"})
			return
		}
		to = parsed.AddDate(0, 0, 1)
	}
	limit := parsePositiveLimit(values.Get("limit"), 100, 200)

	logs, err := a.service.ListAuditLogs(r.Context(), principal, from, to, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// parseSaleQuery accepts only the supported filter dimensions; an unknown
// parameter is rejected rather than silently ignored.
func parseSaleQuery(r *http.Request) (domain.SaleQuery, error) {
	values := r.URL.Query()
	for key := range values {
		switch key {
		case "employee_id", "type", "settled", "from", "to", "limit":
		default:
			return domain.SaleQuery{}, &domain.ValidationError{Field: key, Message: "unsupported query parameter"}
		}
	}

	q := domain.SaleQuery{
		EmployeeID: strings.TrimSpace(values.Get("employee_id")),
		Type:       strings.TrimSpace(values.Get("type")),
	}
	if raw := strings.TrimSpace(values.Get("settled")); raw != "" {
		settled, err := strconv.ParseBool(raw)
		if err != nil {
			return domain.SaleQuery{}, &domain.ValidationError{Field: "settled", Message: "must be true or false"}
		}
		q.Settled = &settled
	}
	if raw := strings.TrimSpace(values.Get("from")); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return domain.SaleQuery{}, &domain.ValidationError{Field: "from", Message: "must be formatted YYYY-MM-DD"}
		}
		q.From = &from
	}
	if raw := strings.TrimSpace(values.Get("to")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return domain.SaleQuery{}, &domain.ValidationError{Field: "to", Message: "must be formatted YYYY-MM-DD"}
		}
		to := parsed.AddDate(0, 0, 1)
		q.To = &to
	}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return domain.SaleQuery{}, &domain.ValidationError{Field: "limit", Message: "must be a positive integer"}
		}
		q.Limit = limit
	}
	return q, nil
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = xid.New("req")
		}
		w.Header().Set("X-Request-ID", requestID)

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Pin, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[httpapi] %s %s %s %s", requestID, r.Method, r.URL.Path, time.Since(startedAt))
	})
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses. Typed
// errors carry their detail fields into the body so clients can render the
// exact failure.
func writeDomainError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	var stockErr *domain.InsufficientStockError
	var priceErr *domain.PriceNotConfiguredError

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": validationErr.Error(),
			"field": validationErr.Field,
		})
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":        stockErr.Error(),
			"product_name": stockErr.ProductName,
			"available":    stockErr.Available,
			"requested":    stockErr.Requested,
		})
	case errors.As(err, &priceErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":        priceErr.Error(),
			"product_name": priceErr.ProductName,
			"tier":         priceErr.Tier,
		})
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrInsufficientStock):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrPriceNotConfigured):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 4xx messages are user-facing; 5xx bodies stay generic and the detail
	// goes to the log instead.
	msg := err.Error()
	if status >= 500 {
		log.Printf("[httpapi] internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
