package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hidrovia/customs/internal/archive"
	"github.com/hidrovia/customs/internal/auth"
	"github.com/hidrovia/customs/internal/customs/model"
	"github.com/hidrovia/customs/internal/customs/orchestrator"
	"github.com/hidrovia/customs/internal/customs/store"
)

// TransactionRouter exposes the customs engine to the back office: execute
// and retry on the write side, transaction reporting and payload retrieval
// on the read side.
type TransactionRouter struct {
	engine       *orchestrator.Orchestrator
	transactions *store.TransactionStore
	responses    *store.ResponseStore
	audits       *store.AuditStore
	payloads     archive.Storage
	defaultEnv   model.Environment
}

func NewTransactionRouter(engine *orchestrator.Orchestrator, transactions *store.TransactionStore, responses *store.ResponseStore, audits *store.AuditStore, payloads archive.Storage, defaultEnv model.Environment) *TransactionRouter {
	if defaultEnv == "" {
		defaultEnv = model.EnvironmentTesting
	}
	return &TransactionRouter{
		engine:       engine,
		transactions: transactions,
		responses:    responses,
		audits:       audits,
		payloads:     payloads,
		defaultEnv:   defaultEnv,
	}
}

// ExecuteRequest is the wire shape of one customs operation invocation.
type ExecuteRequest struct {
	Country     model.Country         `json:"country"`
	Operation   model.OperationType   `json:"operation"`
	Environment model.Environment     `json:"environment"`
	Company     *model.CompanyProfile `json:"company"`
	Snapshot    *model.Snapshot       `json:"snapshot"`
	ActingUser  string                `json:"actingUser"`
}

// RetryBody carries the company profile needed to re-load the credential for
// a retry. The transaction itself is addressed by business id in the path.
type RetryBody struct {
	Company *model.CompanyProfile `json:"company"`
}

// HandleExecute handles POST /api/transactions requests
func (tr *TransactionRouter) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Company == nil {
		http.Error(w, "missing company profile", http.StatusBadRequest)
		return
	}
	if req.Environment == "" {
		req.Environment = tr.defaultEnv
	}
	authCtx := auth.GetAuthContext(r.Context())
	if !authCtx.MayActFor(req.Company.Code) {
		http.Error(w, fmt.Sprintf("client is not authorized for company %s", req.Company.Code), http.StatusForbidden)
		return
	}
	if req.ActingUser == "" {
		req.ActingUser = authCtx.ClientID
	}

	result := tr.engine.Execute(r.Context(), orchestrator.Request{
		Country:     req.Country,
		Operation:   req.Operation,
		Environment: req.Environment,
		Company:     req.Company,
		Snapshot:    req.Snapshot,
		ActingUser:  req.ActingUser,
	})

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

// HandleRetry handles POST /api/transactions/{businessID}/retry requests
func (tr *TransactionRouter) HandleRetry(w http.ResponseWriter, r *http.Request) {
	businessID := r.PathValue("businessID")
	if businessID == "" {
		http.Error(w, "missing businessID in path", http.StatusBadRequest)
		return
	}

	var body RetryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if body.Company == nil {
		http.Error(w, "missing company profile", http.StatusBadRequest)
		return
	}
	if !auth.GetAuthContext(r.Context()).MayActFor(body.Company.Code) {
		http.Error(w, fmt.Sprintf("client is not authorized for company %s", body.Company.Code), http.StatusForbidden)
		return
	}

	result := tr.engine.Retry(r.Context(), orchestrator.RetryRequest{
		BusinessID: businessID,
		Company:    body.Company,
	})

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

// ListResponse wraps a page of transactions with the total match count.
type ListResponse struct {
	Total        int64               `json:"total"`
	Transactions []model.Transaction `json:"transactions"`
}

// HandleList handles GET /api/transactions requests
// Optional query filters: company, country, operation, status (comma separated),
// from, to (RFC 3339), offset, limit
func (tr *TransactionRouter) HandleList(w http.ResponseWriter, r *http.Request) {
	filter := store.Filter{
		CompanyCode: r.URL.Query().Get("company"),
		Country:     model.Country(r.URL.Query().Get("country")),
		Operation:   model.OperationType(r.URL.Query().Get("operation")),
	}

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		for _, s := range strings.Split(statusStr, ",") {
			filter.Statuses = append(filter.Statuses, model.TransactionStatus(strings.TrimSpace(s)))
		}
	}

	for name, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		if raw := r.URL.Query().Get(name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid %q query parameter, must be RFC 3339", name), http.StatusBadRequest)
				return
			}
			*dst = &t
		}
	}

	for name, dst := range map[string]**int{"offset": &filter.Offset, "limit": &filter.Limit} {
		if raw := r.URL.Query().Get(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid %q query parameter, must be an integer", name), http.StatusBadRequest)
				return
			}
			*dst = &n
		}
	}

	transactions, total, err := tr.transactions.List(r.Context(), filter)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to list transactions: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ListResponse{Total: total, Transactions: transactions})
}

// DetailResponse is a transaction together with its per-attempt responses
// and audit trail.
type DetailResponse struct {
	Transaction *model.Transaction     `json:"transaction"`
	Responses   []model.ResponseRecord `json:"responses"`
	AuditTrail  []model.LogEntry       `json:"auditTrail"`
}

// HandleGet handles GET /api/transactions/{businessID} requests
func (tr *TransactionRouter) HandleGet(w http.ResponseWriter, r *http.Request) {
	businessID := r.PathValue("businessID")
	if businessID == "" {
		http.Error(w, "missing businessID in path", http.StatusBadRequest)
		return
	}

	txn, err := tr.transactions.GetByBusinessID(r.Context(), businessID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			http.Error(w, fmt.Sprintf("transaction %s not found", businessID), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("failed to get transaction: %v", err), http.StatusInternalServerError)
		return
	}

	responses, err := tr.responses.GetByTransactionID(r.Context(), txn.ID)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to get responses: %v", err), http.StatusInternalServerError)
		return
	}

	entries, err := tr.audits.GetByTransactionID(r.Context(), txn.ID)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to get audit trail: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, DetailResponse{Transaction: txn, Responses: responses, AuditTrail: entries})
}

// HandleGetDocument handles GET /api/transactions/{businessID}/documents/{name}
// requests, streaming an archived payload (request.xml or response.xml).
func (tr *TransactionRouter) HandleGetDocument(w http.ResponseWriter, r *http.Request) {
	if tr.payloads == nil {
		http.Error(w, "payload archive is not configured", http.StatusNotFound)
		return
	}

	businessID := r.PathValue("businessID")
	name := r.PathValue("name")
	if name != "request.xml" && name != "response.xml" {
		http.Error(w, "unknown document name", http.StatusBadRequest)
		return
	}

	body, contentType, err := tr.payloads.Get(r.Context(), businessID+"/"+name)
	if err != nil {
		http.Error(w, fmt.Sprintf("document not available: %v", err), http.StatusNotFound)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		return
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode response: %v", err), http.StatusInternalServerError)
	}
}
