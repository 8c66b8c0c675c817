package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"stockpay/internal/txn"
)

// apiServer exposes the coordinator and the transaction store over HTTP.
type apiServer struct {
	coordinator *txn.Coordinator
	store       txn.TransactionStore
	logf        func(format string, args ...any)
}

func newAPIServer(coordinator *txn.Coordinator, store txn.TransactionStore, logf func(format string, args ...any)) *apiServer {
	return &apiServer{
		coordinator: coordinator,
		store:       store,
		logf:        logf,
	}
}

func (s *apiServer) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req txn.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.coordinator.CreateTransaction(r.Context(), req)
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, res)
}

func (s *apiServer) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req txn.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.coordinator.ConfirmPayment(r.Context(), req)
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *apiServer) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, err := s.store.FindByTransactionID(r.Context(), id)
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"transaction": record,
	})
}

func (s *apiServer) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	records, err := s.store.List(r.Context(), limit, offset)
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	if records == nil {
		records = []*txn.Transaction{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"count":        len(records),
		"transactions": records,
	})
}

func (s *apiServer) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Statistics(r.Context())
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"statistics": stats,
	})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// writeWorkflowError maps coordinator errors onto HTTP statuses. Gateway
// failures surface as 502 so callers can tell a collaborator outage from a
// bug in this service.
func (s *apiServer) writeWorkflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, txn.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, txn.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "transaction not found")
	case errors.Is(err, txn.ErrAlreadyProcessed):
		s.writeError(w, http.StatusConflict, "transaction already processed")
	case errors.Is(err, txn.ErrPaymentNotInitialized):
		s.writeError(w, http.StatusConflict, "payment was not initialized for this transaction")
	case errors.Is(err, txn.ErrStockUnavailable):
		s.writeError(w, http.StatusConflict, "insufficient stock for requested items")
	case errors.Is(err, txn.ErrPaymentRejected):
		s.writeError(w, http.StatusPaymentRequired, err.Error())
	case txn.IsAuthentication(err):
		s.writeError(w, http.StatusUnauthorized, err.Error())
	default:
		var se *txn.ServiceError
		if errors.As(err, &se) {
			s.writeError(w, http.StatusBadGateway, se.Error())
			return
		}
		s.logf("internal error: %v", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logf("encode response: %v", err)
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"success": false,
		"message": message,
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return fallback
	}
	return val
}
