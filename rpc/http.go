package rpc

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pharmaclear/core"
	"pharmaclear/native/audit"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000

	codeGroupStructure      = -32021
	codeAuthorization       = -32022
	codeDuplicateSettlement = -32023
	codeInsufficientEscrow  = -32024
	codeAmountOverflow      = -32025
	codeDuplicateClaim      = -32026
	codeNotFound            = -32027
)

// Server exposes the ledger over JSON-RPC 2.0.
type Server struct {
	node   *core.Node
	audit  *audit.Store
	logger *slog.Logger
}

// NewServer wires a server to the node and the audit rail.
func NewServer(node *core.Node, auditStore *audit.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{node: node, audit: auditStore, logger: logger}
}

// Router builds the HTTP handler: JSON-RPC at /rpc, liveness at /healthz and
// Prometheus metrics at /metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/rpc", s.handle)
	return r
}

// Start serves the router on addr until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return server.ListenAndServe()
}

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError carries a distinguishable failure kind back to the caller.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeResponse(w, RPCResponse{JSONRPC: jsonRPCVersion, Error: &RPCError{Code: codeParseError, Message: "unable to read request"}})
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, RPCResponse{JSONRPC: jsonRPCVersion, Error: &RPCError{Code: codeParseError, Message: "invalid JSON"}})
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeResponse(w, RPCResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Error: &RPCError{Code: codeInvalidRequest, Message: "unsupported JSON-RPC version"}})
		return
	}

	result, rpcErr := s.dispatch(&req)
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
		s.logger.Warn("rpc call failed",
			slog.String("method", req.Method),
			slog.Int("code", rpcErr.Code),
			slog.String("error", rpcErr.Message))
	} else {
		resp.Result = result
	}
	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp RPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) dispatch(req *RPCRequest) (interface{}, *RPCError) {
	switch req.Method {
	case "pharma_submitGroup":
		return s.handleSubmitGroup(req)
	case "pharma_deposit":
		return s.handleDeposit(req)
	case "pharma_getBalance":
		return s.handleGetBalance(req)
	case "pharma_getAccountBalance":
		return s.handleGetAccountBalance(req)
	case "pharma_submitClaim":
		return s.handleSubmitClaim(req)
	case "pharma_verifyClaim":
		return s.handleVerifyClaim(req)
	case "pharma_getClaimMetadata":
		return s.handleGetClaimMetadata(req)
	case "pharma_issueRecall":
		return s.handleIssueRecall(req)
	case "pharma_isBatchRecalled":
		return s.handleIsBatchRecalled(req)
	case "pharma_getBatchClaims":
		return s.handleGetBatchClaims(req)
	case "pharma_isSettled":
		return s.handleIsSettled(req)
	case "pharma_registerSchedule":
		return s.handleRegisterSchedule(req)
	case "pharma_calculateAccrual":
		return s.handleCalculateAccrual(req)
	case "pharma_getAccrual":
		return s.handleGetAccrual(req)
	case "pharma_getManufacturerTotal":
		return s.handleGetManufacturerTotal(req)
	case "pharma_getAuditTrail":
		return s.handleGetAuditTrail(req)
	case "pharma_logDispute":
		return s.handleLogDispute(req)
	default:
		return nil, &RPCError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

func singleParam(req *RPCRequest, out interface{}) *RPCError {
	if len(req.Params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: "expected exactly one parameter object"}
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "invalid parameter object: " + err.Error()}
	}
	return nil
}
