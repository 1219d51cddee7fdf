package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendvault/core"
	"lendvault/rpc/modules"
)

const (
	maxRequestBytes = 1 << 20 // 1 MiB
	rpcTokenEnv     = "LENDVAULT_RPC_TOKEN"
)

type Server struct {
	node      *core.Node
	vault     *modules.VaultModule
	authToken string
}

func NewServer(node *core.Node) *Server {
	token := strings.TrimSpace(os.Getenv(rpcTokenEnv))
	return &Server{
		node:      node,
		vault:     modules.NewVaultModule(node),
		authToken: token,
	}
}

// Router assembles the HTTP surface: the JSON-RPC endpoint, health and
// metrics, and the websocket event stream.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	r.Post("/", s.handle)
	return r
}

func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, 0, codeParseError, "failed to read request body", nil)
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, 0, codeInvalidRequest, "request body too large", nil)
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, 0, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", nil)
		return
	}

	switch req.Method {
	case "vault_depositCollateral":
		s.handleDepositCollateral(w, &req)
	case "vault_borrow":
		s.handleBorrow(w, &req)
	case "vault_generateYield":
		s.handleGenerateYield(w, &req)
	case "vault_fundTreasury":
		s.requireAuth(w, r, &req, s.handleFundTreasury)
	case "vault_mintCollateral":
		s.requireAuth(w, r, &req, s.handleMintCollateral)
	case "vault_reduceDebt":
		s.requireAuth(w, r, &req, s.handleReduceDebt)
	case "vault_getPosition":
		s.handleGetPosition(w, &req)
	case "vault_getTotals":
		s.handleGetTotals(w, &req)
	case "vault_maxBorrow":
		s.handleMaxBorrow(w, &req)
	case "vault_getAccount":
		s.handleGetAccount(w, &req)
	case "vault_getEvents":
		s.handleGetEvents(w, &req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

// requireAuth guards administrative methods with the bearer token from the
// environment. An unset token leaves the guard disabled for local
// development; production deployments set LENDVAULT_RPC_TOKEN. The engine
// still enforces the owner check on every administrative operation.
func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request, req *RPCRequest, next func(http.ResponseWriter, *RPCRequest)) {
	if s.authToken != "" {
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(header, prefix)), []byte(s.authToken)) != 1 {
			writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "unauthorized", nil)
			return
		}
	}
	next(w, req)
}

func writeResult(w http.ResponseWriter, id int, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Result:  result,
	})
}

func writeError(w http.ResponseWriter, status, id, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}

func writeModuleError(w http.ResponseWriter, id int, err *modules.ModuleError) {
	writeError(w, err.HTTPStatus, id, err.Code, err.Message, err.Data)
}
