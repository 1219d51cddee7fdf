package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"lendvault/crypto"
)

type vaultAccountParams struct {
	Account string `json:"account"`
}

type vaultAmountParams struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type vaultYieldParams struct {
	Amount string `json:"amount"`
}

type vaultFundParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type vaultMintParams struct {
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type vaultReduceParams struct {
	Caller  string `json:"caller"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type vaultEventsParams struct {
	After uint64 `json:"after"`
	Limit int    `json:"limit,omitempty"`
}

type vaultAckResult struct {
	Status string `json:"status"`
}

var ackOK = vaultAckResult{Status: "ok"}

func (s *Server) handleDepositCollateral(w http.ResponseWriter, req *RPCRequest) {
	var params vaultAmountParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, amount, ok := parseAccountAmount(w, req, params.Account, params.Amount)
	if !ok {
		return
	}
	if err := s.vault.DepositCollateral(account, amount); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackOK)
}

func (s *Server) handleBorrow(w http.ResponseWriter, req *RPCRequest) {
	var params vaultAmountParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, amount, ok := parseAccountAmount(w, req, params.Account, params.Amount)
	if !ok {
		return
	}
	if err := s.vault.Borrow(account, amount); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackOK)
}

func (s *Server) handleGenerateYield(w http.ResponseWriter, req *RPCRequest) {
	var params vaultYieldParams
	if !decodeParams(w, req, &params) {
		return
	}
	amount, ok := parseAmount(w, req, params.Amount)
	if !ok {
		return
	}
	receipt, err := s.vault.GenerateYield(amount)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, receipt)
}

func (s *Server) handleFundTreasury(w http.ResponseWriter, req *RPCRequest) {
	var params vaultFundParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, amount, ok := parseAccountAmount(w, req, params.Caller, params.Amount)
	if !ok {
		return
	}
	if err := s.vault.FundTreasury(caller, amount); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackOK)
}

func (s *Server) handleMintCollateral(w http.ResponseWriter, req *RPCRequest) {
	var params vaultMintParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := parseAddress(w, req, params.Caller)
	if !ok {
		return
	}
	recipient, amount, ok := parseAccountAmount(w, req, params.Recipient, params.Amount)
	if !ok {
		return
	}
	if err := s.vault.MintCollateral(caller, recipient, amount); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackOK)
}

func (s *Server) handleReduceDebt(w http.ResponseWriter, req *RPCRequest) {
	var params vaultReduceParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := parseAddress(w, req, params.Caller)
	if !ok {
		return
	}
	account, amount, ok := parseAccountAmount(w, req, params.Account, params.Amount)
	if !ok {
		return
	}
	result, err := s.vault.ReduceDebt(caller, account, amount)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, req *RPCRequest) {
	var params vaultAccountParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, ok := parseAddress(w, req, params.Account)
	if !ok {
		return
	}
	position, err := s.vault.GetPosition(account)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, position)
}

func (s *Server) handleGetTotals(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	totals, err := s.vault.GetTotals()
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, totals)
}

func (s *Server) handleMaxBorrow(w http.ResponseWriter, req *RPCRequest) {
	var params vaultAccountParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, ok := parseAddress(w, req, params.Account)
	if !ok {
		return
	}
	amount, err := s.vault.MaxBorrowAmount(account)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"maxBorrow": amount})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, req *RPCRequest) {
	var params vaultAccountParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, ok := parseAddress(w, req, params.Account)
	if !ok {
		return
	}
	view, err := s.vault.GetAccount(account)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, view)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, req *RPCRequest) {
	params := vaultEventsParams{}
	if len(req.Params) > 0 && !decodeParams(w, req, &params) {
		return
	}
	events, err := s.vault.Events(params.After, params.Limit)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, events)
}

func decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected a single parameter object", nil)
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter", err.Error())
		return false
	}
	return true
}

func parseAddress(w http.ResponseWriter, req *RPCRequest, raw string) (crypto.Address, bool) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return crypto.Address{}, false
	}
	return addr, true
}

func parseAmount(w http.ResponseWriter, req *RPCRequest, raw string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || amount.Sign() < 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", raw)
		return nil, false
	}
	return amount, true
}

func parseAccountAmount(w http.ResponseWriter, req *RPCRequest, rawAddr, rawAmount string) (crypto.Address, *big.Int, bool) {
	addr, ok := parseAddress(w, req, rawAddr)
	if !ok {
		return crypto.Address{}, nil, false
	}
	amount, ok := parseAmount(w, req, rawAmount)
	if !ok {
		return crypto.Address{}, nil, false
	}
	return addr, amount, true
}
