package rpc

import (
	"errors"

	"pharmaclear/core/types"
	"pharmaclear/native/rebate"
	"pharmaclear/native/registry"
	"pharmaclear/native/settlement"
)

type submitGroupParams struct {
	Operations []jsonOperation `json:"operations"`
}

type submitGroupResult struct {
	Receipts []jsonReceipt `json:"receipts"`
}

func (s *Server) handleSubmitGroup(req *RPCRequest) (interface{}, *RPCError) {
	var params submitGroupParams
	if rpcErr := singleParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	ops := make([]types.Operation, 0, len(params.Operations))
	for i := range params.Operations {
		op, err := params.Operations[i].toOperation()
		if err != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
		}
		ops = append(ops, op)
	}
	receipts, err := s.node.SubmitGroup(ops)
	if err != nil {
		return nil, groupError(err)
	}
	out := submitGroupResult{Receipts: make([]jsonReceipt, len(receipts))}
	for i := range receipts {
		out.Receipts[i] = receiptToJSON(receipts[i])
	}
	return out, nil
}

type depositParams struct {
	From   string `json:"from"`
	Amount uint64 `json:"amount"`
}

type balanceResult struct {
	Balance string `json:"balance"`
}

func (s *Server) handleDeposit(req *RPCRequest) (interface{}, *RPCError) {
	var params depositParams
	if rpcErr := singleParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	from, err := parseAddress(params.From)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	if err := s.node.Deposit(from, params.Amount); err != nil {
		return nil, groupError(err)
	}
	return s.handleGetBalance(req)
}

func (s *Server) handleGetBalance(_ *RPCRequest) (interface{}, *RPCError) {
	balance, err := s.node.EscrowBalance()
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: err.Error()}
	}
	return balanceResult{Balance: balance.String()}, nil
}

type addressParams struct {
	Address string `json:"address"`
}

func (s *Server) handleGetAccountBalance(req *RPCRequest) (interface{}, *RPCError) {
	var params addressParams
	if rpcErr := singleParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	balance, err := s.node.AccountBalance(addr)
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: err.Error()}
	}
	return balanceResult{Balance: balance.String()}, nil
}

type claimKeyParams struct {
	ClaimKey string `json:"claimKey"`
}

func (s *Server) handleIsSettled(req *RPCRequest) (interface{}, *RPCError) {
	var params claimKeyParams
	if rpcErr := singleParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	key, err := parseClaimKey(params.ClaimKey)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	settled, err := s.node.IsSettled(key)
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: err.Error()}
	}
	return map[string]bool{"settled": settled}, nil
}

// groupError maps a failed group execution to a distinguishable RPC error.
func groupError(err error) *RPCError {
	code := codeServerError
	switch {
	case errors.Is(err, settlement.ErrGroupStructure):
		code = codeGroupStructure
	case errors.Is(err, settlement.ErrAuthorization):
		code = codeAuthorization
	case errors.Is(err, settlement.ErrDuplicateSettlement):
		code = codeDuplicateSettlement
	case errors.Is(err, settlement.ErrInsufficientEscrow):
		code = codeInsufficientEscrow
	case errors.Is(err, settlement.ErrAmountOverflow):
		code = codeAmountOverflow
	case errors.Is(err, registry.ErrDuplicateClaim):
		code = codeDuplicateClaim
	case errors.Is(err, rebate.ErrScheduleNotFound), errors.Is(err, registry.ErrClaimNotFound):
		code = codeNotFound
	}
	return &RPCError{Code: code, Message: err.Error()}
}
