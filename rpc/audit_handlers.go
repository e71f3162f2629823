package rpc

import (
	"errors"

	"pharmaclear/native/audit"
)

type auditTrailResult struct {
	Settlement *audit.SettlementRecord `json:"settlement,omitempty"`
	Disputes   []audit.DisputeRecord   `json:"disputes"`
}

func (s *Server) handleGetAuditTrail(req *RPCRequest) (interface{}, *RPCError) {
	var params claimKeyParams
	if rpcErr := singleParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	key, err := parseClaimKey(params.ClaimKey)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	if s.audit == nil {
		return nil, &RPCError{Code: codeServerError, Message: "audit rail not configured"}
	}
	canonical := formatClaimKey(key)
	result := auditTrailResult{Disputes: []audit.DisputeRecord{}}
	settlement, err := s.audit.SettlementByClaim(canonical)
	switch {
	case err == nil:
		result.Settlement = settlement
	case errors.Is(err, audit.ErrNotFound):
		// no settlement yet; disputes may still exist
	default:
		return nil, &RPCError{Code: codeServerError, Message: err.Error()}
	}
	disputes, err := s.audit.DisputesByClaim(canonical)
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: err.Error()}
	}
	if len(disputes) > 0 {
		result.Disputes = disputes
	}
	if result.Settlement == nil && len(result.Disputes) == 0 {
		return nil, &RPCError{Code: codeNotFound, Message: "no audit records for claim"}
	}
	return result, nil
}

type logDisputeParams struct {
	ClaimKey       string `json:"claimKey"`
	DisputingParty string `json:"disputingParty"`
	Reason         string `json:"reason"`
	DisputedAmount uint64 `json:"disputedAmount"`
}

func (s *Server) handleLogDispute(req *RPCRequest) (interface{}, *RPCError) {
	var params logDisputeParams
	if rpcErr := singleParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	key, err := parseClaimKey(params.ClaimKey)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	if params.Reason == "" {
		return nil, &RPCError{Code: codeInvalidParams, Message: "dispute reason required"}
	}
	if s.audit == nil {
		return nil, &RPCError{Code: codeServerError, Message: "audit rail not configured"}
	}
	id, err := s.audit.AppendDispute(audit.DisputeRecord{
		ClaimKey:       formatClaimKey(key),
		DisputingParty: params.DisputingParty,
		Reason:         params.Reason,
		DisputedAmount: params.DisputedAmount,
	})
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: err.Error()}
	}
	return map[string]string{"disputeId": id}, nil
}
