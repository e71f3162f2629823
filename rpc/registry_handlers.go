package rpc

import (
	"errors"

	"pharmaclear/core/types"
	"pharmaclear/native/registry"
)

type submitClaimParams struct {
	ClaimID        string `json:"claimId"`
	NDCCode        string `json:"ndcCode"`
	PharmacyNPI    string `json:"pharmacyNpi"`
	DispenseDate   uint64 `json:"dispenseDate"`
	OracleSig      string `json:"oracleSig"`
	BatchNumber    string `json:"batchNumber,omitempty"`
	LotNumber      string `json:"lotNumber,omitempty"`
	ExpirationDate uint64 `json:"expirationDate,omitempty"`
	CountryCode    string `json:"countryCode,omitempty"`
}

type submitClaimResult struct {
	ClaimKey string `json:"claimKey"`
}

func (s *Server) handleSubmitClaim(req *RPCRequest) (interface{}, *RPCError) {
	var params submitClaimParams
	if rpcErr := singleParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	sig, err := parseHex(params.OracleSig)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: "oracleSig: " + err.Error()}
	}
	receipts, err := s.node.SubmitGroup([]types.Operation{{
		Kind: types.OpClaimSubmit,
		ClaimSubmit: &types.ClaimSubmitOp{
			ClaimID:        params.ClaimID,
			NDCCode:        params.NDCCode,
			PharmacyNPI:    params.PharmacyNPI,
			DispenseDate:   params.DispenseDate,
			OracleSig:      sig,
			BatchNumber:    params.BatchNumber,
			LotNumber:      params.LotNumber,
			ExpirationDate: params.ExpirationDate,
			CountryCode:    params.CountryCode,
		},
	}})
	if err != nil {
		return nil, groupError(err)
	}
	return submitClaimResult{ClaimKey: formatClaimKey(receipts[0].ClaimKey)}, nil
}

func (s *Server) handleVerifyClaim(req *RPCRequest) (interface{}, *RPCError) {
	var params claimKeyParams
	if rpcErr := singleParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	key, err := parseClaimKey(params.ClaimKey)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	exists, err := s.node.VerifyClaim(key)
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: err.Error()}
	}
	return map[string]bool{"exists": exists}, nil
}

type batchParams struct {
	NDCCode     string `json:"ndcCode"`
	BatchNumber string `json:"batchNumber"`
}

type issueRecallParams struct {
	NDCCode     string `json:"ndcCode"`
	BatchNumber string `json:"batchNumber"`
	Reason      string `json:"reason"`
	Severity    uint64 `json:"severity"`
}

type issueRecallResult struct {
	BatchID        string `json:"batchId"`
	AffectedClaims uint64 `json:"affectedClaims"`
}

func (s *Server) handleIssueRecall(req *RPCRequest) (interface{}, *RPCError) {
	var params issueRecallParams
	if rpcErr := singleParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	affected, err := s.node.IssueRecall(params.NDCCode, params.BatchNumber, params.Reason, params.Severity)
	if err != nil {
		if errors.Is(err, registry.ErrRecallReason) || errors.Is(err, registry.ErrRecallSeverity) {
			return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
		}
		return nil, &RPCError{Code: codeServerError, Message: err.Error()}
	}
	return issueRecallResult{
		BatchID:        registry.BatchID(params.NDCCode, params.BatchNumber),
		AffectedClaims: affected,
	}, nil
}

type batchRecalledResult struct {
	Recalled bool   `json:"recalled"`
	Reason   string `json:"reason,omitempty"`
	Severity uint64 `json:"severity,omitempty"`
}

func (s *Server) handleIsBatchRecalled(req *RPCRequest) (interface{}, *RPCError) {
	var params batchParams
	if rpcErr := singleParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	recall, ok, err := s.node.RecallFor(params.NDCCode, params.BatchNumber)
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: err.Error()}
	}
	out := batchRecalledResult{Recalled: ok}
	if ok {
		out.Reason = recall.Reason
		out.Severity = recall.Severity
	}
	return out, nil
}

func (s *Server) handleGetBatchClaims(req *RPCRequest) (interface{}, *RPCError) {
	var params batchParams
	if rpcErr := singleParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	count, err := s.node.BatchClaimCount(params.NDCCode, params.BatchNumber)
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: err.Error()}
	}
	return map[string]uint64{"count": count}, nil
}

func (s *Server) handleGetClaimMetadata(req *RPCRequest) (interface{}, *RPCError) {
	var params claimKeyParams
	if rpcErr := singleParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	key, err := parseClaimKey(params.ClaimKey)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	meta, err := s.node.ClaimMetadata(key)
	if err != nil {
		return nil, groupError(err)
	}
	return meta, nil
}
