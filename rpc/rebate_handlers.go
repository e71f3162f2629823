package rpc

import (
	"pharmaclear/core/types"
	"pharmaclear/native/rebate"
)

type registerScheduleParams struct {
	Manufacturer        string `json:"manufacturer"`
	BaseBps             uint64 `json:"baseBps"`
	Threshold           uint64 `json:"threshold"`
	BonusBps            uint64 `json:"bonusBps"`
	ExcludesBiosimilars bool   `json:"excludesBiosimilars"`
}

func (s *Server) handleRegisterSchedule(req *RPCRequest) (interface{}, *RPCError) {
	var params registerScheduleParams
	if rpcErr := singleParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	manufacturer, err := parseAddress(params.Manufacturer)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	err = s.node.RegisterSchedule(manufacturer, &rebate.Schedule{
		BaseBps:             params.BaseBps,
		Threshold:           params.Threshold,
		BonusBps:            params.BonusBps,
		ExcludesBiosimilars: params.ExcludesBiosimilars,
	})
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	return map[string]string{"status": "registered"}, nil
}

type calculateAccrualParams struct {
	ClaimKey     string `json:"claimKey"`
	Manufacturer string `json:"manufacturer"`
	WACPrice     uint64 `json:"wacPrice"`
	Volume       uint64 `json:"volume"`
}

type accrualResult struct {
	ClaimKey     string `json:"claimKey"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Amount       uint64 `json:"amount"`
}

func (s *Server) handleCalculateAccrual(req *RPCRequest) (interface{}, *RPCError) {
	var params calculateAccrualParams
	if rpcErr := singleParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	key, err := parseClaimKey(params.ClaimKey)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	manufacturer, err := parseAddress(params.Manufacturer)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	receipts, err := s.node.SubmitGroup([]types.Operation{{
		Kind: types.OpAccrue,
		Accrue: &types.AccrueOp{
			ClaimKey:     key,
			Manufacturer: manufacturer,
			WACPrice:     params.WACPrice,
			Volume:       params.Volume,
		},
	}})
	if err != nil {
		return nil, groupError(err)
	}
	return accrualResult{
		ClaimKey:     params.ClaimKey,
		Manufacturer: params.Manufacturer,
		Amount:       receipts[0].Amount,
	}, nil
}

func (s *Server) handleGetAccrual(req *RPCRequest) (interface{}, *RPCError) {
	var params claimKeyParams
	if rpcErr := singleParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	key, err := parseClaimKey(params.ClaimKey)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	accrual, found, err := s.node.AccrualFor(key)
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: err.Error()}
	}
	if !found {
		return nil, &RPCError{Code: codeNotFound, Message: "no accrual recorded for claim"}
	}
	return accrualResult{
		ClaimKey:     params.ClaimKey,
		Manufacturer: formatAddress(accrual.Manufacturer),
		Amount:       accrual.Amount,
	}, nil
}

type manufacturerParams struct {
	Manufacturer string `json:"manufacturer"`
}

func (s *Server) handleGetManufacturerTotal(req *RPCRequest) (interface{}, *RPCError) {
	var params manufacturerParams
	if rpcErr := singleParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	manufacturer, err := parseAddress(params.Manufacturer)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	total, err := s.node.ManufacturerTotal(manufacturer)
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: err.Error()}
	}
	return map[string]string{"total": total.String()}, nil
}
