package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
)

const usage = `pharma-cli talks JSON-RPC to a running pharmad node.

Usage:
  pharma-cli [-rpc URL] <command> [args]

Commands:
  balance <address>                         account balance
  escrow                                    escrow pool balance
  deposit <from> <amount>                   fund the escrow pool
  submit-claim <id> <ndc> <npi> <date> <hexsig>  register an adjudicated claim
  verify-claim <claimKey>                   check claim registration
  is-settled <claimKey>                     check settlement status
  audit <claimKey>                          fetch the audit trail
  dispute <claimKey> <party> <amount> <reason>  log a dispute
  total <manufacturer>                      cumulative accrued liability
  recall <ndc> <batch> <severity> <reason>  issue a drug recall
  batch-recalled <ndc> <batch>              check recall status
  batch-claims <ndc> <batch>                claims registered against a batch
`

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	rpcURL := flag.String("rpc", "http://localhost:8080/rpc", "JSON-RPC endpoint")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	method, params, err := buildCall(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	result, err := call(*rpcURL, method, params)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Println(string(result))
}

func buildCall(args []string) (string, []interface{}, error) {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "balance":
		if len(rest) != 1 {
			return "", nil, fmt.Errorf("balance requires <address>")
		}
		return "pharma_getAccountBalance", []interface{}{map[string]string{"address": rest[0]}}, nil
	case "escrow":
		return "pharma_getBalance", nil, nil
	case "deposit":
		if len(rest) != 2 {
			return "", nil, fmt.Errorf("deposit requires <from> <amount>")
		}
		amount, err := strconv.ParseUint(rest[1], 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("amount: %w", err)
		}
		return "pharma_deposit", []interface{}{map[string]interface{}{
			"from":   rest[0],
			"amount": amount,
		}}, nil
	case "submit-claim":
		if len(rest) != 5 {
			return "", nil, fmt.Errorf("submit-claim requires <id> <ndc> <npi> <date> <sig>")
		}
		date, err := strconv.ParseUint(rest[3], 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("date: %w", err)
		}
		return "pharma_submitClaim", []interface{}{map[string]interface{}{
			"claimId":      rest[0],
			"ndcCode":      rest[1],
			"pharmacyNpi":  rest[2],
			"dispenseDate": date,
			"oracleSig":    rest[4],
		}}, nil
	case "verify-claim":
		if len(rest) != 1 {
			return "", nil, fmt.Errorf("verify-claim requires <claimKey>")
		}
		return "pharma_verifyClaim", []interface{}{map[string]string{"claimKey": rest[0]}}, nil
	case "is-settled":
		if len(rest) != 1 {
			return "", nil, fmt.Errorf("is-settled requires <claimKey>")
		}
		return "pharma_isSettled", []interface{}{map[string]string{"claimKey": rest[0]}}, nil
	case "audit":
		if len(rest) != 1 {
			return "", nil, fmt.Errorf("audit requires <claimKey>")
		}
		return "pharma_getAuditTrail", []interface{}{map[string]string{"claimKey": rest[0]}}, nil
	case "dispute":
		if len(rest) != 4 {
			return "", nil, fmt.Errorf("dispute requires <claimKey> <party> <amount> <reason>")
		}
		amount, err := strconv.ParseUint(rest[2], 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("amount: %w", err)
		}
		return "pharma_logDispute", []interface{}{map[string]interface{}{
			"claimKey":       rest[0],
			"disputingParty": rest[1],
			"disputedAmount": amount,
			"reason":         rest[3],
		}}, nil
	case "recall":
		if len(rest) != 4 {
			return "", nil, fmt.Errorf("recall requires <ndc> <batch> <severity> <reason>")
		}
		severity, err := strconv.ParseUint(rest[2], 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("severity: %w", err)
		}
		return "pharma_issueRecall", []interface{}{map[string]interface{}{
			"ndcCode":     rest[0],
			"batchNumber": rest[1],
			"severity":    severity,
			"reason":      rest[3],
		}}, nil
	case "batch-recalled":
		if len(rest) != 2 {
			return "", nil, fmt.Errorf("batch-recalled requires <ndc> <batch>")
		}
		return "pharma_isBatchRecalled", []interface{}{map[string]string{
			"ndcCode":     rest[0],
			"batchNumber": rest[1],
		}}, nil
	case "batch-claims":
		if len(rest) != 2 {
			return "", nil, fmt.Errorf("batch-claims requires <ndc> <batch>")
		}
		return "pharma_getBatchClaims", []interface{}{map[string]string{
			"ndcCode":     rest[0],
			"batchNumber": rest[1],
		}}, nil
	case "total":
		if len(rest) != 1 {
			return "", nil, fmt.Errorf("total requires <manufacturer>")
		}
		return "pharma_getManufacturerTotal", []interface{}{map[string]string{"manufacturer": rest[0]}}, nil
	default:
		return "", nil, fmt.Errorf("unknown command %q", cmd)
	}
}

func call(url, method string, params []interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	return decoded.Result, nil
}
