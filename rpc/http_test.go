package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pharmaclear/core"
	"pharmaclear/core/events"
	"pharmaclear/native/audit"
	"pharmaclear/storage"
)

const (
	pbmAddr          = "0x1010101010101010101010101010101010101010"
	oracleAddr       = "0x2020202020202020202020202020202020202020"
	vaultAddr        = "0x2121212121212121212121212121212121212121"
	pharmacyAddr     = "0x3030303030303030303030303030303030303030"
	feeCollectorAddr = "0x4040404040404040404040404040404040404040"
	manufacturerAddr = "0x5050505050505050505050505050505050505050"
)

func mustAddress(t *testing.T, s string) [20]byte {
	t.Helper()
	addr, err := parseAddress(s)
	require.NoError(t, err)
	return addr
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := audit.NewStore(filepath.Join(t.TempDir(), "audit.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	recorder := audit.NewRecorder(store, nil)
	node := core.NewNode(storage.NewMemDB(),
		core.WithEmitter(events.MultiEmitter{recorder}),
		core.WithNowFunc(func() int64 { return 1700000000 }),
	)
	require.NoError(t, node.ApplyGenesis(map[[20]byte]uint64{
		mustAddress(t, pbmAddr):    1_000_000_000,
		mustAddress(t, oracleAddr): 1_000_000,
	}, 0))

	server := httptest.NewServer(NewServer(node, store, nil).Router())
	t.Cleanup(server.Close)
	return server
}

func call(t *testing.T, server *httptest.Server, method string, params ...interface{}) (json.RawMessage, *RPCError) {
	t.Helper()
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		encoded, err := json.Marshal(p)
		require.NoError(t, err)
		raw = append(raw, encoded)
	}
	payload, err := json.Marshal(RPCRequest{JSONRPC: "2.0", Method: method, Params: raw, ID: 1})
	require.NoError(t, err)

	resp, err := http.Post(server.URL+"/rpc", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return decoded.Result, decoded.Error
}

func submitTestClaim(t *testing.T, server *httptest.Server) string {
	t.Helper()
	result, rpcErr := call(t, server, "pharma_submitClaim", map[string]interface{}{
		"claimId":      "RX-2024-001",
		"ndcCode":      "0002-8215-01",
		"pharmacyNpi":  "1234567890",
		"dispenseDate": 20240115,
		"oracleSig":    "0xdeadbeef",
	})
	require.Nil(t, rpcErr)
	var out struct {
		ClaimKey string `json:"claimKey"`
	}
	require.NoError(t, json.Unmarshal(result, &out))
	require.NotEmpty(t, out.ClaimKey)
	return out.ClaimKey
}

func depositEscrow(t *testing.T, server *httptest.Server, amount uint64) {
	t.Helper()
	_, rpcErr := call(t, server, "pharma_deposit", map[string]interface{}{
		"from":   pbmAddr,
		"amount": amount,
	})
	require.Nil(t, rpcErr)
}

func settleOps(claimKey string, rebateAmount, stake uint64) []map[string]interface{} {
	return []map[string]interface{}{
		{"kind": "payment", "from": oracleAddr, "to": vaultAddr, "amount": stake},
		{
			"kind":         "settle",
			"claimKey":     claimKey,
			"rebateAmount": rebateAmount,
			"payee":        pharmacyAddr,
			"feeRecipient": feeCollectorAddr,
			"authIndex":    0,
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)
	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSubmitAndVerifyClaim(t *testing.T) {
	server := newTestServer(t)
	claimKey := submitTestClaim(t, server)

	result, rpcErr := call(t, server, "pharma_verifyClaim", map[string]string{"claimKey": claimKey})
	require.Nil(t, rpcErr)
	var verify struct {
		Exists bool `json:"exists"`
	}
	require.NoError(t, json.Unmarshal(result, &verify))
	require.True(t, verify.Exists)

	result, rpcErr = call(t, server, "pharma_getClaimMetadata", map[string]string{"claimKey": claimKey})
	require.Nil(t, rpcErr)
	var meta struct {
		ClaimID string `json:"claimId"`
	}
	require.NoError(t, json.Unmarshal(result, &meta))
	require.Equal(t, "RX-2024-001", meta.ClaimID)

	// Resubmitting the identical claim is refused.
	_, rpcErr = call(t, server, "pharma_submitClaim", map[string]interface{}{
		"claimId":      "RX-2024-001",
		"ndcCode":      "0002-8215-01",
		"pharmacyNpi":  "1234567890",
		"dispenseDate": 20240115,
		"oracleSig":    "0xdeadbeef",
	})
	require.NotNil(t, rpcErr)
	require.Equal(t, codeDuplicateClaim, rpcErr.Code)
}

func TestDepositAndBalance(t *testing.T) {
	server := newTestServer(t)
	depositEscrow(t, server, 100_000_000)

	result, rpcErr := call(t, server, "pharma_getBalance")
	require.Nil(t, rpcErr)
	var balance struct {
		Balance string `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(result, &balance))
	require.Equal(t, "100000000", balance.Balance)

	result, rpcErr = call(t, server, "pharma_getAccountBalance", map[string]string{"address": pbmAddr})
	require.Nil(t, rpcErr)
	require.NoError(t, json.Unmarshal(result, &balance))
	require.Equal(t, "900000000", balance.Balance)
}

func TestSettlementOverRPC(t *testing.T) {
	server := newTestServer(t)
	depositEscrow(t, server, 100_000_000)
	claimKey := submitTestClaim(t, server)

	result, rpcErr := call(t, server, "pharma_submitGroup", map[string]interface{}{
		"operations": settleOps(claimKey, 15_000_000, 1_000),
	})
	require.Nil(t, rpcErr)
	var group struct {
		Receipts []jsonReceipt `json:"receipts"`
	}
	require.NoError(t, json.Unmarshal(result, &group))
	require.Len(t, group.Receipts, 2)
	require.Equal(t, uint64(14_550_000), group.Receipts[1].PayeeAmount)
	require.Equal(t, uint64(450_000), group.Receipts[1].FeeAmount)

	result, rpcErr = call(t, server, "pharma_isSettled", map[string]string{"claimKey": claimKey})
	require.Nil(t, rpcErr)
	var settled struct {
		Settled bool `json:"settled"`
	}
	require.NoError(t, json.Unmarshal(result, &settled))
	require.True(t, settled.Settled)

	// The committed settlement lands on the audit rail.
	result, rpcErr = call(t, server, "pharma_getAuditTrail", map[string]string{"claimKey": claimKey})
	require.Nil(t, rpcErr)
	var trail struct {
		Settlement *audit.SettlementRecord `json:"settlement"`
	}
	require.NoError(t, json.Unmarshal(result, &trail))
	require.NotNil(t, trail.Settlement)
	require.Equal(t, uint64(14_550_000), trail.Settlement.PayeeAmount)

	// A second settlement of the same claim maps to its own error code.
	_, rpcErr = call(t, server, "pharma_submitGroup", map[string]interface{}{
		"operations": settleOps(claimKey, 15_000_000, 1_000),
	})
	require.NotNil(t, rpcErr)
	require.Equal(t, codeDuplicateSettlement, rpcErr.Code)
}

func TestUnderStakedGroupFailsAtomically(t *testing.T) {
	server := newTestServer(t)
	depositEscrow(t, server, 100_000_000)
	claimKey := submitTestClaim(t, server)

	_, rpcErr := call(t, server, "pharma_submitGroup", map[string]interface{}{
		"operations": settleOps(claimKey, 15_000_000, 999),
	})
	require.NotNil(t, rpcErr)
	require.Equal(t, codeAuthorization, rpcErr.Code)

	// The stake payment rolled back with the group.
	result, rpcErr := call(t, server, "pharma_getAccountBalance", map[string]string{"address": vaultAddr})
	require.Nil(t, rpcErr)
	var balance struct {
		Balance string `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(result, &balance))
	require.Equal(t, "0", balance.Balance)

	// Nothing reached the audit rail either.
	_, rpcErr = call(t, server, "pharma_getAuditTrail", map[string]string{"claimKey": claimKey})
	require.NotNil(t, rpcErr)
	require.Equal(t, codeNotFound, rpcErr.Code)
}

func TestRebateAccrualOverRPC(t *testing.T) {
	server := newTestServer(t)
	claimKey := submitTestClaim(t, server)

	_, rpcErr := call(t, server, "pharma_registerSchedule", map[string]interface{}{
		"manufacturer": manufacturerAddr,
		"baseBps":      1500,
		"threshold":    10_000,
		"bonusBps":     500,
	})
	require.Nil(t, rpcErr)

	result, rpcErr := call(t, server, "pharma_calculateAccrual", map[string]interface{}{
		"claimKey":     claimKey,
		"manufacturer": manufacturerAddr,
		"wacPrice":     1_000_000,
		"volume":       10_001,
	})
	require.Nil(t, rpcErr)
	var accrued accrualResult
	require.NoError(t, json.Unmarshal(result, &accrued))
	require.Equal(t, uint64(200_000), accrued.Amount)

	result, rpcErr = call(t, server, "pharma_getAccrual", map[string]string{"claimKey": claimKey})
	require.Nil(t, rpcErr)
	require.NoError(t, json.Unmarshal(result, &accrued))
	require.Equal(t, uint64(200_000), accrued.Amount)

	result, rpcErr = call(t, server, "pharma_getManufacturerTotal", map[string]string{"manufacturer": manufacturerAddr})
	require.Nil(t, rpcErr)
	var total struct {
		Total string `json:"total"`
	}
	require.NoError(t, json.Unmarshal(result, &total))
	require.Equal(t, "200000", total.Total)
}

func TestBatchRecallOverRPC(t *testing.T) {
	server := newTestServer(t)

	_, rpcErr := call(t, server, "pharma_submitClaim", map[string]interface{}{
		"claimId":        "RX-2024-100",
		"ndcCode":        "0002-8215-01",
		"pharmacyNpi":    "1234567890",
		"dispenseDate":   20240115,
		"oracleSig":      "0xdeadbeef",
		"batchNumber":    "B-7731",
		"lotNumber":      "L-09",
		"expirationDate": 1_800_000_000,
		"countryCode":    "US",
	})
	require.Nil(t, rpcErr)

	result, rpcErr := call(t, server, "pharma_getBatchClaims", map[string]string{
		"ndcCode":     "0002-8215-01",
		"batchNumber": "B-7731",
	})
	require.Nil(t, rpcErr)
	var count struct {
		Count uint64 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(result, &count))
	require.Equal(t, uint64(1), count.Count)

	result, rpcErr = call(t, server, "pharma_issueRecall", map[string]interface{}{
		"ndcCode":     "0002-8215-01",
		"batchNumber": "B-7731",
		"reason":      "contamination",
		"severity":    1,
	})
	require.Nil(t, rpcErr)
	var issued issueRecallResult
	require.NoError(t, json.Unmarshal(result, &issued))
	require.Equal(t, "0002-8215-01-B-7731", issued.BatchID)
	require.Equal(t, uint64(1), issued.AffectedClaims)

	result, rpcErr = call(t, server, "pharma_isBatchRecalled", map[string]string{
		"ndcCode":     "0002-8215-01",
		"batchNumber": "B-7731",
	})
	require.Nil(t, rpcErr)
	var recalled batchRecalledResult
	require.NoError(t, json.Unmarshal(result, &recalled))
	require.True(t, recalled.Recalled)
	require.Equal(t, "contamination", recalled.Reason)

	// A recall without a valid severity is refused at the boundary.
	_, rpcErr = call(t, server, "pharma_issueRecall", map[string]interface{}{
		"ndcCode":     "0002-8215-01",
		"batchNumber": "B-7731",
		"reason":      "contamination",
		"severity":    9,
	})
	require.NotNil(t, rpcErr)
	require.Equal(t, codeInvalidParams, rpcErr.Code)
}

func TestDisputeLogging(t *testing.T) {
	server := newTestServer(t)
	claimKey := submitTestClaim(t, server)

	result, rpcErr := call(t, server, "pharma_logDispute", map[string]interface{}{
		"claimKey":       claimKey,
		"disputingParty": pharmacyAddr,
		"reason":         "quantity mismatch",
		"disputedAmount": 5_000,
	})
	require.Nil(t, rpcErr)
	var logged struct {
		DisputeID string `json:"disputeId"`
	}
	require.NoError(t, json.Unmarshal(result, &logged))
	require.NotEmpty(t, logged.DisputeID)

	result, rpcErr = call(t, server, "pharma_getAuditTrail", map[string]string{"claimKey": claimKey})
	require.Nil(t, rpcErr)
	var trail struct {
		Disputes []audit.DisputeRecord `json:"disputes"`
	}
	require.NoError(t, json.Unmarshal(result, &trail))
	require.Len(t, trail.Disputes, 1)
	require.Equal(t, "quantity mismatch", trail.Disputes[0].Reason)
}

func TestUnknownMethod(t *testing.T) {
	server := newTestServer(t)
	_, rpcErr := call(t, server, "pharma_noSuchMethod")
	require.NotNil(t, rpcErr)
	require.Equal(t, codeMethodNotFound, rpcErr.Code)
}

func TestMalformedParams(t *testing.T) {
	server := newTestServer(t)
	_, rpcErr := call(t, server, "pharma_isSettled", map[string]string{"claimKey": "not-hex"})
	require.NotNil(t, rpcErr)
	require.Equal(t, codeInvalidParams, rpcErr.Code)
}
