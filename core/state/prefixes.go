package state

import ethcrypto "github.com/ethereum/go-ethereum/crypto"

var (
	accountPrefix       = []byte("account:")
	claimSeenPrefix     = []byte("registry/seen:")
	claimMetaPrefix     = []byte("registry/meta:")
	batchPrefix         = []byte("registry/batch:")
	recallPrefix        = []byte("registry/recall:")
	settledPrefix       = []byte("settlement/settled:")
	schedulePrefix      = []byte("rebate/schedule:")
	accrualPrefix       = []byte("rebate/accrual:")
	totalPrefix         = []byte("rebate/total:")
	escrowBalanceKey    = ethcrypto.Keccak256([]byte("escrow/pool"))
	genesisAppliedKey   = ethcrypto.Keccak256([]byte("genesis/applied"))
	schemaVersionKey    = ethcrypto.Keccak256([]byte("schema/version"))
	currentSchemaNumber = uint64(1)
)

func prefixedKey(prefix, suffix []byte) []byte {
	buf := make([]byte, 0, len(prefix)+len(suffix))
	buf = append(buf, prefix...)
	buf = append(buf, suffix...)
	return ethcrypto.Keccak256(buf)
}

func accountKey(addr [20]byte) []byte  { return prefixedKey(accountPrefix, addr[:]) }
func claimSeenKey(key [32]byte) []byte { return prefixedKey(claimSeenPrefix, key[:]) }
func claimMetaKey(key [32]byte) []byte { return prefixedKey(claimMetaPrefix, key[:]) }
func settledKey(key [32]byte) []byte   { return prefixedKey(settledPrefix, key[:]) }
func batchKey(id string) []byte        { return prefixedKey(batchPrefix, []byte(id)) }
func recallKey(id string) []byte       { return prefixedKey(recallPrefix, []byte(id)) }
func scheduleKey(addr [20]byte) []byte { return prefixedKey(schedulePrefix, addr[:]) }
func accrualKey(key [32]byte) []byte   { return prefixedKey(accrualPrefix, key[:]) }
func totalKey(addr [20]byte) []byte    { return prefixedKey(totalPrefix, addr[:]) }
