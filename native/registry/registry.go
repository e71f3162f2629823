package registry

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pharmaclear/core/events"
)

var (
	// ErrDuplicateClaim is the hard rejection of a resubmitted claim. This
	// is the core anti-fraud mechanism of the trust layer.
	ErrDuplicateClaim = errors.New("registry: claim already submitted")
	// ErrMissingOracleSig is returned when a claim arrives without the
	// oracle attestation that proves it came from a pharmacy system.
	ErrMissingOracleSig = errors.New("registry: oracle signature required")
	// ErrClaimNotFound is returned by metadata lookups for unknown keys.
	ErrClaimNotFound = errors.New("registry: claim not found")
	// ErrRecallReason is returned when a recall carries no reason.
	ErrRecallReason = errors.New("registry: recall reason required")
	// ErrRecallSeverity is returned for a severity outside the 1..3 FDA
	// classification range.
	ErrRecallSeverity = errors.New("registry: recall severity must be 1, 2 or 3")

	errNilState = errors.New("registry: state not configured")
)

// State persists the seen-claim index, the metadata blob per claim key, and
// the batch provenance records.
type State interface {
	ClaimExists(key [32]byte) (bool, error)
	ClaimPut(key [32]byte, metadata []byte) error
	ClaimMetadata(key [32]byte) ([]byte, bool, error)
	BatchGet(id string) ([]byte, bool, error)
	BatchPut(id string, record []byte) error
	RecallGet(id string) ([]byte, bool, error)
	RecallPut(id string, record []byte) error
}

// Claim carries the fields a pharmacy system submits for registration. The
// batch, lot, expiration and country fields are optional provenance data; a
// claim without them is still accepted.
type Claim struct {
	ClaimID        string
	NDCCode        string
	PharmacyNPI    string
	DispenseDate   uint64
	OracleSig      []byte
	BatchNumber    string
	LotNumber      string
	ExpirationDate uint64
	CountryCode    string
}

// Metadata is the stored record for a registered claim.
type Metadata struct {
	ClaimID        string `json:"claimId"`
	NDCCode        string `json:"ndc"`
	PharmacyNPI    string `json:"npi"`
	DispenseDate   uint64 `json:"dispenseDate"`
	BatchNumber    string `json:"batch,omitempty"`
	LotNumber      string `json:"lot,omitempty"`
	ExpirationDate uint64 `json:"expiry,omitempty"`
	CountryCode    string `json:"country,omitempty"`
}

// Batch is the stored provenance record for a manufacturer batch.
type Batch struct {
	NDCCode     string `json:"ndc"`
	BatchNumber string `json:"batch"`
	Registered  int64  `json:"registered"`
	ClaimCount  uint64 `json:"claimCount"`
}

// Recall is the stored record of an issued drug recall.
type Recall struct {
	Reason   string `json:"reason"`
	Severity uint64 `json:"severity"`
	IssuedAt int64  `json:"issuedAt"`
}

// Engine is the claim registry: it derives deterministic claim keys, rejects
// duplicates, stores verified claim metadata, and tracks batch provenance and
// recalls.
type Engine struct {
	state   State
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a registry engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state State) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for expiration checks and batch
// registration stamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now != nil {
		e.nowFn = now
	}
}

// BatchID derives the canonical identifier for a manufacturer batch.
func BatchID(ndcCode, batchNumber string) string {
	return ndcCode + "-" + batchNumber
}

// ClaimKey derives the deterministic identifier for a claim: the SHA-256
// digest over every submitted field. The same claim always hashes to the same
// key, which is what makes duplicate rejection airtight.
func ClaimKey(c *Claim) [32]byte {
	var date [8]byte
	binary.BigEndian.PutUint64(date[:], c.DispenseDate)
	h := sha256.New()
	h.Write([]byte(c.ClaimID))
	h.Write([]byte(c.NDCCode))
	h.Write([]byte(c.PharmacyNPI))
	h.Write(date[:])
	h.Write(c.OracleSig)
	var key [32]byte
	copy(key[:], h.Sum(nil))
	return key
}

// Submit registers a claim and returns its key. Duplicates are rejected
// outright; a claim with an empty oracle signature never enters the system.
func (e *Engine) Submit(c *Claim) ([32]byte, error) {
	var key [32]byte
	if e == nil || e.state == nil {
		return key, errNilState
	}
	if c == nil {
		return key, fmt.Errorf("registry: nil claim")
	}
	if len(c.OracleSig) == 0 {
		return key, ErrMissingOracleSig
	}
	if strings.TrimSpace(c.ClaimID) == "" {
		return key, fmt.Errorf("registry: claim id required")
	}
	key = ClaimKey(c)
	exists, err := e.state.ClaimExists(key)
	if err != nil {
		return key, err
	}
	if exists {
		return key, ErrDuplicateClaim
	}
	metadata, err := json.Marshal(Metadata{
		ClaimID:        c.ClaimID,
		NDCCode:        c.NDCCode,
		PharmacyNPI:    c.PharmacyNPI,
		DispenseDate:   c.DispenseDate,
		BatchNumber:    c.BatchNumber,
		LotNumber:      c.LotNumber,
		ExpirationDate: c.ExpirationDate,
		CountryCode:    c.CountryCode,
	})
	if err != nil {
		return key, err
	}
	if err := e.state.ClaimPut(key, metadata); err != nil {
		return key, err
	}
	if c.BatchNumber != "" {
		if err := e.trackBatch(key, c); err != nil {
			return key, err
		}
	}
	if c.ExpirationDate > 0 && c.ExpirationDate < uint64(e.nowFn()) {
		e.emit(events.ExpiredDrugDispensed{
			ClaimKey:       key,
			NDCCode:        c.NDCCode,
			PharmacyNPI:    c.PharmacyNPI,
			ExpirationDate: c.ExpirationDate,
		})
	}
	e.emit(events.ClaimSubmitted{
		ClaimKey:     key,
		ClaimID:      c.ClaimID,
		NDCCode:      c.NDCCode,
		PharmacyNPI:  c.PharmacyNPI,
		DispenseDate: c.DispenseDate,
	})
	return key, nil
}

// trackBatch links a claim to its batch record, creating the record on first
// sight. Claims against a recalled batch are still registered; the dispense
// is flagged so downstream compliance can act on it.
func (e *Engine) trackBatch(key [32]byte, c *Claim) error {
	id := BatchID(c.NDCCode, c.BatchNumber)
	batch, ok, err := e.batchGet(id)
	if err != nil {
		return err
	}
	if !ok {
		batch = &Batch{
			NDCCode:     c.NDCCode,
			BatchNumber: c.BatchNumber,
			Registered:  e.nowFn(),
		}
	}
	batch.ClaimCount++
	if err := e.batchPut(id, batch); err != nil {
		return err
	}
	recalled, err := e.IsBatchRecalled(c.NDCCode, c.BatchNumber)
	if err != nil {
		return err
	}
	if recalled {
		e.emit(events.RecalledDrugDispensed{
			ClaimKey:    key,
			BatchID:     id,
			PharmacyNPI: c.PharmacyNPI,
		})
	}
	return nil
}

// IssueRecall marks a batch as recalled and reports how many registered
// claims it affects. A recall may precede the first claim against the batch.
func (e *Engine) IssueRecall(ndcCode, batchNumber, reason string, severity uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if strings.TrimSpace(reason) == "" {
		return 0, ErrRecallReason
	}
	if severity < 1 || severity > 3 {
		return 0, ErrRecallSeverity
	}
	id := BatchID(ndcCode, batchNumber)
	record, err := json.Marshal(Recall{
		Reason:   reason,
		Severity: severity,
		IssuedAt: e.nowFn(),
	})
	if err != nil {
		return 0, err
	}
	if err := e.state.RecallPut(id, record); err != nil {
		return 0, err
	}
	var affected uint64
	if batch, ok, err := e.batchGet(id); err != nil {
		return 0, err
	} else if ok {
		affected = batch.ClaimCount
	}
	e.emit(events.DrugRecallIssued{
		BatchID:        id,
		Reason:         reason,
		Severity:       severity,
		AffectedClaims: affected,
		Timestamp:      e.nowFn(),
	})
	return affected, nil
}

// IsBatchRecalled reports whether a batch is under recall.
func (e *Engine) IsBatchRecalled(ndcCode, batchNumber string) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	_, ok, err := e.state.RecallGet(BatchID(ndcCode, batchNumber))
	return ok, err
}

// RecallFor returns the recall record for a batch, if one was issued.
func (e *Engine) RecallFor(ndcCode, batchNumber string) (*Recall, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	raw, ok, err := e.state.RecallGet(BatchID(ndcCode, batchNumber))
	if err != nil || !ok {
		return nil, false, err
	}
	var rec Recall
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("registry: corrupt recall record: %w", err)
	}
	return &rec, true, nil
}

// BatchClaimCount returns the number of claims registered against a batch,
// zero for an unknown batch.
func (e *Engine) BatchClaimCount(ndcCode, batchNumber string) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	batch, ok, err := e.batchGet(BatchID(ndcCode, batchNumber))
	if err != nil || !ok {
		return 0, err
	}
	return batch.ClaimCount, nil
}

func (e *Engine) batchGet(id string) (*Batch, bool, error) {
	raw, ok, err := e.state.BatchGet(id)
	if err != nil || !ok {
		return nil, false, err
	}
	var batch Batch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, false, fmt.Errorf("registry: corrupt batch record: %w", err)
	}
	return &batch, true, nil
}

func (e *Engine) batchPut(id string, batch *Batch) error {
	raw, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	return e.state.BatchPut(id, raw)
}

// Verify reports whether a claim key exists in the registry.
func (e *Engine) Verify(key [32]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.ClaimExists(key)
}

// MetadataFor returns the stored record for a claim key.
func (e *Engine) MetadataFor(key [32]byte) (*Metadata, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	raw, ok, err := e.state.ClaimMetadata(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrClaimNotFound
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("registry: corrupt metadata: %w", err)
	}
	return &meta, nil
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}
