package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketSettlements = []byte("settlements")
	bucketDisputes    = []byte("disputes")
	bucketFlags       = []byte("flags")

	// ErrNotFound is returned when no audit record exists for a key.
	ErrNotFound = errors.New("audit: record not found")
)

// SettlementRecord is the immutable fact written once per successful
// settlement. The settlement engine keeps no durable copy; this store is the
// system of record for regulators and dispute resolution.
type SettlementRecord struct {
	ID           string `json:"id"`
	ClaimKey     string `json:"claimKey"`
	Payee        string `json:"payee"`
	FeeRecipient string `json:"feeRecipient"`
	PayeeAmount  uint64 `json:"payeeAmount"`
	FeeAmount    uint64 `json:"feeAmount"`
	Timestamp    int64  `json:"timestamp"`
}

// DisputeRecord captures a party contesting a claim after the fact.
type DisputeRecord struct {
	ID             string    `json:"id"`
	ClaimKey       string    `json:"claimKey"`
	DisputingParty string    `json:"disputingParty"`
	Reason         string    `json:"reason"`
	DisputedAmount uint64    `json:"disputedAmount"`
	RecordedAt     time.Time `json:"recordedAt"`
}

// FlagRecord captures a regulatory warning, e.g. a formulary lock or a drug
// recall. The subject fields are filled per flag type.
type FlagRecord struct {
	ID           string    `json:"id"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	BatchID      string    `json:"batchId,omitempty"`
	ClaimKey     string    `json:"claimKey,omitempty"`
	FlagType     string    `json:"flagType"`
	Detail       string    `json:"detail"`
	RecordedAt   time.Time `json:"recordedAt"`
}

// Store persists the append-only audit rail in BoltDB. Records are only ever
// added; nothing here exposes an update or delete path.
type Store struct {
	db *bolt.DB
}

// NewStore initialises (and migrates) the Bolt-backed audit store.
func NewStore(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSettlements, bucketDisputes, bucketFlags} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendSettlement writes the settlement fact keyed by claim. A second write
// for the same claim key is refused: the rail records each settlement exactly
// once.
func (s *Store) AppendSettlement(rec SettlementRecord) error {
	if rec.ClaimKey == "" {
		return fmt.Errorf("audit: settlement record missing claim key")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSettlements)
		if bucket.Get([]byte(rec.ClaimKey)) != nil {
			return fmt.Errorf("audit: settlement for claim %s already recorded", rec.ClaimKey)
		}
		return bucket.Put([]byte(rec.ClaimKey), payload)
	})
}

// SettlementByClaim returns the recorded settlement for a claim key.
func (s *Store) SettlementByClaim(claimKey string) (*SettlementRecord, error) {
	var rec SettlementRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		payload := tx.Bucket(bucketSettlements).Get([]byte(claimKey))
		if payload == nil {
			return ErrNotFound
		}
		return json.Unmarshal(payload, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// AppendDispute records a dispute against a claim.
func (s *Store) AppendDispute(rec DisputeRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	key := rec.ClaimKey + "/" + rec.ID
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDisputes).Put([]byte(key), payload)
	}); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// DisputesByClaim returns every dispute recorded against a claim key.
func (s *Store) DisputesByClaim(claimKey string) ([]DisputeRecord, error) {
	prefix := []byte(claimKey + "/")
	var out []DisputeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketDisputes).Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			var rec DisputeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendFlag records a regulatory flag.
func (s *Store) AppendFlag(rec FlagRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFlags).Put([]byte(rec.ID), payload)
	}); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// ListFlags returns every recorded regulatory flag.
func (s *Store) ListFlags() ([]FlagRecord, error) {
	var out []FlagRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFlags).ForEach(func(_, v []byte) error {
			var rec FlagRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
