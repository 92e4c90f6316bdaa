package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/information-sharing-networks/stp-demo/internal/token"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IssuedRecord is a party's view of a fully issued token
type IssuedRecord struct {
	Token *token.Token `json:"token"`

	// PeerURL is the counterparty's revision endpoint (stp://...)
	PeerURL string `json:"peer_url"`

	// InboundID is the trailing id of the revision URL this party handed out
	InboundID string `json:"inbound_id"`

	// Fingerprint is the SHA-512 of the provider signature of Token
	Fingerprint string `json:"fingerprint"`

	// Sequence is the last applied revision sequence number
	Sequence uint64 `json:"sequence"`

	// LastReply is the responder's reply to the last applied revision, replayed to exact duplicates
	LastReply *CachedReply `json:"last_reply,omitempty"`

	// PendingModification is the vendor's proposal still awaiting the provider's decision
	PendingModification *token.Modification `json:"pending_modification,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// CachedReply identifies a processed revision and the reply that was sent
type CachedReply struct {
	Sequence  uint64          `json:"sequence"`
	Challenge string          `json:"challenge"`
	Reply     json.RawMessage `json:"reply"`
}

// ID is the transaction id
func (r *IssuedRecord) ID() string {
	return r.Token.Transaction.ID
}

// Repository persists issued records keyed by transaction id.
// Read-modify-write sequences must be serialized by the caller (see KeyedMutex).
type Repository interface {
	Get(ctx context.Context, id string) (*IssuedRecord, error)
	Put(ctx context.Context, rec *IssuedRecord) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*IssuedRecord, error)
	Close() error
}

const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Options select and configure a repository backend
type Options struct {
	Backend string

	// BoltPath is the database file for the bolt backend
	BoltPath string

	// Pool is the connection pool for the postgres backend
	Pool *pgxpool.Pool
}

// OpenRepository creates the configured repository
func OpenRepository(ctx context.Context, opts Options) (Repository, error) {
	switch opts.Backend {
	case BackendMemory, "":
		return NewMemoryRepository(), nil
	case BackendBolt:
		return NewBoltRepository(opts.BoltPath)
	case BackendPostgres:
		if opts.Pool == nil {
			return nil, fmt.Errorf("postgres backend requires a connection pool")
		}
		return NewPostgresRepository(ctx, opts.Pool)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

func encodeRecord(rec *IssuedRecord) ([]byte, error) {
	if rec == nil || rec.Token == nil {
		return nil, fmt.Errorf("record has no token")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, WrapBackendError(err, "failed to encode record")
	}
	return data, nil
}

func decodeRecord(data []byte) (*IssuedRecord, error) {
	var rec IssuedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, WrapBackendError(err, "failed to decode record")
	}
	return &rec, nil
}
