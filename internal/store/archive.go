package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// ArchiveBatchSize bounds how many rows one archival run snapshots, so a
// large backlog doesn't build an unbounded JSON payload in memory.
const ArchiveBatchSize = 500

// archiveBatch is the JSON snapshot shape uploaded per run. Rows are
// never deleted from sqlite — archival is an additional durability copy,
// not a move (§3: "never deleted by the core; archival is out of scope"
// for deletion, but a soft-archive snapshot is a supplemented feature per
// SPEC_FULL.md §4).
type archiveBatch struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Checksum    string            `json:"checksum_sha256"`
	SignalIDs   []string          `json:"signal_ids"`
	Signals     []json.RawMessage `json:"signals"`
}

// Archiver uploads soft-archive snapshots of signals older than a
// configured age to S3-compatible storage, mirroring the stage ->
// checksum -> upload sequence the teacher's R2 backup service uses for
// full database backups, applied here to row batches instead.
type Archiver struct {
	store  *Store
	log    zerolog.Logger
	s3     *s3.Client
	bucket string
}

// NewArchiver builds an Archiver over an existing s3.Client. Pass an
// empty bucket to leave archival disabled (checked by callers before
// scheduling runs).
func NewArchiver(s *Store, log zerolog.Logger, s3Client *s3.Client, bucket string) *Archiver {
	return &Archiver{
		store:  s,
		log:    log.With().Str("component", "signal_archiver").Logger(),
		s3:     s3Client,
		bucket: bucket,
	}
}

// ArchiveOlderThan stages signals whose generated_at predates the cutoff
// into a checksummed JSON batch and uploads it. Sqlite rows are left in
// place; only an `archived` flag is set so subsequent runs don't re-stage
// the same rows.
func (a *Archiver) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := a.store.db.Conn().QueryContext(ctx, `
		SELECT id, pair, timeframe, generated_at, action, confidence, strength,
			entry_price, stop_loss, take_profit, risk_reward_ratio,
			market_condition, source, model_version, factors_json,
			status, expires_at, triggered_at, triggered_price, actual_outcome
		FROM signals WHERE archived = 0 AND generated_at < ? LIMIT ?`,
		cutoff.UTC().Format(time.RFC3339Nano), ArchiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("archiver: querying candidates: %w", err)
	}
	defer rows.Close()

	var ids []string
	var snapshots []json.RawMessage
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return 0, fmt.Errorf("archiver: scanning row: %w", err)
		}
		snapshot, err := json.Marshal(sig)
		if err != nil {
			return 0, fmt.Errorf("archiver: marshaling snapshot: %w", err)
		}
		ids = append(ids, sig.ID)
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("archiver: iterating candidates: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	batch := archiveBatch{GeneratedAt: time.Now().UTC(), SignalIDs: ids, Signals: snapshots}
	payload, err := json.Marshal(batch)
	if err != nil {
		return 0, fmt.Errorf("archiver: marshaling batch: %w", err)
	}
	sum := sha256.Sum256(payload)
	batch.Checksum = hex.EncodeToString(sum[:])
	payload, err = json.Marshal(batch)
	if err != nil {
		return 0, fmt.Errorf("archiver: marshaling checksummed batch: %w", err)
	}

	key := fmt.Sprintf("signals/%s.json", batch.GeneratedAt.Format("20060102T150405Z"))
	uploader := manager.NewUploader(a.s3)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
		Body:   bytes.NewReader(payload),
	})
	if err != nil {
		return 0, fmt.Errorf("archiver: uploading batch: %w", err)
	}

	if err := a.markArchived(ctx, ids); err != nil {
		return 0, fmt.Errorf("archiver: marking archived: %w", err)
	}

	a.log.Info().Int("count", len(ids)).Str("key", key).Msg("archived signal batch")
	return len(ids), nil
}

func (a *Archiver) markArchived(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := a.store.db.Conn().ExecContext(ctx, `UPDATE signals SET archived = 1 WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}
