// Package storage provides PostgreSQL implementation of the Store interface.
// This implementation is intended for production use with persistent data storage.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/RegistryAccord/registryaccord-phigital-go/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// PgxPool is the subset of *pgxpool.Pool the store uses. pgxmock pools
// satisfy it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// postgres provides persistent storage for QR records, NFC tags, inspection
// reports and the verification history.
type postgres struct {
	db PgxPool // Connection pool to PostgreSQL database
}

// NewPostgres creates a new PostgreSQL storage implementation.
// It establishes a connection pool to the database and initializes the schema.
func NewPostgres(ctx context.Context, dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: invalid database DSN")
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: initialize schema")
	}

	return &postgres{db: pool}, nil
}

// NewPostgresFromPool wraps an existing pool without touching the schema.
func NewPostgresFromPool(pool PgxPool) Store {
	return &postgres{db: pool}
}

// initSchema creates all required tables and indexes if they don't already exist.
func initSchema(ctx context.Context, db PgxPool) error {
	schema := `
		-- QR verification records, keyed by verification hash
		CREATE TABLE IF NOT EXISTS qr_records (
		    verification_hash TEXT PRIMARY KEY,
		    token_id BIGINT NOT NULL,
		    contract_address TEXT NOT NULL,
		    network_id BIGINT NOT NULL,
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		    metadata JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_qr_records_token_id ON qr_records(token_id);

		-- NFC tag records; keys live in their own table
		CREATE TABLE IF NOT EXISTS nfc_tags (
		    tag_id TEXT PRIMARY KEY,
		    token_id BIGINT NOT NULL,
		    contract_address TEXT NOT NULL,
		    network_id BIGINT NOT NULL,
		    verification_hash TEXT NOT NULL,
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		    metadata JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_nfc_tags_token_id ON nfc_tags(token_id);

		CREATE TABLE IF NOT EXISTS nfc_tag_keys (
		    tag_id TEXT PRIMARY KEY REFERENCES nfc_tags(tag_id) ON DELETE CASCADE,
		    encryption_key TEXT NOT NULL
		);

		-- Latest inspection report per asset
		CREATE TABLE IF NOT EXISTS inspection_reports (
		    asset_id BIGINT PRIMARY KEY,
		    inspector_id TEXT NOT NULL,
		    physical_condition TEXT NOT NULL,
		    authenticity TEXT NOT NULL,
		    bridging_quality TEXT NOT NULL,
		    notes TEXT NOT NULL DEFAULT '',
		    photos JSONB,
		    inspected_at TIMESTAMP WITH TIME ZONE NOT NULL,
		    signature TEXT NOT NULL
		);

		-- Verification history (append-only)
		CREATE TABLE IF NOT EXISTS verification_history (
		    seq BIGSERIAL PRIMARY KEY,
		    id TEXT NOT NULL UNIQUE,
		    token_id BIGINT,
		    verified BOOLEAN NOT NULL,
		    method TEXT NOT NULL,
		    result JSONB NOT NULL,
		    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_verification_history_token_id ON verification_history(token_id);
	`
	_, err := db.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool
func (p *postgres) Close() error {
	p.db.Close()
	return nil
}

func (p *postgres) Ping(ctx context.Context) error {
	return eris.Wrap(p.db.Ping(ctx), "postgres: ping")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const qrColumns = `verification_hash, token_id, contract_address, network_id, created_at, metadata`

func (p *postgres) PutQRRecord(ctx context.Context, rec model.VerificationRecord) error {
	md, err := marshalJSON(rec.Metadata)
	if err != nil {
		return err
	}
	query := `INSERT INTO qr_records (` + qrColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (verification_hash) DO UPDATE
	          SET token_id = $2, contract_address = $3, network_id = $4, created_at = $5, metadata = $6`
	_, err = p.db.Exec(ctx, query, rec.VerificationHash, rec.TokenID, rec.ContractAddress, rec.NetworkID, rec.CreatedAt, md)
	return eris.Wrap(err, "postgres: put qr record")
}

func scanQRRecord(row pgx.Row) (*model.VerificationRecord, error) {
	var rec model.VerificationRecord
	var md []byte
	if err := row.Scan(&rec.VerificationHash, &rec.TokenID, &rec.ContractAddress, &rec.NetworkID, &rec.CreatedAt, &md); err != nil {
		return nil, err
	}
	meta, err := unmarshalMetadata(md)
	if err != nil {
		return nil, err
	}
	rec.Metadata = meta
	return &rec, nil
}

func (p *postgres) GetQRRecord(ctx context.Context, hash string) (*model.VerificationRecord, error) {
	rec, err := scanQRRecord(p.db.QueryRow(ctx, `SELECT `+qrColumns+` FROM qr_records WHERE verification_hash = $1`, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: get qr record")
	}
	return rec, nil
}

func (p *postgres) ListQRRecords(ctx context.Context) ([]model.VerificationRecord, error) {
	rows, err := p.db.Query(ctx, `SELECT `+qrColumns+` FROM qr_records ORDER BY created_at, verification_hash`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list qr records")
	}
	defer rows.Close()

	out := []model.VerificationRecord{}
	for rows.Next() {
		rec, err := scanQRRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan qr record")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate qr records")
}

func (p *postgres) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := p.db.QueryRow(ctx, query, args...).Scan(&ok); err != nil {
		return false, eris.Wrap(err, "postgres: exists")
	}
	return ok, nil
}

func (p *postgres) count(ctx context.Context, table string) (int, error) {
	var n int64
	if err := p.db.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "postgres: count %s", table)
	}
	return int(n), nil
}

func (p *postgres) HasQRRecordForToken(ctx context.Context, tokenID int64) (bool, error) {
	return p.exists(ctx, `SELECT EXISTS (SELECT 1 FROM qr_records WHERE token_id = $1)`, tokenID)
}

func (p *postgres) CountQRRecords(ctx context.Context) (int, error) {
	return p.count(ctx, "qr_records")
}

func (p *postgres) ClearQRRecords(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `DELETE FROM qr_records`)
	return eris.Wrap(err, "postgres: clear qr records")
}

// PutTag writes the tag record and its key in one transaction.
func (p *postgres) PutTag(ctx context.Context, rec model.NFCTagRecord) error {
	md, err := marshalJSON(rec.Metadata)
	if err != nil {
		return err
	}
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin put tag")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO nfc_tags (tag_id, token_id, contract_address, network_id, verification_hash, created_at, metadata)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          ON CONFLICT (tag_id) DO UPDATE
	          SET token_id = $2, contract_address = $3, network_id = $4, verification_hash = $5, created_at = $6, metadata = $7`,
		rec.TagID, rec.TokenID, rec.ContractAddress, rec.NetworkID, rec.VerificationHash, rec.CreatedAt, md)
	if err != nil {
		return eris.Wrap(err, "postgres: put tag")
	}
	_, err = tx.Exec(ctx, `INSERT INTO nfc_tag_keys (tag_id, encryption_key) VALUES ($1, $2)
	          ON CONFLICT (tag_id) DO UPDATE SET encryption_key = $2`, rec.TagID, rec.EncryptionKey)
	if err != nil {
		return eris.Wrap(err, "postgres: put tag key")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit put tag")
}

const tagSelect = `SELECT t.tag_id, t.token_id, t.contract_address, t.network_id, t.verification_hash, t.created_at, t.metadata, k.encryption_key
	FROM nfc_tags t JOIN nfc_tag_keys k ON k.tag_id = t.tag_id`

func scanTag(row pgx.Row) (*model.NFCTagRecord, error) {
	var rec model.NFCTagRecord
	var md []byte
	if err := row.Scan(&rec.TagID, &rec.TokenID, &rec.ContractAddress, &rec.NetworkID, &rec.VerificationHash, &rec.CreatedAt, &md, &rec.EncryptionKey); err != nil {
		return nil, err
	}
	meta, err := unmarshalMetadata(md)
	if err != nil {
		return nil, err
	}
	rec.Metadata = meta
	return &rec, nil
}

func (p *postgres) GetTag(ctx context.Context, tagID string) (*model.NFCTagRecord, error) {
	rec, err := scanTag(p.db.QueryRow(ctx, tagSelect+` WHERE t.tag_id = $1`, tagID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: get tag")
	}
	return rec, nil
}

func (p *postgres) GetTagKey(ctx context.Context, tagID string) (string, error) {
	var key string
	err := p.db.QueryRow(ctx, `SELECT encryption_key FROM nfc_tag_keys WHERE tag_id = $1`, tagID).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", eris.Wrap(err, "postgres: get tag key")
	}
	return key, nil
}

func (p *postgres) UpdateTagMetadata(ctx context.Context, tagID string, md *model.Metadata) error {
	b, err := marshalJSON(md)
	if err != nil {
		return err
	}
	tag, err := p.db.Exec(ctx, `UPDATE nfc_tags SET metadata = $1 WHERE tag_id = $2`, b, tagID)
	if err != nil {
		return eris.Wrap(err, "postgres: update tag metadata")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTag removes the record; the key row goes with it through the cascade.
func (p *postgres) DeleteTag(ctx context.Context, tagID string) (bool, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM nfc_tags WHERE tag_id = $1`, tagID)
	if err != nil {
		return false, eris.Wrap(err, "postgres: delete tag")
	}
	return tag.RowsAffected() > 0, nil
}

func (p *postgres) ListTags(ctx context.Context) ([]model.NFCTagRecord, error) {
	rows, err := p.db.Query(ctx, tagSelect+` ORDER BY t.tag_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tags")
	}
	defer rows.Close()

	out := []model.NFCTagRecord{}
	for rows.Next() {
		rec, err := scanTag(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan tag")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate tags")
}

func (p *postgres) HasTagForToken(ctx context.Context, tokenID int64) (bool, error) {
	return p.exists(ctx, `SELECT EXISTS (SELECT 1 FROM nfc_tags WHERE token_id = $1)`, tokenID)
}

func (p *postgres) CountTags(ctx context.Context) (int, error) {
	return p.count(ctx, "nfc_tags")
}

func (p *postgres) ClearTags(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `DELETE FROM nfc_tags`)
	return eris.Wrap(err, "postgres: clear tags")
}

const reportColumns = `asset_id, inspector_id, physical_condition, authenticity, bridging_quality, notes, photos, inspected_at, signature`

func (p *postgres) PutInspectionReport(ctx context.Context, rep model.InspectionReport) error {
	photos, err := marshalJSON(rep.Photos)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx, `INSERT INTO inspection_reports (`+reportColumns+`)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          ON CONFLICT (asset_id) DO UPDATE
	          SET inspector_id = $2, physical_condition = $3, authenticity = $4, bridging_quality = $5,
	              notes = $6, photos = $7, inspected_at = $8, signature = $9`,
		rep.AssetID, rep.InspectorID, string(rep.PhysicalCondition), string(rep.Authenticity), string(rep.BridgingQuality),
		rep.Notes, photos, rep.Timestamp, rep.Signature)
	return eris.Wrap(err, "postgres: put inspection report")
}

func scanReport(row pgx.Row) (*model.InspectionReport, error) {
	var rep model.InspectionReport
	var cond, auth, quality string
	var photos []byte
	if err := row.Scan(&rep.AssetID, &rep.InspectorID, &cond, &auth, &quality, &rep.Notes, &photos, &rep.Timestamp, &rep.Signature); err != nil {
		return nil, err
	}
	rep.PhysicalCondition = model.Condition(cond)
	rep.Authenticity = model.Authenticity(auth)
	rep.BridgingQuality = model.BridgingQuality(quality)
	if len(photos) > 0 && string(photos) != "null" {
		if err := json.Unmarshal(photos, &rep.Photos); err != nil {
			return nil, eris.Wrap(err, "unmarshal photos")
		}
	}
	return &rep, nil
}

func (p *postgres) GetInspectionReport(ctx context.Context, assetID int64) (*model.InspectionReport, error) {
	rep, err := scanReport(p.db.QueryRow(ctx, `SELECT `+reportColumns+` FROM inspection_reports WHERE asset_id = $1`, assetID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: get inspection report")
	}
	return rep, nil
}

func (p *postgres) ListInspectionReports(ctx context.Context) ([]model.InspectionReport, error) {
	rows, err := p.db.Query(ctx, `SELECT `+reportColumns+` FROM inspection_reports ORDER BY asset_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list inspection reports")
	}
	defer rows.Close()

	out := []model.InspectionReport{}
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan inspection report")
		}
		out = append(out, *rep)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate inspection reports")
}

func (p *postgres) AppendVerification(ctx context.Context, res model.PhysicalVerificationResult) error {
	body, err := marshalJSON(res)
	if err != nil {
		return err
	}
	var tokenID *int64
	if res.TokenID != 0 {
		tokenID = &res.TokenID
	}
	_, err = p.db.Exec(ctx, `INSERT INTO verification_history (id, token_id, verified, method, result, occurred_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`,
		res.ID, tokenID, res.Verified, string(res.VerificationMethod), body, res.Timestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return eris.Wrap(err, "postgres: append verification")
	}
	return nil
}

func (p *postgres) listHistory(ctx context.Context, query string, args ...any) ([]model.PhysicalVerificationResult, error) {
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list verifications")
	}
	defer rows.Close()

	out := []model.PhysicalVerificationResult{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "postgres: scan verification")
		}
		var res model.PhysicalVerificationResult
		if err := json.Unmarshal(body, &res); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal verification")
		}
		out = append(out, res)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate verifications")
}

func (p *postgres) ListVerifications(ctx context.Context) ([]model.PhysicalVerificationResult, error) {
	return p.listHistory(ctx, `SELECT result FROM verification_history ORDER BY seq`)
}

func (p *postgres) ListVerificationsForAsset(ctx context.Context, tokenID int64) ([]model.PhysicalVerificationResult, error) {
	return p.listHistory(ctx, `SELECT result FROM verification_history WHERE token_id = $1 ORDER BY seq`, tokenID)
}

func (p *postgres) ClearVerifications(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `DELETE FROM verification_history`)
	return eris.Wrap(err, "postgres: clear verifications")
}
