package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/RegistryAccord/registryaccord-phigital-go/internal/model"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// sqliteStore implements Store on a single SQLite file using modernc.org/sqlite.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path, configures WAL mode
// and creates the schema.
func NewSQLite(ctx context.Context, path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single writer keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteMigration); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: migrate")
	}
	return &sqliteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS qr_records (
	verification_hash TEXT PRIMARY KEY,
	token_id          INTEGER NOT NULL,
	contract_address  TEXT NOT NULL,
	network_id        INTEGER NOT NULL,
	created_at        TEXT NOT NULL,
	metadata          TEXT
);
CREATE INDEX IF NOT EXISTS idx_qr_records_token_id ON qr_records(token_id);

CREATE TABLE IF NOT EXISTS nfc_tags (
	tag_id            TEXT PRIMARY KEY,
	token_id          INTEGER NOT NULL,
	contract_address  TEXT NOT NULL,
	network_id        INTEGER NOT NULL,
	verification_hash TEXT NOT NULL,
	created_at        TEXT NOT NULL,
	metadata          TEXT
);
CREATE INDEX IF NOT EXISTS idx_nfc_tags_token_id ON nfc_tags(token_id);

CREATE TABLE IF NOT EXISTS nfc_tag_keys (
	tag_id         TEXT PRIMARY KEY REFERENCES nfc_tags(tag_id) ON DELETE CASCADE,
	encryption_key TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS inspection_reports (
	asset_id           INTEGER PRIMARY KEY,
	inspector_id       TEXT NOT NULL,
	physical_condition TEXT NOT NULL,
	authenticity       TEXT NOT NULL,
	bridging_quality   TEXT NOT NULL,
	notes              TEXT NOT NULL DEFAULT '',
	photos             TEXT,
	inspected_at       TEXT NOT NULL,
	signature          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS verification_history (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	token_id    INTEGER,
	verified    INTEGER NOT NULL,
	method      TEXT NOT NULL,
	result      TEXT NOT NULL,
	occurred_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verification_history_token_id ON verification_history(token_id);
`

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, eris.Wrapf(err, "sqlite: parse time %q", s)
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *sqliteStore) PutQRRecord(ctx context.Context, rec model.VerificationRecord) error {
	md, err := marshalJSON(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO qr_records (verification_hash, token_id, contract_address, network_id, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (verification_hash) DO UPDATE SET
		   token_id = excluded.token_id, contract_address = excluded.contract_address,
		   network_id = excluded.network_id, created_at = excluded.created_at, metadata = excluded.metadata`,
		rec.VerificationHash, rec.TokenID, rec.ContractAddress, rec.NetworkID, formatTime(rec.CreatedAt), string(md))
	return eris.Wrap(err, "sqlite: put qr record")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteQR(row scanner) (*model.VerificationRecord, error) {
	var rec model.VerificationRecord
	var created string
	var md sql.NullString
	if err := row.Scan(&rec.VerificationHash, &rec.TokenID, &rec.ContractAddress, &rec.NetworkID, &created, &md); err != nil {
		return nil, err
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = t
	if rec.Metadata, err = unmarshalMetadata([]byte(md.String)); err != nil {
		return nil, err
	}
	return &rec, nil
}

const sqliteQRSelect = `SELECT verification_hash, token_id, contract_address, network_id, created_at, metadata FROM qr_records`

func (s *sqliteStore) GetQRRecord(ctx context.Context, hash string) (*model.VerificationRecord, error) {
	rec, err := scanSQLiteQR(s.db.QueryRowContext(ctx, sqliteQRSelect+` WHERE verification_hash = ?`, hash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: get qr record")
	}
	return rec, nil
}

func (s *sqliteStore) ListQRRecords(ctx context.Context) ([]model.VerificationRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqliteQRSelect+` ORDER BY created_at, verification_hash`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list qr records")
	}
	defer rows.Close()

	out := []model.VerificationRecord{}
	for rows.Next() {
		rec, err := scanSQLiteQR(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan qr record")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate qr records")
}

func (s *sqliteStore) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, eris.Wrap(err, "sqlite: exists")
	}
	return n > 0, nil
}

func (s *sqliteStore) count(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "sqlite: count %s", table)
	}
	return n, nil
}

func (s *sqliteStore) HasQRRecordForToken(ctx context.Context, tokenID int64) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM qr_records WHERE token_id = ?)`, tokenID)
}

func (s *sqliteStore) CountQRRecords(ctx context.Context) (int, error) {
	return s.count(ctx, "qr_records")
}

func (s *sqliteStore) ClearQRRecords(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM qr_records`)
	return eris.Wrap(err, "sqlite: clear qr records")
}

func (s *sqliteStore) PutTag(ctx context.Context, rec model.NFCTagRecord) error {
	md, err := marshalJSON(rec.Metadata)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin put tag")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO nfc_tags (tag_id, token_id, contract_address, network_id, verification_hash, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tag_id) DO UPDATE SET
		   token_id = excluded.token_id, contract_address = excluded.contract_address, network_id = excluded.network_id,
		   verification_hash = excluded.verification_hash, created_at = excluded.created_at, metadata = excluded.metadata`,
		rec.TagID, rec.TokenID, rec.ContractAddress, rec.NetworkID, rec.VerificationHash, formatTime(rec.CreatedAt), string(md))
	if err != nil {
		return eris.Wrap(err, "sqlite: put tag")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO nfc_tag_keys (tag_id, encryption_key) VALUES (?, ?)
		 ON CONFLICT (tag_id) DO UPDATE SET encryption_key = excluded.encryption_key`,
		rec.TagID, rec.EncryptionKey)
	if err != nil {
		return eris.Wrap(err, "sqlite: put tag key")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit put tag")
}

const sqliteTagSelect = `SELECT t.tag_id, t.token_id, t.contract_address, t.network_id, t.verification_hash, t.created_at, t.metadata, k.encryption_key
	FROM nfc_tags t JOIN nfc_tag_keys k ON k.tag_id = t.tag_id`

func scanSQLiteTag(row scanner) (*model.NFCTagRecord, error) {
	var rec model.NFCTagRecord
	var created string
	var md sql.NullString
	if err := row.Scan(&rec.TagID, &rec.TokenID, &rec.ContractAddress, &rec.NetworkID, &rec.VerificationHash, &created, &md, &rec.EncryptionKey); err != nil {
		return nil, err
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = t
	if rec.Metadata, err = unmarshalMetadata([]byte(md.String)); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *sqliteStore) GetTag(ctx context.Context, tagID string) (*model.NFCTagRecord, error) {
	rec, err := scanSQLiteTag(s.db.QueryRowContext(ctx, sqliteTagSelect+` WHERE t.tag_id = ?`, tagID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: get tag")
	}
	return rec, nil
}

func (s *sqliteStore) GetTagKey(ctx context.Context, tagID string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx, `SELECT encryption_key FROM nfc_tag_keys WHERE tag_id = ?`, tagID).Scan(&key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", eris.Wrap(err, "sqlite: get tag key")
	}
	return key, nil
}

func (s *sqliteStore) UpdateTagMetadata(ctx context.Context, tagID string, md *model.Metadata) error {
	b, err := marshalJSON(md)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE nfc_tags SET metadata = ? WHERE tag_id = ?`, string(b), tagID)
	if err != nil {
		return eris.Wrap(err, "sqlite: update tag metadata")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) DeleteTag(ctx context.Context, tagID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM nfc_tags WHERE tag_id = ?`, tagID)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: delete tag")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) ListTags(ctx context.Context) ([]model.NFCTagRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqliteTagSelect+` ORDER BY t.tag_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tags")
	}
	defer rows.Close()

	out := []model.NFCTagRecord{}
	for rows.Next() {
		rec, err := scanSQLiteTag(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tag")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate tags")
}

func (s *sqliteStore) HasTagForToken(ctx context.Context, tokenID int64) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM nfc_tags WHERE token_id = ?)`, tokenID)
}

func (s *sqliteStore) CountTags(ctx context.Context) (int, error) {
	return s.count(ctx, "nfc_tags")
}

func (s *sqliteStore) ClearTags(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM nfc_tags`)
	return eris.Wrap(err, "sqlite: clear tags")
}

func (s *sqliteStore) PutInspectionReport(ctx context.Context, rep model.InspectionReport) error {
	photos, err := marshalJSON(rep.Photos)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO inspection_reports (asset_id, inspector_id, physical_condition, authenticity, bridging_quality, notes, photos, inspected_at, signature)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (asset_id) DO UPDATE SET
		   inspector_id = excluded.inspector_id, physical_condition = excluded.physical_condition,
		   authenticity = excluded.authenticity, bridging_quality = excluded.bridging_quality,
		   notes = excluded.notes, photos = excluded.photos, inspected_at = excluded.inspected_at,
		   signature = excluded.signature`,
		rep.AssetID, rep.InspectorID, string(rep.PhysicalCondition), string(rep.Authenticity), string(rep.BridgingQuality),
		rep.Notes, string(photos), formatTime(rep.Timestamp), rep.Signature)
	return eris.Wrap(err, "sqlite: put inspection report")
}

const sqliteReportSelect = `SELECT asset_id, inspector_id, physical_condition, authenticity, bridging_quality, notes, photos, inspected_at, signature FROM inspection_reports`

func scanSQLiteReport(row scanner) (*model.InspectionReport, error) {
	var rep model.InspectionReport
	var cond, auth, quality, inspected string
	var photos sql.NullString
	if err := row.Scan(&rep.AssetID, &rep.InspectorID, &cond, &auth, &quality, &rep.Notes, &photos, &inspected, &rep.Signature); err != nil {
		return nil, err
	}
	rep.PhysicalCondition = model.Condition(cond)
	rep.Authenticity = model.Authenticity(auth)
	rep.BridgingQuality = model.BridgingQuality(quality)
	t, err := parseTime(inspected)
	if err != nil {
		return nil, err
	}
	rep.Timestamp = t
	if p := strings.TrimSpace(photos.String); p != "" && p != "null" {
		if err := json.Unmarshal([]byte(p), &rep.Photos); err != nil {
			return nil, eris.Wrap(err, "unmarshal photos")
		}
	}
	return &rep, nil
}

func (s *sqliteStore) GetInspectionReport(ctx context.Context, assetID int64) (*model.InspectionReport, error) {
	rep, err := scanSQLiteReport(s.db.QueryRowContext(ctx, sqliteReportSelect+` WHERE asset_id = ?`, assetID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: get inspection report")
	}
	return rep, nil
}

func (s *sqliteStore) ListInspectionReports(ctx context.Context) ([]model.InspectionReport, error) {
	rows, err := s.db.QueryContext(ctx, sqliteReportSelect+` ORDER BY asset_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list inspection reports")
	}
	defer rows.Close()

	out := []model.InspectionReport{}
	for rows.Next() {
		rep, err := scanSQLiteReport(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan inspection report")
		}
		out = append(out, *rep)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate inspection reports")
}

func (s *sqliteStore) AppendVerification(ctx context.Context, res model.PhysicalVerificationResult) error {
	body, err := marshalJSON(res)
	if err != nil {
		return err
	}
	var tokenID sql.NullInt64
	if res.TokenID != 0 {
		tokenID = sql.NullInt64{Int64: res.TokenID, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO verification_history (id, token_id, verified, method, result, occurred_at) VALUES (?, ?, ?, ?, ?, ?)`,
		res.ID, tokenID, res.Verified, string(res.VerificationMethod), string(body), formatTime(res.Timestamp))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrConflict
		}
		return eris.Wrap(err, "sqlite: append verification")
	}
	return nil
}

func (s *sqliteStore) listHistory(ctx context.Context, query string, args ...any) ([]model.PhysicalVerificationResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list verifications")
	}
	defer rows.Close()

	out := []model.PhysicalVerificationResult{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan verification")
		}
		var res model.PhysicalVerificationResult
		if err := json.Unmarshal([]byte(body), &res); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal verification")
		}
		out = append(out, res)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate verifications")
}

func (s *sqliteStore) ListVerifications(ctx context.Context) ([]model.PhysicalVerificationResult, error) {
	return s.listHistory(ctx, `SELECT result FROM verification_history ORDER BY seq`)
}

func (s *sqliteStore) ListVerificationsForAsset(ctx context.Context, tokenID int64) ([]model.PhysicalVerificationResult, error) {
	return s.listHistory(ctx, `SELECT result FROM verification_history WHERE token_id = ? ORDER BY seq`, tokenID)
}

func (s *sqliteStore) ClearVerifications(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM verification_history`)
	return eris.Wrap(err, "sqlite: clear verifications")
}
