// Package store is the relational adapter for the four tables in §3
// (object, virtual_object, virtual_object_relation, object_blur_hash).
// It is a thin typed layer over database/sql + pgx/v5/stdlib: no ORM, no
// query builder, hand-written SQL the way the teacher's own storage code
// favors explicit statements over generated ones. Higher-level packages
// (object, vobject, derive, blurhash) own the business rules; store only
// knows how to read and write rows and classify the errors Postgres hands
// back.
package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"mediaserver/internal/mediaerr"
)

// Postgres SQLSTATE for a unique_violation.
const sqlStateUniqueViolation = "23505"

// DB wraps a connection pool. All methods are safe for concurrent use.
type DB struct {
	conn *sql.DB
}

// Open establishes the pool. dsn is a standard libpq connection string,
// the same convention the teacher's config layer uses for every other
// external dependency: one URL, read from the environment.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.Config, err, "opening database pool")
	}
	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)
	return &DB{conn: conn}, nil
}

// Close releases the pool. Registered with pgx's stdlib driver so the
// underlying pgx.Conn cleanup (cancelling in-flight queries) happens too.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// --- Object ---------------------------------------------------------------

// Object mirrors the object table (§3). Nullable columns use sql.Null*
// rather than pointers: the teacher's store layer scans directly into
// these from *sql.Row without an intermediate mapping step.
type Object struct {
	ID              int64
	ContentHash     string
	ContentType     string
	ContentEncoding string
	Length          int64
	FilePath        string
	Created         int64
	Modified        int64
	Width           sql.NullInt32
	Height          sql.NullInt32
	ContentHeaders  sql.NullString
	DerivedObjectID sql.NullInt64
	Transforms      sql.NullString
	TransformsHash  sql.NullString
	Quality         sql.NullInt32
}

const objectColumns = `id, content_hash, content_type, content_encoding, length, file_path,
	created, modified, width, height, content_headers, derived_object_id, transforms,
	transforms_hash, quality`

func scanObject(row *sql.Row) (*Object, error) {
	var o Object
	err := row.Scan(&o.ID, &o.ContentHash, &o.ContentType, &o.ContentEncoding, &o.Length,
		&o.FilePath, &o.Created, &o.Modified, &o.Width, &o.Height, &o.ContentHeaders,
		&o.DerivedObjectID, &o.Transforms, &o.TransformsHash, &o.Quality)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mediaerr.NotFoundf("object not found")
	}
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.IO, err, "scanning object row")
	}
	return &o, nil
}

func (db *DB) FindObjectByHash(ctx context.Context, hash string) (*Object, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+objectColumns+` FROM object WHERE content_hash = $1`, hash)
	return scanObject(row)
}

func (db *DB) FindObjectByID(ctx context.Context, id int64) (*Object, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+objectColumns+` FROM object WHERE id = $1`, id)
	return scanObject(row)
}

func (db *DB) FindObjectByFilePath(ctx context.Context, path string) (*Object, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+objectColumns+` FROM object WHERE file_path = $1`, path)
	return scanObject(row)
}

// NewObject is the set of columns a fresh insert supplies.
type NewObject struct {
	ContentHash     string
	ContentType     string
	ContentEncoding string
	Length          int64
	FilePath        string
	Width           sql.NullInt32
	Height          sql.NullInt32
	ContentHeaders  sql.NullString
	DerivedObjectID sql.NullInt64
	Transforms      sql.NullString
	TransformsHash  sql.NullString
	Quality         sql.NullInt32
}

// InsertObject creates a new row, stamping created/modified to now. A
// duplicate content_hash is reported as mediaerr.Conflict rather than a
// raw driver error, so callers (object.UpsertObject) can fall back to an
// update without inspecting driver internals.
func (db *DB) InsertObject(ctx context.Context, n NewObject) (*Object, error) {
	now := time.Now().Unix()
	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO object (content_hash, content_type, content_encoding, length, file_path,
			created, modified, width, height, content_headers, derived_object_id, transforms,
			transforms_hash, quality)
		VALUES ($1,$2,$3,$4,$5,$6,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING `+objectColumns,
		n.ContentHash, n.ContentType, n.ContentEncoding, n.Length, n.FilePath, now,
		n.Width, n.Height, n.ContentHeaders, n.DerivedObjectID, n.Transforms, n.TransformsHash, n.Quality)
	o, err := scanObject(row)
	if isUniqueViolation(err) {
		return nil, mediaerr.Conflictf("object with content_hash %q already exists", n.ContentHash)
	}
	return o, err
}

// ObjectUpdate carries the fields upsert_object is allowed to change on an
// existing row. Width/Height are *int32 rather than sql.NullInt32: nil
// means "leave untouched", not "clear". This is the resolved Open Question
// from §9 — a re-upload of an already-known digest never erases dimensions
// a previous upload recorded, matching the original implementation's
// update_object, which only touches width/height when the caller supplies
// them.
type ObjectUpdate struct {
	ContentType     string
	ContentEncoding string
	Width           *int32
	Height          *int32
	ContentHeaders  *string
}

func (db *DB) UpdateObject(ctx context.Context, id int64, u ObjectUpdate) (*Object, error) {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE object SET
			content_type = $2,
			content_encoding = $3,
			modified = $4,
			width = COALESCE($5, width),
			height = COALESCE($6, height),
			content_headers = COALESCE($7, content_headers)
		WHERE id = $1`,
		id, u.ContentType, u.ContentEncoding, time.Now().Unix(),
		nullableInt32(u.Width), nullableInt32(u.Height), nullableString(u.ContentHeaders))
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.IO, err, "updating object %d", id)
	}
	return db.FindObjectByID(ctx, id)
}

// --- VirtualObject ---------------------------------------------------------

// VirtualObject mirrors the virtual_object table (§3).
type VirtualObject struct {
	ID                     int64
	ObjectPath             string
	DefaultJPEGBackground  sql.NullString
	DerivedVirtualObjectID sql.NullInt64
	PrimaryObjectID        sql.NullInt64
	Transforms             sql.NullString
	TransformsHash         sql.NullString
}

const voColumns = `id, object_path, default_jpeg_bg, derived_virtual_object_id, primary_object_id,
	transforms, transforms_hash`

func scanVO(row *sql.Row) (*VirtualObject, error) {
	var v VirtualObject
	err := row.Scan(&v.ID, &v.ObjectPath, &v.DefaultJPEGBackground, &v.DerivedVirtualObjectID,
		&v.PrimaryObjectID, &v.Transforms, &v.TransformsHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mediaerr.NotFoundf("virtual object not found")
	}
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.IO, err, "scanning virtual_object row")
	}
	return &v, nil
}

func (db *DB) FindVirtualObjectByPath(ctx context.Context, path string) (*VirtualObject, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+voColumns+` FROM virtual_object WHERE object_path = $1`, path)
	return scanVO(row)
}

// FindVirtualObjectByPaths resolves, among several candidate paths (§4.4's
// candidate list), the one that has a virtual_object row. When several do,
// the longest object_path wins — the most specific candidate, whatever its
// position in the list —
// which matches find_object.rs picking the narrowest match it can find
// before falling back to a broader one. This is the resolved Open
// Question on resolver tie-breaking order.
func (db *DB) FindVirtualObjectByPaths(ctx context.Context, paths []string) (*VirtualObject, error) {
	if len(paths) == 0 {
		return nil, mediaerr.NotFoundf("no candidate paths supplied")
	}
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+voColumns+` FROM virtual_object
		WHERE object_path = ANY($1)
		ORDER BY length(object_path) DESC
		LIMIT 1`,
		paths)
	return scanVO(row)
}

// FindOrCreateVirtualObject returns the existing row for path, or inserts
// a bare one (no primary object, no transforms) if absent. A race on the
// unique object_path constraint is absorbed by the INSERT's ON CONFLICT DO
// UPDATE ... RETURNING, which returns the existing row rather than
// surfacing a conflict to the caller — find-or-create is idempotent by
// definition in §4.3.
func (db *DB) FindOrCreateVirtualObject(ctx context.Context, path string) (*VirtualObject, error) {
	if vo, err := db.FindVirtualObjectByPath(ctx, path); err == nil {
		return vo, nil
	} else if !mediaerr.Is(err, mediaerr.NotFound) {
		return nil, err
	}

	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO virtual_object (object_path) VALUES ($1)
		ON CONFLICT (object_path) DO UPDATE SET object_path = EXCLUDED.object_path
		RETURNING `+voColumns,
		path)
	return scanVO(row)
}

// VirtualObjectUpdate carries the mutable fields of a virtual_object.
// As with ObjectUpdate, nil pointers leave the column untouched.
type VirtualObjectUpdate struct {
	DefaultJPEGBackground  *string
	DerivedVirtualObjectID *int64
	PrimaryObjectID        *int64
	Transforms             *string
	TransformsHash         *string
}

func (db *DB) UpdateVirtualObject(ctx context.Context, id int64, u VirtualObjectUpdate) (*VirtualObject, error) {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE virtual_object SET
			default_jpeg_bg = COALESCE($2, default_jpeg_bg),
			derived_virtual_object_id = COALESCE($3, derived_virtual_object_id),
			primary_object_id = COALESCE($4, primary_object_id),
			transforms = COALESCE($5, transforms),
			transforms_hash = COALESCE($6, transforms_hash)
		WHERE id = $1`,
		id, nullableString(u.DefaultJPEGBackground), nullableInt64(u.DerivedVirtualObjectID),
		nullableInt64(u.PrimaryObjectID), nullableString(u.Transforms), nullableString(u.TransformsHash))
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.IO, err, "updating virtual_object %d", id)
	}
	row := db.conn.QueryRowContext(ctx, `SELECT `+voColumns+` FROM virtual_object WHERE id = $1`, id)
	return scanVO(row)
}

// SetPrimaryObjectIfNone sets primary_object_id only when it is currently
// NULL, used by §4.3's find-or-create + first-relation path: the first
// object ever attached to a virtual object becomes its primary by default.
func (db *DB) SetPrimaryObjectIfNone(ctx context.Context, voID, objectID int64) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE virtual_object SET primary_object_id = $2
		WHERE id = $1 AND primary_object_id IS NULL`, voID, objectID)
	if err != nil {
		return mediaerr.Wrap(mediaerr.IO, err, "setting primary object for virtual_object %d", voID)
	}
	return nil
}

// --- virtual_object_relation ------------------------------------------------

func (db *DB) RelatedObjects(ctx context.Context, voID int64) ([]*Object, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+prefixColumns("o", objectColumns)+`
		FROM virtual_object_relation r JOIN object o ON o.id = r.object_id
		WHERE r.virtual_object_id = $1
		ORDER BY o.id`, voID)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.IO, err, "listing relations for virtual_object %d", voID)
	}
	defer rows.Close()

	var out []*Object
	for rows.Next() {
		var o Object
		if err := rows.Scan(&o.ID, &o.ContentHash, &o.ContentType, &o.ContentEncoding, &o.Length,
			&o.FilePath, &o.Created, &o.Modified, &o.Width, &o.Height, &o.ContentHeaders,
			&o.DerivedObjectID, &o.Transforms, &o.TransformsHash, &o.Quality); err != nil {
			return nil, mediaerr.Wrap(mediaerr.IO, err, "scanning related object row")
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

// AddRelations inserts (voID, objectID) pairs, ignoring ones that already
// exist — relations have no ordering or count semantics beyond set
// membership (§3, V2).
func (db *DB) AddRelations(ctx context.Context, voID int64, objectIDs []int64) error {
	if len(objectIDs) == 0 {
		return nil
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO virtual_object_relation (virtual_object_id, object_id)
		SELECT $1, x FROM unnest($2::bigint[]) AS x
		ON CONFLICT (virtual_object_id, object_id) DO NOTHING`,
		voID, objectIDs)
	if err != nil {
		return mediaerr.Wrap(mediaerr.IO, err, "adding relations for virtual_object %d", voID)
	}
	return nil
}

func (db *DB) RemoveRelations(ctx context.Context, voID int64, objectIDs []int64) error {
	if len(objectIDs) == 0 {
		return nil
	}
	_, err := db.conn.ExecContext(ctx, `
		DELETE FROM virtual_object_relation
		WHERE virtual_object_id = $1 AND object_id = ANY($2::bigint[])`,
		voID, objectIDs)
	if err != nil {
		return mediaerr.Wrap(mediaerr.IO, err, "removing relations for virtual_object %d", voID)
	}
	return nil
}

// ReplaceRelations brings the relation set for voID exactly to wantIDs,
// issuing only the add/remove delta rather than a delete-then-reinsert —
// idempotent when called twice with the same set (P-equivalent of §8's
// replace-relations property).
func (db *DB) ReplaceRelations(ctx context.Context, voID int64, wantIDs []int64) error {
	current, err := db.RelatedObjects(ctx, voID)
	if err != nil {
		return err
	}
	have := make(map[int64]bool, len(current))
	for _, o := range current {
		have[o.ID] = true
	}
	want := make(map[int64]bool, len(wantIDs))
	for _, id := range wantIDs {
		want[id] = true
	}

	var toAdd, toRemove []int64
	for id := range want {
		if !have[id] {
			toAdd = append(toAdd, id)
		}
	}
	for id := range have {
		if !want[id] {
			toRemove = append(toRemove, id)
		}
	}
	if err := db.AddRelations(ctx, voID, toAdd); err != nil {
		return err
	}
	return db.RemoveRelations(ctx, voID, toRemove)
}

// --- object_blur_hash -------------------------------------------------------

func (db *DB) FindBlurHash(ctx context.Context, objectID int64, x, y int32, background string) (string, bool, error) {
	var hash string
	err := db.conn.QueryRowContext(ctx, `
		SELECT hash FROM object_blur_hash
		WHERE object_id = $1 AND x_components = $2 AND y_components = $3 AND background = $4`,
		objectID, x, y, background).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, mediaerr.Wrap(mediaerr.IO, err, "looking up cached blur hash")
	}
	return hash, true, nil
}

// UpsertBlurHash caches a computed hash. Callers (blurhash.Compute) treat
// this as a pure cache: on a races-with-self double-compute, the later
// write simply overwrites with an identical value (P8).
func (db *DB) UpsertBlurHash(ctx context.Context, objectID int64, x, y int32, background, hash string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO object_blur_hash (object_id, x_components, y_components, background, hash)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (object_id, x_components, y_components, background) DO UPDATE SET hash = EXCLUDED.hash`,
		objectID, x, y, background, hash)
	if err != nil {
		return mediaerr.Wrap(mediaerr.IO, err, "caching blur hash")
	}
	return nil
}

// --- transactions ------------------------------------------------------------

// Tx wraps a single database/sql transaction with the subset of DB's typed
// methods that derive.Coordinator uses, so it can compose several writes
// atomically (§5: derivation is transactional). Some differ from their DB
// counterparts: UpdateVirtualObject returns only an error, and
// ReplaceRelations deletes the VO's relations and reinserts the given set.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise — the same pattern the teacher's ingest muxer uses for
// its own batch commits.
func (db *DB) WithTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return mediaerr.Wrap(mediaerr.IO, err, "beginning transaction")
	}
	if err := fn(&Tx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mediaerr.Wrap(mediaerr.IO, err, "committing transaction")
	}
	return nil
}

func (t *Tx) InsertObject(ctx context.Context, n NewObject) (*Object, error) {
	now := time.Now().Unix()
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO object (content_hash, content_type, content_encoding, length, file_path,
			created, modified, width, height, content_headers, derived_object_id, transforms,
			transforms_hash, quality)
		VALUES ($1,$2,$3,$4,$5,$6,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING `+objectColumns,
		n.ContentHash, n.ContentType, n.ContentEncoding, n.Length, n.FilePath, now,
		n.Width, n.Height, n.ContentHeaders, n.DerivedObjectID, n.Transforms, n.TransformsHash, n.Quality)
	o, err := scanObject(row)
	if isUniqueViolation(err) {
		return nil, mediaerr.Conflictf("object with content_hash %q already exists", n.ContentHash)
	}
	return o, err
}

func (t *Tx) UpdateVirtualObject(ctx context.Context, id int64, u VirtualObjectUpdate) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE virtual_object SET
			default_jpeg_bg = COALESCE($2, default_jpeg_bg),
			derived_virtual_object_id = COALESCE($3, derived_virtual_object_id),
			primary_object_id = COALESCE($4, primary_object_id),
			transforms = COALESCE($5, transforms),
			transforms_hash = COALESCE($6, transforms_hash)
		WHERE id = $1`,
		id, nullableString(u.DefaultJPEGBackground), nullableInt64(u.DerivedVirtualObjectID),
		nullableInt64(u.PrimaryObjectID), nullableString(u.Transforms), nullableString(u.TransformsHash))
	if err != nil {
		return mediaerr.Wrap(mediaerr.IO, err, "updating virtual_object %d in transaction", id)
	}
	return nil
}

func (t *Tx) FindObjectByHash(ctx context.Context, hash string) (*Object, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+objectColumns+` FROM object WHERE content_hash = $1`, hash)
	return scanObject(row)
}

func (t *Tx) FindOrCreateVirtualObject(ctx context.Context, path string) (*VirtualObject, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+voColumns+` FROM virtual_object WHERE object_path = $1`, path)
	if vo, err := scanVO(row); err == nil {
		return vo, nil
	} else if !mediaerr.Is(err, mediaerr.NotFound) {
		return nil, err
	}

	insertRow := t.tx.QueryRowContext(ctx, `
		INSERT INTO virtual_object (object_path) VALUES ($1)
		ON CONFLICT (object_path) DO UPDATE SET object_path = EXCLUDED.object_path
		RETURNING `+voColumns,
		path)
	return scanVO(insertRow)
}

func (t *Tx) ReplaceRelations(ctx context.Context, voID int64, wantIDs []int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM virtual_object_relation WHERE virtual_object_id = $1`, voID); err != nil {
		return mediaerr.Wrap(mediaerr.IO, err, "clearing relations for virtual_object %d", voID)
	}
	if len(wantIDs) == 0 {
		return nil
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO virtual_object_relation (virtual_object_id, object_id)
		SELECT $1, x FROM unnest($2::bigint[]) AS x
		ON CONFLICT (virtual_object_id, object_id) DO NOTHING`,
		voID, wantIDs)
	if err != nil {
		return mediaerr.Wrap(mediaerr.IO, err, "inserting relations for virtual_object %d", voID)
	}
	return nil
}

// --- helpers ----------------------------------------------------------------

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation
}

func nullableInt32(p *int32) sql.NullInt32 {
	if p == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: *p, Valid: true}
}

func nullableInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullableString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

// prefixColumns rewrites a "col1, col2, col3" list into "alias.col1,
// alias.col2, alias.col3" for use in a joined SELECT.
func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
