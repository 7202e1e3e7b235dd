package store

// Schema is the Postgres DDL for the four tables described in §3. It is
// not run automatically — the teacher's own services expect their schema
// to be applied out of band (migrate/ in the pack) — but is kept alongside
// the adapter as the single source of truth for column names and types.
const Schema = `
CREATE TABLE IF NOT EXISTS object (
	id                 BIGSERIAL PRIMARY KEY,
	content_hash       TEXT NOT NULL UNIQUE,
	content_type       TEXT NOT NULL,
	content_encoding   TEXT NOT NULL,
	length             BIGINT NOT NULL,
	file_path          TEXT NOT NULL,
	created            BIGINT NOT NULL,
	modified           BIGINT NOT NULL,
	width              INTEGER,
	height             INTEGER,
	content_headers    TEXT,
	derived_object_id  BIGINT REFERENCES object(id),
	transforms         TEXT,
	transforms_hash    TEXT,
	quality            INTEGER
);

CREATE TABLE IF NOT EXISTS virtual_object (
	id                         BIGSERIAL PRIMARY KEY,
	object_path                TEXT NOT NULL UNIQUE,
	default_jpeg_bg            TEXT,
	derived_virtual_object_id  BIGINT REFERENCES virtual_object(id),
	primary_object_id          BIGINT REFERENCES object(id),
	transforms                 TEXT,
	transforms_hash            TEXT
);

CREATE TABLE IF NOT EXISTS virtual_object_relation (
	virtual_object_id  BIGINT NOT NULL REFERENCES virtual_object(id),
	object_id          BIGINT NOT NULL REFERENCES object(id),
	UNIQUE (virtual_object_id, object_id)
);

CREATE TABLE IF NOT EXISTS object_blur_hash (
	object_id      BIGINT NOT NULL REFERENCES object(id),
	x_components   INTEGER NOT NULL,
	y_components   INTEGER NOT NULL,
	background     TEXT NOT NULL DEFAULT '',
	hash           TEXT NOT NULL,
	UNIQUE (object_id, x_components, y_components, background)
);
`
