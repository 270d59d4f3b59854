package database

// schema is applied on every open; statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS images (
	id                TEXT PRIMARY KEY,
	owner_id          TEXT NOT NULL,
	file_name         TEXT NOT NULL,
	content_type      TEXT NOT NULL,
	size_bytes        INTEGER NOT NULL,
	original_key      TEXT NOT NULL,
	original_url      TEXT NOT NULL,
	width             INTEGER NOT NULL,
	height            INTEGER NOT NULL,
	processing_status TEXT NOT NULL DEFAULT 'none',
	processed_key     TEXT NOT NULL DEFAULT '',
	processed_url     TEXT NOT NULL DEFAULT '',
	processed_width   INTEGER NOT NULL DEFAULT 0,
	processed_height  INTEGER NOT NULL DEFAULT 0,
	uploaded_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_images_owner ON images(owner_id, uploaded_at);

CREATE TABLE IF NOT EXISTS jobs (
	image_id   TEXT PRIMARY KEY,
	request    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	attempts   INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`
