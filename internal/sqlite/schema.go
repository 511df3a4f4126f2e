package sqlite

// schemaSQL is applied on every open; all statements are idempotent.
// Timestamps are unix nanoseconds (UTC); JSON columns hold encoded slices and maps.
const schemaSQL = `
-- Immutable node rows. Updates insert a new row in the same lineage.
CREATE TABLE IF NOT EXISTS nodes (
    id             TEXT PRIMARY KEY,
    content_hash   TEXT NOT NULL,
    uri            TEXT NOT NULL,
    text           TEXT NOT NULL,
    format         TEXT NOT NULL,
    rendered       TEXT NOT NULL DEFAULT '',
    binary_ref     TEXT NOT NULL DEFAULT '',
    title          TEXT NOT NULL DEFAULT '',
    author         TEXT NOT NULL DEFAULT '',
    created_at     INTEGER,
    updated_at     INTEGER,
    word_count     INTEGER NOT NULL,
    tags           TEXT NOT NULL DEFAULT '[]',
    extra          TEXT,
    source_type    TEXT NOT NULL,
    adapter        TEXT NOT NULL DEFAULT '',
    original_id    TEXT NOT NULL DEFAULT '',
    original_path  TEXT NOT NULL DEFAULT '',
    batch_id       TEXT NOT NULL DEFAULT '',
    version_number INTEGER NOT NULL,
    parent_id      TEXT NOT NULL DEFAULT '',
    root_id        TEXT NOT NULL,
    operation      TEXT NOT NULL,
    operator       TEXT NOT NULL DEFAULT '',
    anchors        TEXT,
    owner_id       TEXT NOT NULL DEFAULT '',
    inserted_at    INTEGER NOT NULL,
    UNIQUE (root_id, version_number)
);
CREATE INDEX IF NOT EXISTS nodes_content_hash ON nodes(content_hash);
CREATE INDEX IF NOT EXISTS nodes_source_type ON nodes(source_type);
CREATE INDEX IF NOT EXISTS nodes_batch ON nodes(batch_id);
CREATE INDEX IF NOT EXISTS nodes_sort ON nodes(COALESCE(created_at, inserted_at));

-- One row per lineage; the compare-and-swap target of updates.
CREATE TABLE IF NOT EXISTS node_heads (
    root_id        TEXT PRIMARY KEY,
    head_id        TEXT NOT NULL UNIQUE REFERENCES nodes(id),
    version_number INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS node_versions (
    id                TEXT PRIMARY KEY,
    node_id           TEXT NOT NULL REFERENCES nodes(id),
    root_id           TEXT NOT NULL,
    version_number    INTEGER NOT NULL,
    parent_version_id TEXT NOT NULL DEFAULT '',
    operation         TEXT NOT NULL,
    operator          TEXT NOT NULL DEFAULT '',
    change_summary    TEXT NOT NULL DEFAULT '',
    created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS node_versions_root ON node_versions(root_id, version_number);

CREATE VIRTUAL TABLE IF NOT EXISTS nodes_fts USING fts5(
    title, text, content='nodes', content_rowid='rowid'
);
CREATE TRIGGER IF NOT EXISTS nodes_fts_insert AFTER INSERT ON nodes BEGIN
    INSERT INTO nodes_fts(rowid, title, text) VALUES (new.rowid, new.title, new.text);
END;

CREATE TABLE IF NOT EXISTS links (
    id            TEXT PRIMARY KEY,
    source_id     TEXT NOT NULL,
    target_id     TEXT NOT NULL,
    link_type     TEXT NOT NULL,
    strength      REAL,
    source_anchor TEXT,
    target_anchor TEXT,
    created_at    INTEGER NOT NULL,
    created_by    TEXT NOT NULL DEFAULT '',
    metadata      TEXT,
    UNIQUE (source_id, target_id, link_type)
);
CREATE INDEX IF NOT EXISTS links_target ON links(target_id);
CREATE INDEX IF NOT EXISTS links_type ON links(link_type);

CREATE TABLE IF NOT EXISTS blobs (
    hash       TEXT PRIMARY KEY,
    mime_type  TEXT NOT NULL,
    size       INTEGER NOT NULL,
    data       BLOB NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS import_batches (
    id           TEXT PRIMARY KEY,
    source_type  TEXT NOT NULL,
    source_path  TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL,
    nodes        INTEGER NOT NULL DEFAULT 0,
    skipped      INTEGER NOT NULL DEFAULT 0,
    links        INTEGER NOT NULL DEFAULT 0,
    errors       INTEGER NOT NULL DEFAULT 0,
    error        TEXT NOT NULL DEFAULT '',
    started_at   INTEGER NOT NULL,
    completed_at INTEGER
);

CREATE TABLE IF NOT EXISTS node_embeddings (
    node_id      TEXT PRIMARY KEY REFERENCES nodes(id),
    content_hash TEXT NOT NULL,
    model        TEXT NOT NULL,
    dimension    INTEGER NOT NULL,
    vector       BLOB NOT NULL,
    created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pyramids (
    thread_id TEXT PRIMARY KEY,
    depth     INTEGER NOT NULL,
    built_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pyramid_chunks (
    id           TEXT PRIMARY KEY,
    thread_id    TEXT NOT NULL REFERENCES pyramids(thread_id) ON DELETE CASCADE,
    seq          INTEGER NOT NULL,
    text         TEXT NOT NULL,
    start_offset INTEGER NOT NULL,
    end_offset   INTEGER NOT NULL,
    boundary     TEXT NOT NULL,
    word_count   INTEGER NOT NULL,
    embedding    BLOB
);
CREATE INDEX IF NOT EXISTS pyramid_chunks_thread ON pyramid_chunks(thread_id, seq);

CREATE TABLE IF NOT EXISTS pyramid_summaries (
    id                TEXT PRIMARY KEY,
    thread_id         TEXT NOT NULL REFERENCES pyramids(thread_id) ON DELETE CASCADE,
    seq               INTEGER NOT NULL,
    text              TEXT NOT NULL,
    child_ids         TEXT NOT NULL DEFAULT '[]',
    source_words      INTEGER NOT NULL,
    word_count        INTEGER NOT NULL,
    compression_ratio REAL NOT NULL,
    extractive        INTEGER NOT NULL DEFAULT 0,
    embedding         BLOB
);
CREATE INDEX IF NOT EXISTS pyramid_summaries_thread ON pyramid_summaries(thread_id, seq);

CREATE TABLE IF NOT EXISTS pyramid_apex (
    id                TEXT PRIMARY KEY,
    thread_id         TEXT NOT NULL UNIQUE REFERENCES pyramids(thread_id) ON DELETE CASCADE,
    text              TEXT NOT NULL,
    child_ids         TEXT NOT NULL DEFAULT '[]',
    source_words      INTEGER NOT NULL,
    word_count        INTEGER NOT NULL,
    compression_ratio REAL NOT NULL,
    extractive        INTEGER NOT NULL DEFAULT 0,
    embedding         BLOB
);
`
