package db

import (
	"strconv"
	"strings"
)

// schemaTemplate is applied on every start; all statements are idempotent.
// {{DIM}} is replaced by the embedding dimension.
const schemaTemplate = `
    -- ==========================================================================
    -- NODE TABLE (immutable version rows)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS node SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS content_hash ON node TYPE string;
    DEFINE FIELD IF NOT EXISTS uri ON node TYPE string;
    DEFINE FIELD IF NOT EXISTS text ON node TYPE string;
    DEFINE FIELD IF NOT EXISTS format ON node TYPE string;
    DEFINE FIELD IF NOT EXISTS rendered ON node TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS binary_ref ON node TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS title ON node TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS author ON node TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS created_at ON node TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS updated_at ON node TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS word_count ON node TYPE int;
    -- TODO: Use set<string> when Go SDK supports CBOR tag 56 (v3.0 set type)
    DEFINE FIELD IF NOT EXISTS tags ON node TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS extra ON node TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS source_type ON node TYPE string;
    DEFINE FIELD IF NOT EXISTS adapter ON node TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS original_id ON node TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS original_path ON node TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS batch_id ON node TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS version_number ON node TYPE int;
    DEFINE FIELD IF NOT EXISTS parent_id ON node TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS root_id ON node TYPE string;
    DEFINE FIELD IF NOT EXISTS operation ON node TYPE string;
    DEFINE FIELD IF NOT EXISTS operator ON node TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS anchors ON node TYPE option<array<object>>;
    DEFINE FIELD IF NOT EXISTS anchors[*].start ON node TYPE int;
    DEFINE FIELD IF NOT EXISTS anchors[*].end ON node TYPE int;
    DEFINE FIELD IF NOT EXISTS anchors[*].label ON node TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS owner_id ON node TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS inserted_at ON node TYPE datetime;
    -- Authored time, insert time when unknown; the ordering and range key.
    DEFINE FIELD IF NOT EXISTS sort_time ON node TYPE datetime;

    DEFINE INDEX IF NOT EXISTS node_version_key ON node FIELDS root_id, version_number UNIQUE;
    DEFINE INDEX IF NOT EXISTS node_content_hash ON node FIELDS content_hash;
    DEFINE INDEX IF NOT EXISTS node_source_type ON node FIELDS source_type;
    DEFINE INDEX IF NOT EXISTS node_batch ON node FIELDS batch_id;
    DEFINE INDEX IF NOT EXISTS node_sort_time ON node FIELDS sort_time;
    DEFINE ANALYZER IF NOT EXISTS node_analyzer TOKENIZERS class FILTERS lowercase, ascii, snowball(english);
    DEFINE INDEX IF NOT EXISTS node_text_ft ON node FIELDS text FULLTEXT ANALYZER node_analyzer BM25;
    DEFINE INDEX IF NOT EXISTS node_title_ft ON node FIELDS title FULLTEXT ANALYZER node_analyzer BM25;

    -- One record per lineage, keyed by root id; the compare-and-swap target.
    DEFINE TABLE IF NOT EXISTS node_head SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS head ON node_head TYPE record<node>;
    DEFINE FIELD IF NOT EXISTS version ON node_head TYPE int;
    DEFINE INDEX IF NOT EXISTS node_head_head ON node_head FIELDS head UNIQUE;

    DEFINE TABLE IF NOT EXISTS node_version SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS node_id ON node_version TYPE string;
    DEFINE FIELD IF NOT EXISTS root_id ON node_version TYPE string;
    DEFINE FIELD IF NOT EXISTS version_number ON node_version TYPE int;
    DEFINE FIELD IF NOT EXISTS parent_version_id ON node_version TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS operation ON node_version TYPE string;
    DEFINE FIELD IF NOT EXISTS operator ON node_version TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS change_summary ON node_version TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS created_at ON node_version TYPE datetime;
    DEFINE INDEX IF NOT EXISTS node_version_root ON node_version FIELDS root_id, version_number;

    -- ==========================================================================
    -- LINK TABLE (record id is [source, target, type])
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS link SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS uid ON link TYPE string;
    DEFINE FIELD IF NOT EXISTS source_id ON link TYPE string;
    DEFINE FIELD IF NOT EXISTS target_id ON link TYPE string;
    DEFINE FIELD IF NOT EXISTS link_type ON link TYPE string;
    DEFINE FIELD IF NOT EXISTS strength ON link TYPE option<float>;
    DEFINE FIELD IF NOT EXISTS source_anchor ON link TYPE option<object>;
    DEFINE FIELD IF NOT EXISTS source_anchor.start ON link TYPE int;
    DEFINE FIELD IF NOT EXISTS source_anchor.end ON link TYPE int;
    DEFINE FIELD IF NOT EXISTS source_anchor.label ON link TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS target_anchor ON link TYPE option<object>;
    DEFINE FIELD IF NOT EXISTS target_anchor.start ON link TYPE int;
    DEFINE FIELD IF NOT EXISTS target_anchor.end ON link TYPE int;
    DEFINE FIELD IF NOT EXISTS target_anchor.label ON link TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS created_at ON link TYPE datetime;
    DEFINE FIELD IF NOT EXISTS created_by ON link TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS metadata ON link TYPE option<object> FLEXIBLE;

    DEFINE INDEX IF NOT EXISTS link_natural_key ON link FIELDS source_id, target_id, link_type UNIQUE;
    DEFINE INDEX IF NOT EXISTS link_target ON link FIELDS target_id;
    DEFINE INDEX IF NOT EXISTS link_type ON link FIELDS link_type;

    -- ==========================================================================
    -- BLOBS AND IMPORT BATCHES
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS blob SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS mime_type ON blob TYPE string;
    DEFINE FIELD IF NOT EXISTS size ON blob TYPE int;
    DEFINE FIELD IF NOT EXISTS data ON blob TYPE bytes;
    DEFINE FIELD IF NOT EXISTS created_at ON blob TYPE datetime;

    DEFINE TABLE IF NOT EXISTS import_batch SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS source_type ON import_batch TYPE string;
    DEFINE FIELD IF NOT EXISTS source_path ON import_batch TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS status ON import_batch TYPE string;
    DEFINE FIELD IF NOT EXISTS nodes ON import_batch TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS skipped ON import_batch TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS links ON import_batch TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS errors ON import_batch TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS error ON import_batch TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS started_at ON import_batch TYPE datetime;
    DEFINE FIELD IF NOT EXISTS completed_at ON import_batch TYPE option<datetime>;
    DEFINE INDEX IF NOT EXISTS import_batch_started ON import_batch FIELDS started_at;

    -- ==========================================================================
    -- EMBEDDINGS (record id is the node id)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS node_embedding SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS node ON node_embedding TYPE record<node>;
    DEFINE FIELD IF NOT EXISTS content_hash ON node_embedding TYPE string;
    DEFINE FIELD IF NOT EXISTS model ON node_embedding TYPE string;
    DEFINE FIELD IF NOT EXISTS vector ON node_embedding TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS created_at ON node_embedding TYPE datetime;
    DEFINE INDEX IF NOT EXISTS node_embedding_vector ON node_embedding FIELDS vector HNSW DIMENSION {{DIM}} DIST COSINE TYPE F32;

    -- ==========================================================================
    -- PYRAMIDS
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS pyramid SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS depth ON pyramid TYPE int;
    DEFINE FIELD IF NOT EXISTS built_at ON pyramid TYPE datetime;

    DEFINE TABLE IF NOT EXISTS pyramid_chunk SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS thread_id ON pyramid_chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS seq ON pyramid_chunk TYPE int;
    DEFINE FIELD IF NOT EXISTS text ON pyramid_chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS start_offset ON pyramid_chunk TYPE int;
    DEFINE FIELD IF NOT EXISTS end_offset ON pyramid_chunk TYPE int;
    DEFINE FIELD IF NOT EXISTS boundary ON pyramid_chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS word_count ON pyramid_chunk TYPE int;
    DEFINE FIELD IF NOT EXISTS embedding ON pyramid_chunk TYPE option<array<float>>;
    DEFINE INDEX IF NOT EXISTS pyramid_chunk_thread ON pyramid_chunk FIELDS thread_id, seq;
    DEFINE INDEX IF NOT EXISTS pyramid_chunk_embedding ON pyramid_chunk FIELDS embedding HNSW DIMENSION {{DIM}} DIST COSINE TYPE F32;

    DEFINE TABLE IF NOT EXISTS pyramid_summary SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS thread_id ON pyramid_summary TYPE string;
    DEFINE FIELD IF NOT EXISTS seq ON pyramid_summary TYPE int;
    DEFINE FIELD IF NOT EXISTS text ON pyramid_summary TYPE string;
    DEFINE FIELD IF NOT EXISTS child_ids ON pyramid_summary TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS source_words ON pyramid_summary TYPE int;
    DEFINE FIELD IF NOT EXISTS word_count ON pyramid_summary TYPE int;
    DEFINE FIELD IF NOT EXISTS compression_ratio ON pyramid_summary TYPE float;
    DEFINE FIELD IF NOT EXISTS extractive ON pyramid_summary TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS embedding ON pyramid_summary TYPE option<array<float>>;
    DEFINE INDEX IF NOT EXISTS pyramid_summary_thread ON pyramid_summary FIELDS thread_id, seq;
    DEFINE INDEX IF NOT EXISTS pyramid_summary_embedding ON pyramid_summary FIELDS embedding HNSW DIMENSION {{DIM}} DIST COSINE TYPE F32;

    DEFINE TABLE IF NOT EXISTS pyramid_apex SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS thread_id ON pyramid_apex TYPE string;
    DEFINE FIELD IF NOT EXISTS text ON pyramid_apex TYPE string;
    DEFINE FIELD IF NOT EXISTS child_ids ON pyramid_apex TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS source_words ON pyramid_apex TYPE int;
    DEFINE FIELD IF NOT EXISTS word_count ON pyramid_apex TYPE int;
    DEFINE FIELD IF NOT EXISTS compression_ratio ON pyramid_apex TYPE float;
    DEFINE FIELD IF NOT EXISTS extractive ON pyramid_apex TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS embedding ON pyramid_apex TYPE option<array<float>>;
    DEFINE INDEX IF NOT EXISTS pyramid_apex_thread ON pyramid_apex FIELDS thread_id UNIQUE;
    DEFINE INDEX IF NOT EXISTS pyramid_apex_embedding ON pyramid_apex FIELDS embedding HNSW DIMENSION {{DIM}} DIST COSINE TYPE F32;
`

func schemaSQL(dimension int) string {
	return strings.ReplaceAll(schemaTemplate, "{{DIM}}", strconv.Itoa(dimension))
}
