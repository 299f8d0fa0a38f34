package pgstore

// SchemaSQL creates the relational import tables. Statements are idempotent.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS data_imports (
    id             text PRIMARY KEY,
    filename       text        NOT NULL DEFAULT '',
    target_entity  text        NOT NULL DEFAULT '',
    mapping_config jsonb       NOT NULL DEFAULT '{}'::jsonb,
    status         text        NOT NULL,
    processing_log jsonb       NOT NULL DEFAULT '[]'::jsonb,
    source_key     text        NOT NULL DEFAULT '',
    total_rows     integer     NOT NULL DEFAULT 0,
    created_at     timestamptz NOT NULL DEFAULT now(),
    updated_at     timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS data_imports_created_at ON data_imports (created_at DESC);

CREATE TABLE IF NOT EXISTS staging_data (
    id                text PRIMARY KEY,
    import_id         text    NOT NULL REFERENCES data_imports (id) ON DELETE CASCADE,
    row_number        integer NOT NULL,
    raw_data          jsonb   NOT NULL DEFAULT '{}'::jsonb,
    mapped_data       jsonb   NOT NULL DEFAULT '{}'::jsonb,
    processing_status text    NOT NULL DEFAULT 'pending'
        CHECK (processing_status IN ('pending', 'processed', 'failed')),
    target_record_id  text,
    errors            jsonb   NOT NULL DEFAULT '[]'::jsonb,
    processed_at      timestamptz,
    UNIQUE (import_id, row_number)
);
CREATE INDEX IF NOT EXISTS staging_data_pending ON staging_data (import_id, processing_status);

CREATE TABLE IF NOT EXISTS knowledge_categories (
    id          text PRIMARY KEY DEFAULT gen_random_uuid()::text,
    name        text        NOT NULL,
    slug        text        NOT NULL UNIQUE,
    description text,
    color       text        NOT NULL DEFAULT '',
    created_at  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS planning_layers (
    id            text PRIMARY KEY DEFAULT gen_random_uuid()::text,
    name          text        NOT NULL,
    slug          text        NOT NULL UNIQUE,
    description   text,
    color         text        NOT NULL DEFAULT '',
    display_order integer     NOT NULL,
    created_at    timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS activity_domains (
    id          text PRIMARY KEY DEFAULT gen_random_uuid()::text,
    name        text        NOT NULL,
    slug        text        NOT NULL UNIQUE,
    description text,
    color       text        NOT NULL DEFAULT '',
    created_at  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS knowledge_items (
    id                      text PRIMARY KEY,
    name                    text        NOT NULL,
    slug                    text        NOT NULL,
    description             text,
    background              text,
    source                  text,
    category_id             text REFERENCES knowledge_categories (id),
    planning_layer_id       text REFERENCES planning_layers (id),
    domain_id               text REFERENCES activity_domains (id),
    duration_minutes        integer,
    team_size_min           integer,
    team_size_max           integer,
    difficulty_level        text,
    tags                    text[]      NOT NULL DEFAULT '{}',
    is_featured             boolean     NOT NULL DEFAULT false,
    is_facilitator_required boolean     NOT NULL DEFAULT false,
    import_id               text,
    created_at              timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS knowledge_items_import ON knowledge_items (import_id);

CREATE TABLE IF NOT EXISTS knowledge_use_cases (
    id                text PRIMARY KEY,
    knowledge_item_id text        NOT NULL REFERENCES knowledge_items (id) ON DELETE CASCADE,
    use_case_type     text        NOT NULL CHECK (use_case_type IN ('generic', 'example')),
    who               text,
    what              text,
    "when"            text,
    "where"           text,
    why               text,
    how               text,
    how_much          text,
    summary           text,
    created_at        timestamptz NOT NULL DEFAULT now()
);
`

// dataTables lists every table Truncate clears.
var dataTables = []string{
	"knowledge_use_cases",
	"knowledge_items",
	"staging_data",
	"data_imports",
	"knowledge_categories",
	"planning_layers",
	"activity_domains",
}
