package db

// SchemaSQL defines the import tables. Taxonomy records are keyed by slug,
// which makes the record ID itself the uniqueness constraint.
const SchemaSQL = `
    -- ==========================================================================
    -- IMPORT JOBS
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS data_imports SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS status ON data_imports TYPE string;
    DEFINE FIELD IF NOT EXISTS total_rows ON data_imports TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS processing_log ON data_imports TYPE array<object> FLEXIBLE DEFAULT [];
    DEFINE FIELD IF NOT EXISTS created_at ON data_imports TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON data_imports TYPE datetime DEFAULT time::now();
    DEFINE INDEX IF NOT EXISTS data_imports_created ON data_imports FIELDS created_at;
    DEFINE INDEX IF NOT EXISTS data_imports_status ON data_imports FIELDS status;

    -- ==========================================================================
    -- STAGING ROWS
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS staging_data SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS import_id ON staging_data TYPE string;
    DEFINE FIELD IF NOT EXISTS row_number ON staging_data TYPE int;
    DEFINE FIELD IF NOT EXISTS processing_status ON staging_data TYPE string DEFAULT "pending";
    DEFINE INDEX IF NOT EXISTS staging_data_import ON staging_data FIELDS import_id, processing_status;
    DEFINE INDEX IF NOT EXISTS staging_data_number ON staging_data FIELDS import_id, row_number UNIQUE;

    -- ==========================================================================
    -- TAXONOMY (record key = slug)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS knowledge_categories SCHEMALESS;
    DEFINE TABLE IF NOT EXISTS planning_layers SCHEMALESS;
    DEFINE TABLE IF NOT EXISTS activity_domains SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS planning_layer_order ON planning_layers FIELDS display_order;

    -- ==========================================================================
    -- KNOWLEDGE ITEMS
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS knowledge_items SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS name ON knowledge_items TYPE string;
    DEFINE FIELD IF NOT EXISTS slug ON knowledge_items TYPE string;
    DEFINE INDEX IF NOT EXISTS knowledge_item_import ON knowledge_items FIELDS import_id;

    DEFINE TABLE IF NOT EXISTS knowledge_use_cases SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS knowledge_item_id ON knowledge_use_cases TYPE string;
    DEFINE FIELD IF NOT EXISTS use_case_type ON knowledge_use_cases TYPE string;
    DEFINE INDEX IF NOT EXISTS use_case_item ON knowledge_use_cases FIELDS knowledge_item_id;
`

// dataTables lists every table WipeData clears, children first.
var dataTables = []string{
	"knowledge_use_cases",
	"knowledge_items",
	"staging_data",
	"data_imports",
	"knowledge_categories",
	"planning_layers",
	"activity_domains",
}
