package migration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

type migrationStep struct {
	Name string
	SQL  string
}

var steps = []migrationStep{
	{
		Name: "create_extension_uuid_ossp",
		SQL:  `CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	},
	{
		Name: "create_table_cases",
		SQL: `CREATE TABLE IF NOT EXISTS cases (
  id               UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  telegram_user_id BIGINT      NOT NULL,
  telegram_chat_id BIGINT      NOT NULL,
  status           TEXT        NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closed')),
  created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
  closed_at        TIMESTAMPTZ,
  closed_by        TEXT        CHECK (closed_by IN ('user', 'admin', 'timeout', 'auto')),
  CHECK ((closed_at IS NULL) = (closed_by IS NULL))
);`,
	},
	{
		// One open case per user, enforced by the store itself.
		Name: "create_unique_index_cases_open_per_user",
		SQL: `CREATE UNIQUE INDEX IF NOT EXISTS uq_cases_open_per_user
  ON cases (telegram_user_id) WHERE status = 'open';`,
	},
	{
		Name: "create_index_cases_open_created_at",
		SQL: `CREATE INDEX IF NOT EXISTS idx_cases_open_created_at
  ON cases (created_at) WHERE status = 'open';`,
	},
	{
		Name: "create_table_case_messages",
		SQL: `CREATE TABLE IF NOT EXISTS case_messages (
  id                  UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  case_id             UUID        NOT NULL REFERENCES cases (id),
  kind                TEXT        NOT NULL CHECK (kind IN ('text', 'command')),
  content             TEXT        NOT NULL,
  telegram_message_id BIGINT      NOT NULL,
  telegram_user_id    BIGINT      NOT NULL,
  created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_case_messages_case_id",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_case_messages_case_id ON case_messages (case_id);`,
	},
	{
		Name: "create_table_case_files",
		SQL: `CREATE TABLE IF NOT EXISTS case_files (
  id                  UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  case_id             UUID        NOT NULL REFERENCES cases (id),
  file_type           TEXT        NOT NULL CHECK (file_type IN
    ('image', 'document', 'video', 'audio', 'voice', 'video_note', 'sticker')),
  storage_bucket      TEXT        NOT NULL,
  storage_object_key  TEXT        NOT NULL UNIQUE,
  original_filename   TEXT,
  size_bytes          BIGINT      CHECK (size_bytes >= 0),
  mime_type           TEXT,
  telegram_file_id    TEXT        NOT NULL,
  telegram_message_id BIGINT      NOT NULL,
  created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_case_files_case_id",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_case_files_case_id ON case_files (case_id);`,
	},
}

// EnsureMigrated checks if the 'cases' table exists and runs migrations if it doesn't.
func EnsureMigrated(ctx context.Context, db *sql.DB, loc *time.Location, dbHost string) error {
	start := time.Now()

	logJSON(loc, map[string]any{
		"component": "database",
		"event":     "db_migration_check",
		"status":    "starting",
		"db_host":   dbHost,
	})

	var exists bool
	query := "SELECT to_regclass('public.cases') IS NOT NULL"
	err := db.QueryRowContext(ctx, query).Scan(&exists)
	if err != nil {
		logJSON(loc, map[string]any{
			"component":     "database",
			"event":         "db_migration_failed",
			"status":        "error",
			"error_message": fmt.Sprintf("failed to check sentinel table: %v", err),
			"db_host":       dbHost,
			"duration_ms":   time.Since(start).Milliseconds(),
		})
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		logJSON(loc, map[string]any{
			"component":   "database",
			"event":       "db_migration_skip",
			"status":      "success",
			"msg":         "schema already exists, skipping migration",
			"db_host":     dbHost,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return nil
	}

	logJSON(loc, map[string]any{
		"component": "database",
		"event":     "db_migration_start",
		"status":    "in_progress",
		"db_host":   dbHost,
	})

	for _, step := range steps {
		stepStart := time.Now()
		_, err := db.ExecContext(ctx, step.SQL)
		if err != nil {
			logJSON(loc, map[string]any{
				"component":        "database",
				"event":            "db_migration_failed",
				"status":           "error",
				"migration_step":   step.Name,
				"error_message":    err.Error(),
				"db_host":          dbHost,
				"duration_ms":      time.Since(start).Milliseconds(),
				"step_duration_ms": time.Since(stepStart).Milliseconds(),
			})
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		logJSON(loc, map[string]any{
			"component":        "database",
			"event":            "db_migration_step",
			"status":           "success",
			"migration_step":   step.Name,
			"db_host":          dbHost,
			"step_duration_ms": time.Since(stepStart).Milliseconds(),
		})
	}

	logJSON(loc, map[string]any{
		"component":   "database",
		"event":       "db_migration_success",
		"status":      "success",
		"db_host":     dbHost,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return nil
}

func logJSON(loc *time.Location, data map[string]any) {
	data["ts"] = time.Now().In(loc).Format(time.RFC3339Nano)
	if _, ok := data["level"]; !ok {
		if data["status"] == "error" {
			data["level"] = "error"
		} else {
			data["level"] = "info"
		}
	}

	b, err := json.Marshal(data)
	if err != nil {
		log.Printf("failed to marshal migration log: %v", err)
		return
	}
	log.SetFlags(0)
	log.Println(string(b))
}
