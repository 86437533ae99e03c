package jobdb

import (
	"strings"

	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log, driver string) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	// sqlite makes INTEGER PRIMARY KEY an alias of rowid. Postgres needs a sequence.
	idType := "INTEGER PRIMARY KEY"
	if driver == dbh.DriverPostgres {
		idType = "BIGSERIAL PRIMARY KEY"
	}

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx, strings.ReplaceAll(
		`
		CREATE TABLE job(
			id $ID,
			public_id TEXT NOT NULL,
			input_name TEXT NOT NULL,
			output_name TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			model TEXT NOT NULL,
			device TEXT,
			width INT,
			height INT,
			fps DOUBLE PRECISION,
			frames_read INT,
			frames_written INT,
			frames_skipped INT,
			detections INT,
			has_thumbnail BOOLEAN NOT NULL DEFAULT FALSE,
			class_counts TEXT,
			created_at BIGINT NOT NULL,
			finished_at BIGINT
		);
		CREATE UNIQUE INDEX idx_job_public_id ON job (public_id);
		CREATE INDEX idx_job_output_name ON job (output_name);
	`, "$ID", idType)))

	return migs
}
