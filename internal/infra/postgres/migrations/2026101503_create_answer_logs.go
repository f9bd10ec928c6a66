package migrations

import (
	_ "embed"
)

//go:embed 2026101503_create_answer_logs.sql
var createAnswerLogsSQL string

func init() {
	Migrations.MustRegister(
		execSQL(createAnswerLogsSQL),
		execSQL(`DROP TABLE IF EXISTS answer_logs`),
	)
}
