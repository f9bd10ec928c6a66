package migrations

import (
	_ "embed"
)

//go:embed 2026101501_create_users.sql
var createUsersSQL string

func init() {
	Migrations.MustRegister(
		execSQL(createUsersSQL),
		execSQL(`DROP TABLE IF EXISTS user_states; DROP TABLE IF EXISTS users`),
	)
}
