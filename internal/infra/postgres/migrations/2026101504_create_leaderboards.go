package migrations

import (
	_ "embed"
)

//go:embed 2026101504_create_leaderboards.sql
var createLeaderboardsSQL string

func init() {
	Migrations.MustRegister(
		execSQL(createLeaderboardsSQL),
		execSQL(`DROP TABLE IF EXISTS leaderboard_streak; DROP TABLE IF EXISTS leaderboard_score`),
	)
}
