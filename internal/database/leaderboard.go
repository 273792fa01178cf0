package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lexiwars/backend/internal/models"
	"github.com/lexiwars/backend/internal/store"
)

// ApplyGameResults folds a batch of per-game stat deltas into the users
// table. All rows in the batch commit in one transaction; a re-delivered
// batch journaled during a store outage can be replayed through here.
func ApplyGameResults(ctx context.Context, stats []store.PlayerStat) error {
	if len(stats) == 0 {
		return nil
	}
	q := `
	UPDATE users
	SET wars_points = wars_points + $1,
	    games_total = games_total + 1,
	    games_won   = games_won + $2
	WHERE id = $3
	`
	err := pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, s := range stats {
			won := 0
			if s.Rank == 1 {
				won = 1
			}
			if _, e := tx.Exec(ctx, q, s.WarsPointDelta, won, s.UserID); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply game results: %w", err)
	}
	return nil
}

// TopPlayers returns the leaderboard, highest wars points first.
func TopPlayers(ctx context.Context, limit int) ([]models.User, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	q := `
	SELECT id, username, display_name, wars_points, games_won, games_total
	FROM users
	ORDER BY wars_points DESC
	LIMIT $1
	`
	rows, err := DB.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.WarsPoints, &u.GamesWon, &u.GamesTotal); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
