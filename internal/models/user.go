package models

import "github.com/google/uuid"

type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	Password    string    `json:"password,omitempty"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName,omitempty"`

	// WarsPoints is the accumulated competitive score across all games.
	WarsPoints float64 `json:"warsPoint"`
	GamesWon   int     `json:"gamesWon"`
	GamesTotal int     `json:"gamesTotal"`
}
