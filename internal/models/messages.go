// internal/models/messages.go
package models

// Wire message types, keyed by the "type" field of each JSON frame. The
// client->server and server->client sets mirror each other per surface
// (lobby, game, chat).
const (
	// Client -> server.
	MsgJoinLobby       = "joinLobby"
	MsgLeaveLobby      = "leaveLobby"
	MsgUpdateGameState = "updateGameState"
	MsgKickPlayer      = "kickPlayer"
	MsgWordEntry       = "wordEntry"
	MsgChat            = "chat"
	MsgPing            = "ping"

	// Server -> client, lobby surface.
	MsgPlayerUpdated    = "playerUpdated"
	MsgGameStateUpdated = "gameStateUpdated"
	MsgLobbyCountdown   = "lobbyCountdown"
	MsgPlayerKicked     = "playerKicked"
	MsgNotifyKicked     = "notifyKicked"

	// Server -> client, game surface.
	MsgTurn          = "turn"
	MsgRule          = "rule"
	MsgUsedWord      = "usedWord"
	MsgValidate      = "validate"
	MsgRank          = "rank"
	MsgPrize         = "prize"
	MsgWarsPoint     = "warsPoint"
	MsgGameOver      = "gameOver"
	MsgFinalStanding = "finalStanding"

	// Server -> client, chat surface.
	MsgChatHistory = "chatHistory"
	MsgPermitChat  = "permitChat"

	// Server -> client, transport surface.
	MsgPong     = "pong"
	MsgError    = "error"
	MsgSnapshot = "snapshot"
	MsgResync   = "resync"
	MsgDegraded = "degraded"
)
