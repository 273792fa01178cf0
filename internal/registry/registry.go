// internal/registry/registry.go
package registry

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lexiwars/backend/internal/clock"
	"github.com/lexiwars/backend/internal/game"
	"github.com/lexiwars/backend/internal/hub"
	"github.com/lexiwars/backend/internal/models"
	"github.com/lexiwars/backend/internal/store"
	"github.com/lexiwars/backend/internal/words"
)

const (
	// countdownDuration is the Starting-state grace window before the game
	// begins. Reverted if membership drops below the minimum first.
	countdownDuration = 30 * time.Second

	// finishedRetention is how long a Finished lobby stays queryable before
	// teardown reclaims it.
	finishedRetention = 2 * time.Minute
)

var (
	ErrLobbyNotFound = errors.New("lobby not found")
	ErrLobbyFull     = errors.New("lobby is full")
	ErrLobbyStarted  = errors.New("lobby already in progress")
	ErrAlreadyJoined = errors.New("already joined")
	ErrNotMember     = errors.New("not a member of this lobby")
	ErrNotCreator    = errors.New("only the lobby creator may do that")
	ErrNotEnough     = errors.New("not enough players")
	ErrBadConfig     = errors.New("invalid lobby configuration")
)

// Lobby is one live lobby: its durable info, the join-ordered member list,
// the countdown timer while Starting, and the engine once InProgress. All
// lifecycle mutations for a lobby serialize on mu.
type Lobby struct {
	mu sync.Mutex

	Info    models.LobbyInfo
	Members []*models.Player

	countdownTimer clock.Timer
	engine         *game.Engine
}

func (l *Lobby) member(userID uuid.UUID) *models.Player {
	for _, p := range l.Members {
		if p.ID == userID {
			return p
		}
	}
	return nil
}

func (l *Lobby) removeMember(userID uuid.UUID) bool {
	for i, p := range l.Members {
		if p.ID == userID {
			l.Members = append(l.Members[:i], l.Members[i+1:]...)
			return true
		}
	}
	return false
}

// Registry owns every live lobby and drives lifecycle transitions. Seat
// reservation goes through the persistence gateway's atomic counter, so a
// burst of joins racing for the last seat admits exactly one.
type Registry struct {
	mu      sync.Mutex
	lobbies map[uuid.UUID]*Lobby

	hub   *hub.Hub
	store store.Gateway
	clock clock.Clock
	dict  *words.Dictionary
	log   *logrus.Logger

	countdown    time.Duration
	turnDuration time.Duration

	// ResultsFn, when set, receives each batch of committed stat deltas for
	// application to the durable leaderboard.
	ResultsFn func(ctx context.Context, stats []store.PlayerStat)
}

func New(h *hub.Hub, gw store.Gateway, dict *words.Dictionary, clk clock.Clock, logger *logrus.Logger) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		lobbies:      make(map[uuid.UUID]*Lobby),
		hub:          h,
		store:        gw,
		clock:        clk,
		dict:         dict,
		log:          logger,
		countdown:    getEnvDuration("LOBBY_COUNTDOWN_SEC", countdownDuration),
		turnDuration: getEnvDuration("TURN_TIMER_SEC", 15*time.Second),
	}
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

// CreateLobby validates the config, registers the lobby in Waiting state, and
// mirrors it to the gateway. The creator joins through Join like anyone else.
func (r *Registry) CreateLobby(ctx context.Context, creatorID uuid.UUID, cfg models.LobbyConfig) (models.LobbyInfo, error) {
	if cfg.MinPlayers < 2 {
		cfg.MinPlayers = 2
	}
	if cfg.MaxPlayers < cfg.MinPlayers || cfg.Name == "" || cfg.EntryFee < 0 {
		return models.LobbyInfo{}, ErrBadConfig
	}
	if cfg.Visibility != "private" {
		cfg.Visibility = "public"
	}

	info := models.LobbyInfo{
		ID:          uuid.New(),
		Name:        cfg.Name,
		Description: cfg.Description,
		Visibility:  cfg.Visibility,
		State:       models.LobbyWaiting,
		CreatorID:   creatorID,
		EntryFee:    cfg.EntryFee,
		MinPlayers:  cfg.MinPlayers,
		MaxPlayers:  cfg.MaxPlayers,
		CreatedAt:   r.clock.Now(),
	}

	l := &Lobby{Info: info}
	r.mu.Lock()
	r.lobbies[info.ID] = l
	r.mu.Unlock()

	if err := r.store.SaveLobby(ctx, info); err != nil {
		r.log.Warnf("registry: lobby %s created with degraded persistence: %v", info.ID, err)
	}
	r.log.Infof("registry: lobby %s (%s) created by %s", info.ID, cfg.Name, creatorID)
	return info, nil
}

func (r *Registry) get(lobbyID uuid.UUID) *Lobby {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lobbies[lobbyID]
}

// Get returns a copy of the lobby's current info.
func (r *Registry) Get(lobbyID uuid.UUID) (models.LobbyInfo, error) {
	l := r.get(lobbyID)
	if l == nil {
		return models.LobbyInfo{}, ErrLobbyNotFound
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Info, nil
}

// Members returns the lobby's join-ordered member list.
func (r *Registry) Members(lobbyID uuid.UUID) ([]*models.Player, error) {
	l := r.get(lobbyID)
	if l == nil {
		return nil, ErrLobbyNotFound
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*models.Player, len(l.Members))
	copy(out, l.Members)
	return out, nil
}

// List returns every public lobby not yet torn down.
func (r *Registry) List() []models.LobbyInfo {
	r.mu.Lock()
	lobbies := make([]*Lobby, 0, len(r.lobbies))
	for _, l := range r.lobbies {
		lobbies = append(lobbies, l)
	}
	r.mu.Unlock()

	out := make([]models.LobbyInfo, 0, len(lobbies))
	for _, l := range lobbies {
		l.mu.Lock()
		if l.Info.Visibility == "public" {
			out = append(out, l.Info)
		}
		l.mu.Unlock()
	}
	return out
}

// Engine returns the lobby's running engine, or nil while not InProgress.
func (r *Registry) Engine(lobbyID uuid.UUID) *game.Engine {
	l := r.get(lobbyID)
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine
}

// Join admits userID to the lobby. The seat is reserved through the gateway's
// atomic check-and-increment first, so two joins racing for the last seat
// resolve to one winner regardless of which coordinator goroutine runs first.
// Reaching the minimum moves Waiting -> Starting and arms the countdown.
func (r *Registry) Join(ctx context.Context, lobbyID, userID uuid.UUID, displayName string) (models.LobbyInfo, error) {
	l := r.get(lobbyID)
	if l == nil {
		return models.LobbyInfo{}, ErrLobbyNotFound
	}

	l.mu.Lock()
	if l.Info.State == models.LobbyInProgress || l.Info.State == models.LobbyFinished {
		l.mu.Unlock()
		return models.LobbyInfo{}, ErrLobbyStarted
	}
	if l.member(userID) != nil {
		l.mu.Unlock()
		return models.LobbyInfo{}, ErrAlreadyJoined
	}
	max := l.Info.MaxPlayers
	l.mu.Unlock()

	// Reservation happens outside the lobby lock; the gateway counter is the
	// single arbiter for capacity.
	ok, err := r.store.ReserveSeat(ctx, lobbyID, max)
	if err != nil {
		return models.LobbyInfo{}, err
	}
	if !ok {
		return models.LobbyInfo{}, ErrLobbyFull
	}

	l.mu.Lock()
	if l.Info.State == models.LobbyInProgress || l.Info.State == models.LobbyFinished {
		l.mu.Unlock()
		_ = r.store.ReleaseSeat(ctx, lobbyID)
		return models.LobbyInfo{}, ErrLobbyStarted
	}
	// Membership must be re-checked after reacquiring the lock: a concurrent
	// join by the same user may have landed while the seat was being reserved.
	if l.member(userID) != nil {
		l.mu.Unlock()
		_ = r.store.ReleaseSeat(ctx, lobbyID)
		return models.LobbyInfo{}, ErrAlreadyJoined
	}
	player := &models.Player{ID: userID, DisplayName: displayName}
	l.Members = append(l.Members, player)
	l.Info.Players = len(l.Members)
	if l.Info.Pooled() {
		l.Info.PrizePool = l.Info.EntryFee * float64(len(l.Members))
	}

	countdownArmed := false
	if l.Info.State == models.LobbyWaiting && len(l.Members) >= l.Info.MinPlayers {
		l.Info.State = models.LobbyStarting
		r.armCountdownLocked(l)
		countdownArmed = true
	}
	info := l.Info
	members := append([]*models.Player(nil), l.Members...)
	l.mu.Unlock()

	r.saveLobby(ctx, info)
	r.journal(ctx, lobbyID, userID, "joinLobby", nil)
	r.hub.Publish(lobbyID, models.MsgPlayerUpdated, map[string]interface{}{
		"players": members,
		"lobby":   info,
	})
	if countdownArmed {
		r.hub.Publish(lobbyID, models.MsgLobbyCountdown, map[string]interface{}{
			"deadline": info.CountdownDeadline,
			"seconds":  int(r.countdown.Seconds()),
		})
	}
	return info, nil
}

// armCountdownLocked belongs to the registry because the timer callback needs
// registry context. Caller holds l.mu.
func (r *Registry) armCountdownLocked(l *Lobby) {
	deadline := r.clock.Now().Add(r.countdown)
	l.Info.CountdownDeadline = &deadline
	lobbyID := l.Info.ID
	l.countdownTimer = r.clock.AfterFunc(r.countdown, func() {
		r.onCountdown(lobbyID)
	})
}

// Leave removes userID from the lobby. While Starting, dropping below the
// minimum reverts to Waiting and cancels the countdown. While InProgress, the
// departure routes through the engine as a forced elimination.
func (r *Registry) Leave(ctx context.Context, lobbyID, userID uuid.UUID) error {
	l := r.get(lobbyID)
	if l == nil {
		return ErrLobbyNotFound
	}

	l.mu.Lock()
	if l.Info.State == models.LobbyInProgress {
		eng := l.engine
		l.mu.Unlock()
		if eng != nil {
			eng.ForceLeave(userID)
		}
		return nil
	}
	if l.Info.State == models.LobbyFinished {
		l.mu.Unlock()
		return nil
	}
	if !l.removeMember(userID) {
		l.mu.Unlock()
		return ErrNotMember
	}
	l.Info.Players = len(l.Members)
	if l.Info.Pooled() {
		l.Info.PrizePool = l.Info.EntryFee * float64(len(l.Members))
	}

	reverted := false
	if l.Info.State == models.LobbyStarting && len(l.Members) < l.Info.MinPlayers {
		l.Info.State = models.LobbyWaiting
		l.Info.CountdownDeadline = nil
		if l.countdownTimer != nil {
			l.countdownTimer.Stop()
			l.countdownTimer = nil
		}
		reverted = true
	}
	info := l.Info
	members := append([]*models.Player(nil), l.Members...)
	l.mu.Unlock()

	if err := r.store.ReleaseSeat(ctx, lobbyID); err != nil {
		r.log.Warnf("registry: seat release for %s in %s degraded: %v", userID, lobbyID, err)
	}
	r.saveLobby(ctx, info)
	r.journal(ctx, lobbyID, userID, "leaveLobby", nil)
	r.hub.Publish(lobbyID, models.MsgPlayerUpdated, map[string]interface{}{
		"players": members,
		"lobby":   info,
	})
	if reverted {
		r.hub.Publish(lobbyID, models.MsgLobbyCountdown, map[string]interface{}{
			"cancelled": true,
		})
	}
	return nil
}

// Kick removes targetID from a Waiting lobby at the creator's request. Once
// the countdown has begun the roster is settled and kicks are rejected. The
// kicked player gets a direct notice before the roster broadcast.
func (r *Registry) Kick(ctx context.Context, lobbyID, byUserID, targetID uuid.UUID) error {
	l := r.get(lobbyID)
	if l == nil {
		return ErrLobbyNotFound
	}

	l.mu.Lock()
	if l.Info.CreatorID != byUserID {
		l.mu.Unlock()
		return ErrNotCreator
	}
	if l.Info.State != models.LobbyWaiting {
		l.mu.Unlock()
		return ErrLobbyStarted
	}
	target := l.member(targetID)
	if target == nil {
		l.mu.Unlock()
		return ErrNotMember
	}
	l.removeMember(targetID)
	l.Info.Players = len(l.Members)
	if l.Info.Pooled() {
		l.Info.PrizePool = l.Info.EntryFee * float64(len(l.Members))
	}
	info := l.Info
	members := append([]*models.Player(nil), l.Members...)
	l.mu.Unlock()

	if err := r.store.ReleaseSeat(ctx, lobbyID); err != nil {
		r.log.Warnf("registry: seat release for kicked %s in %s degraded: %v", targetID, lobbyID, err)
	}
	r.saveLobby(ctx, info)
	r.journal(ctx, lobbyID, byUserID, "kickPlayer", map[string]interface{}{
		"target": targetID.String(),
	})
	r.hub.PublishTo(lobbyID, targetID, models.MsgNotifyKicked, map[string]interface{}{})
	r.hub.Publish(lobbyID, models.MsgPlayerUpdated, map[string]interface{}{
		"players": members,
		"lobby":   info,
	})
	r.hub.Publish(lobbyID, models.MsgPlayerKicked, map[string]interface{}{
		"playerId":    targetID.String(),
		"displayName": target.DisplayName,
	})
	return nil
}

// SetReady toggles a member's ready flag and broadcasts the roster.
func (r *Registry) SetReady(ctx context.Context, lobbyID, userID uuid.UUID, ready bool) error {
	l := r.get(lobbyID)
	if l == nil {
		return ErrLobbyNotFound
	}
	l.mu.Lock()
	p := l.member(userID)
	if p == nil {
		l.mu.Unlock()
		return ErrNotMember
	}
	p.Ready = ready
	members := append([]*models.Player(nil), l.Members...)
	info := l.Info
	l.mu.Unlock()

	r.saveLobby(ctx, info)
	r.journal(ctx, lobbyID, userID, "setReady", map[string]interface{}{
		"ready": ready,
	})
	r.hub.Publish(lobbyID, models.MsgPlayerUpdated, map[string]interface{}{
		"players": members,
		"lobby":   info,
	})
	return nil
}

// ForceStart lets the creator skip the remainder of the countdown, provided
// the minimum is met.
func (r *Registry) ForceStart(ctx context.Context, lobbyID, userID uuid.UUID) error {
	l := r.get(lobbyID)
	if l == nil {
		return ErrLobbyNotFound
	}
	l.mu.Lock()
	if l.Info.CreatorID != userID {
		l.mu.Unlock()
		return ErrNotCreator
	}
	if l.Info.State != models.LobbyWaiting && l.Info.State != models.LobbyStarting {
		l.mu.Unlock()
		return ErrLobbyStarted
	}
	if len(l.Members) < l.Info.MinPlayers {
		l.mu.Unlock()
		return ErrNotEnough
	}
	if l.countdownTimer != nil {
		l.countdownTimer.Stop()
		l.countdownTimer = nil
	}
	l.mu.Unlock()

	r.startGame(ctx, l, true)
	return nil
}

// onCountdown fires when the Starting countdown elapses.
func (r *Registry) onCountdown(lobbyID uuid.UUID) {
	l := r.get(lobbyID)
	if l == nil {
		return
	}
	l.mu.Lock()
	if l.Info.State != models.LobbyStarting || len(l.Members) < l.Info.MinPlayers {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	r.startGame(context.Background(), l, false)
}

// startGame transitions to InProgress, builds the engine over the current
// member list in join order, wires its callbacks, and starts the first turn.
// The callers' preconditions are re-verified inside the critical section: a
// Leave between the caller's check and this lock may have reverted the lobby
// to Waiting or dropped it below the minimum. force marks the creator path,
// which may start from Waiting; the countdown path requires Starting.
func (r *Registry) startGame(ctx context.Context, l *Lobby, force bool) {
	l.mu.Lock()
	if l.Info.State == models.LobbyInProgress || l.Info.State == models.LobbyFinished {
		l.mu.Unlock()
		return
	}
	if !force && l.Info.State != models.LobbyStarting {
		l.mu.Unlock()
		return
	}
	if len(l.Members) < l.Info.MinPlayers {
		l.mu.Unlock()
		return
	}
	l.Info.State = models.LobbyInProgress
	l.Info.CountdownDeadline = nil
	if l.countdownTimer != nil {
		l.countdownTimer.Stop()
		l.countdownTimer = nil
	}

	lobbyID := l.Info.ID
	players := append([]*models.Player(nil), l.Members...)
	eng := game.NewEngine(lobbyID, players, l.Info.EntryFee, l.Info.PrizePool, r.dict, r.clock, r.log)
	eng.TurnDuration = r.turnDuration
	eng.BroadcastFn = func(msgType string, data map[string]interface{}) {
		r.hub.Publish(lobbyID, msgType, data)
	}
	eng.BroadcastToPlayerFn = func(playerID uuid.UUID, msgType string, data map[string]interface{}) {
		r.hub.PublishTo(lobbyID, playerID, msgType, data)
	}
	eng.CommitFn = func(snap game.Snapshot, results []game.PlayerResult) error {
		return r.commitTurn(lobbyID, snap, results)
	}
	eng.OnGameEnd = func(standings []models.Standing, corrupted bool) {
		go r.finishLobby(lobbyID, corrupted)
	}
	l.engine = eng
	info := l.Info
	l.mu.Unlock()

	r.saveLobby(ctx, info)
	r.journal(ctx, lobbyID, uuid.Nil, "startGame", nil)
	r.hub.Publish(lobbyID, models.MsgGameStateUpdated, map[string]interface{}{
		"state": string(models.LobbyInProgress),
		"lobby": info,
	})
	r.log.Infof("registry: lobby %s started with %d players", lobbyID, len(players))
	eng.Start()
}

// commitTurn persists the snapshot plus stat deltas and forwards the deltas
// to the durable leaderboard handler.
func (r *Registry) commitTurn(lobbyID uuid.UUID, snap game.Snapshot, results []game.PlayerResult) error {
	ctx := context.Background()
	stats := make([]store.PlayerStat, len(results))
	for i, res := range results {
		stats[i] = store.PlayerStat{
			UserID:         res.UserID,
			Rank:           res.Rank,
			Prize:          res.Prize,
			WarsPointDelta: res.WarsPoints,
		}
	}
	err := r.store.CommitTurn(ctx, lobbyID, snap, stats)
	if len(stats) > 0 && r.ResultsFn != nil {
		r.ResultsFn(ctx, stats)
	}
	return err
}

// finishLobby marks the lobby Finished (or Corrupted) and schedules teardown.
// Runs on its own goroutine because the engine signals game end while holding
// its own lock.
func (r *Registry) finishLobby(lobbyID uuid.UUID, corrupted bool) {
	l := r.get(lobbyID)
	if l == nil {
		return
	}
	l.mu.Lock()
	l.Info.State = models.LobbyFinished
	l.Info.Corrupted = corrupted
	info := l.Info
	l.mu.Unlock()

	ctx := context.Background()
	r.saveLobby(ctx, info)
	r.journal(ctx, lobbyID, uuid.Nil, "finishGame", map[string]interface{}{"corrupted": corrupted})
	if corrupted {
		r.log.Errorf("registry: lobby %s finished corrupted, flagged for audit", lobbyID)
	} else {
		r.log.Infof("registry: lobby %s finished", lobbyID)
	}
	r.clock.AfterFunc(finishedRetention, func() {
		r.teardown(lobbyID)
	})
}

// teardown reclaims a Finished lobby: stream state, gateway keys, registry
// entry. Corrupted lobbies keep their gateway record for audit.
func (r *Registry) teardown(lobbyID uuid.UUID) {
	l := r.get(lobbyID)
	if l == nil {
		return
	}
	l.mu.Lock()
	if l.Info.State != models.LobbyFinished {
		l.mu.Unlock()
		return
	}
	corrupted := l.Info.Corrupted
	l.mu.Unlock()

	r.mu.Lock()
	delete(r.lobbies, lobbyID)
	r.mu.Unlock()

	r.hub.CloseLobby(lobbyID)
	if !corrupted {
		if err := r.store.DeleteLobby(context.Background(), lobbyID); err != nil {
			r.log.Warnf("registry: teardown of %s left gateway keys behind: %v", lobbyID, err)
		}
	}
	r.log.Infof("registry: lobby %s torn down", lobbyID)
}

// NotifyDegraded publishes the gateway's degradation state to every live
// lobby, so already-connected clients learn of it without reconnecting.
func (r *Registry) NotifyDegraded(degraded bool) {
	r.mu.Lock()
	ids := make([]uuid.UUID, 0, len(r.lobbies))
	for id := range r.lobbies {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.hub.Publish(id, models.MsgDegraded, map[string]interface{}{
			"degraded": degraded,
		})
	}
}

// journal appends a best-effort audit record for a lifecycle mutation.
func (r *Registry) journal(ctx context.Context, lobbyID, actorID uuid.UUID, typ string, payload map[string]interface{}) {
	rec := store.MutationRecord{
		LobbyID:   lobbyID,
		Seq:       r.hub.Seq(lobbyID),
		ActorID:   actorID,
		Type:      typ,
		Payload:   payload,
		Timestamp: r.clock.Now().Unix(),
	}
	if err := r.store.JournalMutation(ctx, rec); err != nil {
		r.log.Debugf("registry: journal %s for %s skipped: %v", typ, lobbyID, err)
	}
}

func (r *Registry) saveLobby(ctx context.Context, info models.LobbyInfo) {
	if err := r.store.SaveLobby(ctx, info); err != nil {
		r.log.Warnf("registry: lobby %s state mirror degraded: %v", info.ID, err)
	}
}
