// internal/game/engine.go
package game

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lexiwars/backend/internal/clock"
	"github.com/lexiwars/backend/internal/models"
	"github.com/lexiwars/backend/internal/words"
)

// Phase is the engine's state machine position.
type Phase string

const (
	PhaseAwaitingTurn Phase = "awaitingTurn"
	PhaseEvaluating   Phase = "evaluating"
	PhaseEliminating  Phase = "eliminating"
	PhaseFinished     Phase = "finished"
)

// Cause labels why a player left the turn order.
type Cause string

const (
	CauseTimeout Cause = "timeout"
	CauseLeave   Cause = "leave"
)

var (
	// ErrNotYourTurn rejects a submission from anyone but the turn holder.
	ErrNotYourTurn = errors.New("not your turn")

	// ErrStaleTurn rejects a submission that lost the race against a timeout
	// (or other mutation) for the same turn. Definitive: no retry, no merge.
	ErrStaleTurn = errors.New("stale turn")

	// ErrGameOver rejects any mutation after the session finished.
	ErrGameOver = errors.New("game is over")
)

// ValidationError is a non-fatal word rejection, delivered only to the
// offending sender. Kind distinguishes the rejection surface on the wire.
type ValidationError struct {
	Kind   string // "validate" or "usedWord"
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Snapshot is the per-turn persisted view of a session. A restart resumes
// from the last committed snapshot rather than replaying the session.
type Snapshot struct {
	LobbyID          uuid.UUID   `json:"lobbyId"`
	TurnOrder        []uuid.UUID `json:"turnOrder"`
	CurrentTurnIndex int         `json:"currentTurnIndex"`
	TurnID           int         `json:"turnId"`
	RuleIndex        int         `json:"ruleIndex"`
	MinWordLength    int         `json:"minWordLength"`
	RandomLetter     string      `json:"randomLetter"`
	UsedWords        []string    `json:"usedWords"`
	EliminationOrder []uuid.UUID `json:"eliminationOrder"`
	TurnDeadline     time.Time   `json:"turnDeadline"`
	Phase            Phase       `json:"phase"`
}

// Engine runs one word-battle session for an in-progress lobby. All
// mutations (submissions, timeouts, forced leaves) serialize on Mu; a turn
// deadline firing concurrently with a last-instant submission is ordered by
// whichever acquires the lock first, and the loser is rejected as stale.
type Engine struct {
	LobbyID uuid.UUID
	Mu      sync.Mutex

	// Players is the active turn order; it never contains an eliminated
	// user. eliminated is append-only, first out first.
	Players    []*models.Player
	eliminated []*models.Player

	originalCount int
	usedWords     map[string]struct{}
	leavers       map[uuid.UUID]bool

	ruleCtx    RuleContext
	ruleIndex  int
	currentIdx int
	turnID     int

	Phase        Phase
	TurnDuration time.Duration
	turnTimer    clock.Timer
	turnDeadline time.Time

	EntryFee  float64
	PrizePool float64

	Clock clock.Clock
	Dict  *words.Dictionary

	// letterFn picks the next random letter; overridable in tests.
	letterFn func() rune

	// BroadcastFn publishes a committed event to every lobby subscriber.
	BroadcastFn func(msgType string, data map[string]interface{})

	// BroadcastToPlayerFn sends a sender-only frame (rejections, personal
	// results) to one player.
	BroadcastToPlayerFn func(playerID uuid.UUID, msgType string, data map[string]interface{})

	// CommitFn durably persists the snapshot and any stat deltas before the
	// corresponding broadcast is considered final. A store.ErrUnavailable
	// return degrades but does not halt the game.
	CommitFn func(snap Snapshot, results []PlayerResult) error

	// OnGameEnd receives the final standings once, when the session
	// transitions to Finished. corrupted is true for aborted sessions.
	OnGameEnd func(standings []models.Standing, corrupted bool)

	log *logrus.Logger
}

// NewEngine builds a session over the given turn order (join order). The
// caller wires the broadcast/commit callbacks before Start.
func NewEngine(lobbyID uuid.UUID, players []*models.Player, entryFee, prizePool float64, dict *words.Dictionary, clk clock.Clock, logger *logrus.Logger) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Engine{
		LobbyID:       lobbyID,
		Players:       players,
		originalCount: len(players),
		usedWords:     make(map[string]struct{}),
		leavers:       make(map[uuid.UUID]bool),
		ruleCtx:       RuleContext{MinWordLength: 4, RandomLetter: 'a' + rune(rng.Intn(26))},
		Phase:         PhaseAwaitingTurn,
		TurnDuration:  15 * time.Second,
		EntryFee:      entryFee,
		PrizePool:     prizePool,
		Clock:         clk,
		Dict:          dict,
		letterFn:      func() rune { return 'a' + rune(rng.Intn(26)) },
		log:           logger,
	}
}

// Start announces the opening rule and first turn and arms the deadline.
func (g *Engine) Start() {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	if g.Phase == PhaseFinished {
		return
	}
	g.armTurn()
	g.commit(nil)
	g.broadcastRule()
	g.broadcastTurn()
}

// CurrentTurn returns the userID holding the turn, or uuid.Nil once finished.
func (g *Engine) CurrentTurn() uuid.UUID {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	if g.Phase == PhaseFinished || len(g.Players) == 0 {
		return uuid.Nil
	}
	return g.Players[g.currentIdx].ID
}

// UsedWordCount reports how many words have been accepted this session.
func (g *Engine) UsedWordCount() int {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	return len(g.usedWords)
}

// SubmitWord evaluates a word from userID against the active rule pipeline.
// Accepted words grow usedWords, advance the turn, and reset the deadline.
// Rejections return an error for the sender only; nothing is broadcast and
// no state changes.
func (g *Engine) SubmitWord(userID uuid.UUID, raw string) error {
	g.Mu.Lock()
	defer g.Mu.Unlock()

	if g.Phase == PhaseFinished {
		return ErrGameOver
	}
	if err := g.checkIntegrity(); err != nil {
		g.abort(err)
		return ErrGameOver
	}
	holder := g.Players[g.currentIdx]
	if holder.ID != userID {
		// A submission from a player this session already removed lost a
		// race against the mutation that removed them.
		if g.isOut(userID) {
			return ErrStaleTurn
		}
		return ErrNotYourTurn
	}

	g.Phase = PhaseEvaluating
	word := words.Normalize(raw)

	if err := g.evaluate(word); err != nil {
		g.Phase = PhaseAwaitingTurn
		return err
	}

	g.usedWords[word] = struct{}{}
	holder.UsedWords = append(holder.UsedWords, word)

	sender := holder
	g.advanceTurn()
	g.Phase = PhaseAwaitingTurn
	g.commit(nil)

	g.broadcast(models.MsgWordEntry, map[string]interface{}{
		"word":   word,
		"sender": sender,
	})
	g.broadcastRule()
	g.broadcastTurn()
	return nil
}

// evaluate runs the fixed-order rejection pipeline: dictionary membership,
// used-word uniqueness, then the active rule predicates. The first failure
// decides the reason.
func (g *Engine) evaluate(word string) error {
	if g.Dict != nil && !g.Dict.Contains(word) {
		return &ValidationError{Kind: models.MsgValidate, Reason: "Invalid word"}
	}
	if _, used := g.usedWords[word]; used {
		return &ValidationError{Kind: models.MsgUsedWord, Reason: word}
	}
	for _, rule := range pipeline(g.ruleIndex, &g.ruleCtx) {
		if err := rule.Validate(word, &g.ruleCtx); err != nil {
			return &ValidationError{Kind: models.MsgValidate, Reason: err.Error()}
		}
	}
	return nil
}

// advanceTurn moves to the next player in order, wrapping. A wrap advances
// the rule list; a full cycle through the rules raises the difficulty. The
// random letter re-rolls on every accepted word.
func (g *Engine) advanceTurn() {
	next := (g.currentIdx + 1) % len(g.Players)
	if next == 0 {
		g.ruleIndex = (g.ruleIndex + 1) % RuleCount(&g.ruleCtx)
		if g.ruleIndex == 0 {
			g.ruleCtx.MinWordLength += 2
		}
	}
	g.ruleCtx.RandomLetter = g.letterFn()
	g.currentIdx = next
	g.armTurn()
}

// armTurn resets the deadline timer for the current holder. The timer fires
// as an ordinary mutation through the same lock, so deadline-vs-submission
// races resolve by arrival order at the serialization point.
func (g *Engine) armTurn() {
	if g.turnTimer != nil {
		g.turnTimer.Stop()
	}
	g.turnID++
	g.turnDeadline = g.Clock.Now().Add(g.TurnDuration)
	tid := g.turnID
	g.turnTimer = g.Clock.AfterFunc(g.TurnDuration, func() {
		g.onDeadline(tid)
	})
}

// onDeadline eliminates the turn holder if the turn is still open. A stale
// turnID means an accepted submission won the race; the timeout is a no-op.
func (g *Engine) onDeadline(turnID int) {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	if g.Phase == PhaseFinished || turnID != g.turnID {
		return
	}
	if err := g.checkIntegrity(); err != nil {
		g.abort(err)
		return
	}
	holder := g.Players[g.currentIdx]
	g.log.Infof("game %s: player %s timed out on turn %d", g.LobbyID, holder.ID, turnID)
	g.eliminate(holder.ID, CauseTimeout)
}

// ForceLeave removes a player who left the lobby mid-game. It is routed from
// the registry as a forced elimination carrying the fixed leave penalty.
func (g *Engine) ForceLeave(userID uuid.UUID) {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	if g.Phase == PhaseFinished || g.isOut(userID) {
		return
	}
	g.eliminate(userID, CauseLeave)
}

// isOut reports whether the user has been removed from the turn order.
func (g *Engine) isOut(userID uuid.UUID) bool {
	for _, p := range g.eliminated {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// eliminate removes userID from the turn order and appends to the
// elimination order. Elimination rank equals the remaining player count at
// the time of removal, so the last player standing holds rank 1.
func (g *Engine) eliminate(userID uuid.UUID, cause Cause) {
	g.Phase = PhaseEliminating

	idx := -1
	for i, p := range g.Players {
		if p.ID == userID {
			idx = i
			break
		}
	}
	if idx == -1 {
		g.Phase = PhaseAwaitingTurn
		return
	}

	holderEliminated := idx == g.currentIdx
	player := g.Players[idx]
	rank := len(g.Players)
	player.Rank = &rank
	g.Players = append(g.Players[:idx], g.Players[idx+1:]...)
	g.eliminated = append(g.eliminated, player)

	var result PlayerResult
	if cause == CauseLeave {
		// Fixed penalty, no positional rank credit, applied exactly once.
		g.leavers[userID] = true
		player.Prize = 0
		player.WarsPointDelta = LeavePenalty
		result = PlayerResult{UserID: userID, Rank: rank, WarsPoints: LeavePenalty}
	} else {
		prize := Prize(g.PrizePool, g.originalCount, rank)
		points := WarsPoints(g.originalCount, rank, prize, g.EntryFee, g.PrizePool > 0)
		player.Prize = prize
		player.WarsPointDelta = points
		result = PlayerResult{UserID: userID, Rank: rank, Prize: prize, WarsPoints: points}
	}

	if len(g.Players) <= 1 {
		g.finish([]PlayerResult{result})
		return
	}

	// The removal shifted indices. When the holder went out, the slot
	// previously after them now sits at idx and gets a fresh turn; otherwise
	// the holder keeps the turn and only the pointer adjusts.
	if holderEliminated {
		if idx >= len(g.Players) {
			idx = 0
		}
		g.currentIdx = idx
		g.armTurn()
	} else if idx < g.currentIdx {
		g.currentIdx--
	}
	g.Phase = PhaseAwaitingTurn
	g.commit([]PlayerResult{result})

	g.sendResult(player, &result)
	g.broadcast(models.MsgPlayerUpdated, map[string]interface{}{
		"players":    g.standingSoFar(),
		"eliminated": player.ID.String(),
		"cause":      string(cause),
	})
	g.broadcastRule()
	g.broadcastTurn()
}

// finish closes the session: remaining players take the top ranks, results
// are committed atomically with the final snapshot, and standings broadcast.
func (g *Engine) finish(pending []PlayerResult) {
	g.Phase = PhaseFinished
	if g.turnTimer != nil {
		g.turnTimer.Stop()
		g.turnTimer = nil
	}

	results := pending
	for i, p := range g.Players {
		rank := i + 1
		p.Rank = &rank
		prize := Prize(g.PrizePool, g.originalCount, rank)
		points := WarsPoints(g.originalCount, rank, prize, g.EntryFee, g.PrizePool > 0)
		p.Prize = prize
		p.WarsPointDelta = points
		results = append(results, PlayerResult{UserID: p.ID, Rank: rank, Prize: prize, WarsPoints: points})
	}

	standings := g.finalStandings()
	g.commit(results)

	for _, p := range g.Players {
		res := PlayerResult{UserID: p.ID, Rank: *p.Rank, Prize: p.Prize, WarsPoints: p.WarsPointDelta}
		g.sendResult(p, &res)
	}

	g.broadcast(models.MsgGameOver, map[string]interface{}{})
	g.broadcast(models.MsgFinalStanding, map[string]interface{}{
		"standing": standings,
	})

	if g.OnGameEnd != nil {
		g.OnGameEnd(standings, false)
	}
}

// abort terminates a corrupted session: no prize distribution, every
// participant notified, lobby flagged for audit by the registry.
func (g *Engine) abort(cause error) {
	g.log.Errorf("game %s: aborting corrupted session: %v", g.LobbyID, cause)
	g.Phase = PhaseFinished
	if g.turnTimer != nil {
		g.turnTimer.Stop()
		g.turnTimer = nil
	}
	g.broadcast(models.MsgError, map[string]interface{}{
		"message": "session aborted due to internal error; no prizes will be distributed",
	})
	if g.OnGameEnd != nil {
		g.OnGameEnd(nil, true)
	}
}

// checkIntegrity verifies the turn pointer references a live player. A
// pointer landing on an eliminated or out-of-range player is unrecoverable.
func (g *Engine) checkIntegrity() error {
	if len(g.Players) == 0 {
		return fmt.Errorf("no players remain while session active")
	}
	if g.currentIdx < 0 || g.currentIdx >= len(g.Players) {
		return fmt.Errorf("turn index %d out of range (%d players)", g.currentIdx, len(g.Players))
	}
	if g.isOut(g.Players[g.currentIdx].ID) {
		return fmt.Errorf("turn holder %s already eliminated", g.Players[g.currentIdx].ID)
	}
	return nil
}

// finalStandings orders remaining players first, then the eliminated in
// reverse elimination order, forming a rank permutation 1..N.
func (g *Engine) finalStandings() []models.Standing {
	standings := make([]models.Standing, 0, g.originalCount)
	for i, p := range g.Players {
		standings = append(standings, models.Standing{Player: p, Rank: i + 1})
	}
	for i := len(g.eliminated) - 1; i >= 0; i-- {
		p := g.eliminated[i]
		standings = append(standings, models.Standing{Player: p, Rank: len(standings) + 1})
	}
	return standings
}

// standingSoFar lists active players for mid-game playerUpdated events.
func (g *Engine) standingSoFar() []*models.Player {
	out := make([]*models.Player, len(g.Players))
	copy(out, g.Players)
	return out
}

// Snapshot captures the persisted view of the session under the lock.
func (g *Engine) snapshotLocked() Snapshot {
	order := make([]uuid.UUID, len(g.Players))
	for i, p := range g.Players {
		order[i] = p.ID
	}
	elim := make([]uuid.UUID, len(g.eliminated))
	for i, p := range g.eliminated {
		elim[i] = p.ID
	}
	used := make([]string, 0, len(g.usedWords))
	for w := range g.usedWords {
		used = append(used, w)
	}
	return Snapshot{
		LobbyID:          g.LobbyID,
		TurnOrder:        order,
		CurrentTurnIndex: g.currentIdx,
		TurnID:           g.turnID,
		RuleIndex:        g.ruleIndex,
		MinWordLength:    g.ruleCtx.MinWordLength,
		RandomLetter:     string(g.ruleCtx.RandomLetter),
		UsedWords:        used,
		EliminationOrder: elim,
		TurnDeadline:     g.turnDeadline,
		Phase:            g.Phase,
	}
}

// commit persists the snapshot plus any stat deltas before the broadcast is
// considered final. Persistence failure degrades (the store flags itself and
// retries internally); gameplay continues in-memory.
func (g *Engine) commit(results []PlayerResult) {
	if g.CommitFn == nil {
		return
	}
	if err := g.CommitFn(g.snapshotLocked(), results); err != nil {
		g.log.Warnf("game %s: commit proceeding in-memory: %v", g.LobbyID, err)
	}
}

// sendResult delivers rank, prize, and wars point frames to one player.
func (g *Engine) sendResult(p *models.Player, res *PlayerResult) {
	if g.BroadcastToPlayerFn == nil {
		return
	}
	g.BroadcastToPlayerFn(p.ID, models.MsgRank, map[string]interface{}{
		"rank": fmt.Sprintf("%d", res.Rank),
	})
	if res.Prize > 0 {
		g.BroadcastToPlayerFn(p.ID, models.MsgPrize, map[string]interface{}{
			"amount": res.Prize,
		})
	}
	g.BroadcastToPlayerFn(p.ID, models.MsgWarsPoint, map[string]interface{}{
		"warsPoint": res.WarsPoints,
	})
}

func (g *Engine) broadcast(msgType string, data map[string]interface{}) {
	if g.BroadcastFn != nil {
		g.BroadcastFn(msgType, data)
	}
}

func (g *Engine) broadcastRule() {
	rule := RuleByIndex(g.ruleIndex, &g.ruleCtx)
	g.broadcast(models.MsgRule, map[string]interface{}{
		"rule": rule.Description,
	})
}

func (g *Engine) broadcastTurn() {
	if len(g.Players) == 0 || g.Phase == PhaseFinished {
		return
	}
	g.broadcast(models.MsgTurn, map[string]interface{}{
		"currentTurn": g.Players[g.currentIdx],
	})
}
