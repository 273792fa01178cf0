// internal/game/engine_test.go
package game

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiwars/backend/internal/clock"
	"github.com/lexiwars/backend/internal/models"
	"github.com/lexiwars/backend/internal/words"
)

// mockBroadcaster collects events instead of sending them over WS.
type mockBroadcaster struct {
	mu           sync.Mutex
	allEvents    []mockEvent
	playerEvents map[uuid.UUID][]mockEvent
}

type mockEvent struct {
	typ  string
	data map[string]interface{}
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{playerEvents: make(map[uuid.UUID][]mockEvent)}
}

func (mb *mockBroadcaster) broadcastFn(msgType string, data map[string]interface{}) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.allEvents = append(mb.allEvents, mockEvent{typ: msgType, data: data})
}

func (mb *mockBroadcaster) broadcastToPlayerFn(playerID uuid.UUID, msgType string, data map[string]interface{}) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.playerEvents[playerID] = append(mb.playerEvents[playerID], mockEvent{typ: msgType, data: data})
}

func (mb *mockBroadcaster) eventsOfType(msgType string) []mockEvent {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	var out []mockEvent
	for _, ev := range mb.allEvents {
		if ev.typ == msgType {
			out = append(out, ev)
		}
	}
	return out
}

func (mb *mockBroadcaster) lastPlayerEvent(playerID uuid.UUID, msgType string) *mockEvent {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	events := mb.playerEvents[playerID]
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].typ == msgType {
			return &events[i]
		}
	}
	return nil
}

// setupTestEngine builds a started engine with a fixed random letter and a
// manually driven clock.
func setupTestEngine(t *testing.T, numPlayers int, dictWords []string) (*Engine, []*models.Player, *mockBroadcaster, *clock.Fake) {
	t.Helper()
	players := make([]*models.Player, numPlayers)
	for i := range players {
		players[i] = &models.Player{ID: uuid.New(), DisplayName: fmt.Sprintf("player-%d", i+1)}
	}
	fc := clock.NewFake(time.Unix(1700000000, 0))
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	g := NewEngine(uuid.New(), players, 0, 0, words.FromSlice(dictWords), fc, logger)
	g.letterFn = func() rune { return 'a' }
	g.ruleCtx.RandomLetter = 'a'

	mb := newMockBroadcaster()
	g.BroadcastFn = mb.broadcastFn
	g.BroadcastToPlayerFn = mb.broadcastToPlayerFn

	g.Start()
	return g, players, mb, fc
}

func TestSubmitWordOutOfTurn(t *testing.T) {
	g, players, _, _ := setupTestEngine(t, 3, []string{"apple"})

	err := g.SubmitWord(players[1].ID, "apple")
	assert.ErrorIs(t, err, ErrNotYourTurn)
	assert.Equal(t, players[0].ID, g.CurrentTurn())
}

func TestSubmitWordAdvancesTurn(t *testing.T) {
	g, players, mb, _ := setupTestEngine(t, 3, []string{"apple", "grape"})

	require.NoError(t, g.SubmitWord(players[0].ID, "apple"))
	assert.Equal(t, players[1].ID, g.CurrentTurn())

	entries := mb.eventsOfType(models.MsgWordEntry)
	require.Len(t, entries, 1)
	assert.Equal(t, "apple", entries[0].data["word"])

	// Rule and turn are re-announced after every accepted word.
	assert.NotEmpty(t, mb.eventsOfType(models.MsgRule))
	assert.NotEmpty(t, mb.eventsOfType(models.MsgTurn))
}

func TestSubmitWordRejectsUnknownWord(t *testing.T) {
	g, players, mb, _ := setupTestEngine(t, 2, []string{"apple"})

	err := g.SubmitWord(players[0].ID, "zzzz")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, models.MsgValidate, verr.Kind)

	// Rejection is sender-only: no broadcast, no turn change.
	assert.Empty(t, mb.eventsOfType(models.MsgWordEntry))
	assert.Equal(t, players[0].ID, g.CurrentTurn())
}

func TestSubmitWordRejectsDuplicate(t *testing.T) {
	g, players, _, _ := setupTestEngine(t, 2, []string{"apple", "grape"})

	require.NoError(t, g.SubmitWord(players[0].ID, "apple"))
	err := g.SubmitWord(players[1].ID, "apple")

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, models.MsgUsedWord, verr.Kind)
	assert.Equal(t, 1, g.UsedWordCount())
}

func TestNormalizedDuplicateRejected(t *testing.T) {
	g, players, _, _ := setupTestEngine(t, 2, []string{"cafe", "grape"})

	require.NoError(t, g.SubmitWord(players[0].ID, "cafe"))

	// Same word modulo case and diacritics.
	err := g.SubmitWord(players[1].ID, "CAFÉ")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, models.MsgUsedWord, verr.Kind)
}

func TestRuleAdvancesWhenTurnWraps(t *testing.T) {
	g, players, _, _ := setupTestEngine(t, 2, []string{"apple", "grape", "melon", "salad"})

	require.NoError(t, g.SubmitWord(players[0].ID, "apple"))
	require.NoError(t, g.SubmitWord(players[1].ID, "grape"))

	// Turn wrapped: active rule is now containsLetter with letter 'a'.
	err := g.SubmitWord(players[0].ID, "melon")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "'a'")

	require.NoError(t, g.SubmitWord(players[0].ID, "salad"))
}

func TestTimeoutEliminatesCurrentPlayer(t *testing.T) {
	g, players, mb, fc := setupTestEngine(t, 3, []string{"apple"})

	fc.Advance(15 * time.Second)

	assert.Equal(t, players[1].ID, g.CurrentTurn())

	rankEv := mb.lastPlayerEvent(players[0].ID, models.MsgRank)
	require.NotNil(t, rankEv)
	assert.Equal(t, "3", rankEv.data["rank"])

	updates := mb.eventsOfType(models.MsgPlayerUpdated)
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, players[0].ID.String(), last.data["eliminated"])
	assert.Equal(t, string(CauseTimeout), last.data["cause"])
}

func TestSubmissionBeatsTimeout(t *testing.T) {
	g, players, _, fc := setupTestEngine(t, 3, []string{"apple"})

	fc.Advance(10 * time.Second)
	require.NoError(t, g.SubmitWord(players[0].ID, "apple"))

	// The original deadline elapses, but the accepted submission already
	// rotated the turn; the stale timer must be a no-op.
	fc.Advance(5 * time.Second)

	assert.Equal(t, players[1].ID, g.CurrentTurn())
	assert.False(t, g.isOut(players[0].ID))
}

func TestTimeoutBeatsSubmission(t *testing.T) {
	g, players, _, fc := setupTestEngine(t, 3, []string{"apple"})

	fc.Advance(15 * time.Second)

	// The late submission from the eliminated holder lost the race and gets
	// a definitive stale outcome, not a retry.
	err := g.SubmitWord(players[0].ID, "apple")
	assert.ErrorIs(t, err, ErrStaleTurn)
}

func TestForceLeaveAppliesFixedPenaltyOnce(t *testing.T) {
	g, players, mb, _ := setupTestEngine(t, 3, []string{"apple"})

	g.ForceLeave(players[1].ID)

	require.NotNil(t, players[1].Rank)
	assert.Equal(t, 3, *players[1].Rank)
	assert.Equal(t, float64(LeavePenalty), players[1].WarsPointDelta)
	assert.Zero(t, players[1].Prize)

	pointEv := mb.lastPlayerEvent(players[1].ID, models.MsgWarsPoint)
	require.NotNil(t, pointEv)
	assert.Equal(t, float64(LeavePenalty), pointEv.data["warsPoint"])

	// Leaving again is a no-op; the penalty never compounds.
	g.ForceLeave(players[1].ID)
	assert.Equal(t, float64(LeavePenalty), players[1].WarsPointDelta)
}

func TestLeaveOfNonHolderKeepsTurn(t *testing.T) {
	g, players, _, _ := setupTestEngine(t, 4, []string{"apple", "grape"})

	require.NoError(t, g.SubmitWord(players[0].ID, "apple"))
	require.Equal(t, players[1].ID, g.CurrentTurn())

	g.ForceLeave(players[3].ID)
	assert.Equal(t, players[1].ID, g.CurrentTurn())

	g.ForceLeave(players[0].ID)
	assert.Equal(t, players[1].ID, g.CurrentTurn())
}

func TestLastPlayerStandingWins(t *testing.T) {
	g, players, mb, fc := setupTestEngine(t, 2, []string{"apple"})

	var gotStandings []models.Standing
	var gotCorrupted bool
	g.OnGameEnd = func(standings []models.Standing, corrupted bool) {
		gotStandings = standings
		gotCorrupted = corrupted
	}

	fc.Advance(15 * time.Second)

	assert.Equal(t, PhaseFinished, g.Phase)
	assert.False(t, gotCorrupted)
	require.Len(t, gotStandings, 2)
	assert.Equal(t, players[1].ID, gotStandings[0].Player.ID)
	assert.Equal(t, 1, gotStandings[0].Rank)
	assert.Equal(t, players[0].ID, gotStandings[1].Player.ID)
	assert.Equal(t, 2, gotStandings[1].Rank)

	// Unpooled two-player game: winner 4 points, loser 2.
	assert.Equal(t, float64(4), players[1].WarsPointDelta)
	assert.Equal(t, float64(2), players[0].WarsPointDelta)

	assert.Len(t, mb.eventsOfType(models.MsgGameOver), 1)
	standingEvents := mb.eventsOfType(models.MsgFinalStanding)
	require.Len(t, standingEvents, 1)

	assert.ErrorIs(t, g.SubmitWord(players[1].ID, "apple"), ErrGameOver)
}

func TestEliminationOrderProducesRankPermutation(t *testing.T) {
	g, players, _, fc := setupTestEngine(t, 4, []string{"apple"})

	var gotStandings []models.Standing
	g.OnGameEnd = func(standings []models.Standing, _ bool) { gotStandings = standings }

	// Everyone times out in turn order until one remains.
	fc.Advance(15 * time.Second)
	fc.Advance(15 * time.Second)
	fc.Advance(15 * time.Second)

	require.Len(t, gotStandings, 4)
	ranks := make(map[int]uuid.UUID)
	for _, s := range gotStandings {
		ranks[s.Rank] = s.Player.ID
	}
	assert.Equal(t, players[3].ID, ranks[1])
	assert.Equal(t, players[2].ID, ranks[2])
	assert.Equal(t, players[1].ID, ranks[3])
	assert.Equal(t, players[0].ID, ranks[4])
}

func TestCommitRunsBeforeBroadcast(t *testing.T) {
	g, players, mb, _ := setupTestEngine(t, 2, []string{"apple"})

	var commits []Snapshot
	g.CommitFn = func(snap Snapshot, _ []PlayerResult) error {
		commits = append(commits, snap)
		// Nothing about this word may have been broadcast yet.
		assert.Empty(t, mb.eventsOfType(models.MsgWordEntry))
		return nil
	}

	require.NoError(t, g.SubmitWord(players[0].ID, "apple"))
	require.Len(t, commits, 1)
	assert.Equal(t, []string{"apple"}, commits[0].UsedWords)
	assert.Equal(t, 1, commits[0].CurrentTurnIndex)
}

func TestCommitFailureDoesNotHaltGame(t *testing.T) {
	g, players, _, _ := setupTestEngine(t, 3, []string{"apple", "grape"})

	g.CommitFn = func(Snapshot, []PlayerResult) error {
		return fmt.Errorf("persistence unavailable")
	}

	require.NoError(t, g.SubmitWord(players[0].ID, "apple"))
	assert.Equal(t, players[1].ID, g.CurrentTurn())
	require.NoError(t, g.SubmitWord(players[1].ID, "grape"))
}

func TestCorruptTurnPointerAbortsWithoutPrizes(t *testing.T) {
	g, players, mb, _ := setupTestEngine(t, 3, []string{"apple"})

	var gotCorrupted bool
	g.OnGameEnd = func(_ []models.Standing, corrupted bool) { gotCorrupted = corrupted }

	g.Mu.Lock()
	g.currentIdx = 99
	g.Mu.Unlock()

	err := g.SubmitWord(players[0].ID, "apple")
	assert.ErrorIs(t, err, ErrGameOver)
	assert.True(t, gotCorrupted)
	assert.Equal(t, PhaseFinished, g.Phase)
	assert.NotEmpty(t, mb.eventsOfType(models.MsgError))
	for _, p := range players {
		assert.Zero(t, p.Prize)
	}
}
