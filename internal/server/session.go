package server

import (
	"context"
	"errors"
	"fmt"
	rand "math/rand/v2"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/tonkhouse/tonkd/internal/bot"
	"github.com/tonkhouse/tonkd/internal/deck"
	"github.com/tonkhouse/tonkd/internal/game"
	"github.com/tonkhouse/tonkd/internal/store"
	"github.com/tonkhouse/tonkd/internal/wallet"
)

// Table lifecycle statuses.
const (
	tableWaiting = "waiting"
	tableInGame  = "in-game"
)

// joinHeadroom is how many antes a wallet must cover before a seat is
// granted, so one bad round does not strand the player mid-table.
const joinHeadroom = 4

// ErrTableBusy is returned when the per-table lock is contended; the
// winning actor completes the operation and the caller simply skips.
var ErrTableBusy = errors.New("table is busy, try again")

// ErrTableFull rejects joins beyond the table's seat count.
var ErrTableFull = errors.New("table is full")

// Broadcaster fans server events out to a table's subscribers.
type Broadcaster interface {
	BroadcastToTable(tableID string, msg *Message)
	SendToUser(userID string, msg *Message) error
}

// Wallet is the settlement boundary the session drives at round edges.
type Wallet interface {
	Balance(ctx context.Context, userID string) (int64, error)
	CollectAntes(ctx context.Context, st *game.State) error
	Settle(ctx context.Context, st *game.State, payouts *game.Payouts) error
}

// Session is the per-table singleton. It owns the table's game state:
// every mutation happens under its mutex, in the order events arrive,
// and is persisted to the store before it is broadcast. Timers (bot
// think, round transition) re-validate state when they fire, so a stale
// fire is a no-op.
type Session struct {
	tableID  string
	cfg      TableConfig
	settings ServerSettings

	store      store.Store
	wallet     Wallet
	broadcast  Broadcaster
	clock      quartz.Clock
	rng        *rand.Rand
	strategist *bot.Strategist
	logger     *log.Logger

	mu                  sync.Mutex
	status              string
	dealerIdx           int
	botSeq              int
	actionSeq           int
	settlePending       bool
	transitionScheduled bool
}

// NewSession creates the session for one configured table.
func NewSession(cfg TableConfig, settings ServerSettings, st store.Store, w Wallet, b Broadcaster, clock quartz.Clock, rng *rand.Rand, logger *log.Logger) *Session {
	return &Session{
		tableID:    cfg.Name,
		cfg:        cfg,
		settings:   settings,
		store:      st,
		wallet:     w,
		broadcast:  b,
		clock:      clock,
		rng:        rng,
		strategist: bot.New(rng),
		logger:     logger.WithPrefix("session").With("table", cfg.Name),
		status:     tableWaiting,
	}
}

// TableID returns the table this session owns.
func (s *Session) TableID() string {
	return s.tableID
}

// Info summarises the table for lobby and update events.
func (s *Session) Info() TableInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

func (s *Session) infoLocked() TableInfo {
	members := s.store.Players(s.tableID)
	seats := make([]TableSeat, len(members))
	for i, m := range members {
		seats[i] = TableSeat{UserID: m.UserID, IsAI: m.IsAI}
	}
	return TableInfo{
		Name:               s.tableID,
		Stake:              s.cfg.Stake,
		MinPlayers:         s.cfg.MinPlayers,
		MaxPlayers:         s.cfg.MaxPlayers,
		CurrentPlayerCount: len(seats),
		Players:            seats,
		Status:             s.status,
	}
}

// HandleJoin seats a player, or resends state to a player already
// seated. Seating requires headroom of several antes in the wallet.
// Reaching the minimum seat count starts a round; a lone human gets a
// bot opponent immediately.
func (s *Session) HandleJoin(ctx context.Context, userID, username, avatarURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seated := s.store.PlayerInfo(s.tableID, userID); seated {
		s.logger.Debug("rejoin, resending state", "user", userID)
		s.sendStateTo(userID, EventInitialGameState)
		return nil
	}

	members := s.store.Players(s.tableID)
	if len(members) >= s.cfg.MaxPlayers {
		return ErrTableFull
	}

	balance, err := s.wallet.Balance(ctx, userID)
	if err != nil {
		return err
	}
	if balance < joinHeadroom*s.cfg.Stake {
		return fmt.Errorf("%w: need %d to sit at a %d table",
			wallet.ErrInsufficientFunds, joinHeadroom*s.cfg.Stake, s.cfg.Stake)
	}

	s.store.SetPlayerInfo(s.tableID, store.PlayerInfo{
		UserID: userID, Username: username, AvatarURL: avatarURL,
	})
	s.logger.Info("player joined", "user", userID, "username", username)
	s.broadcastTableUpdate(fmt.Sprintf("%s joined the table", username), nil)

	// A single waiting human gets a bot so a 1v1 can start right away.
	if s.status == tableWaiting && s.humanCount() == 1 && len(s.store.Players(s.tableID)) == 1 {
		s.addBot()
	}

	if s.status == tableWaiting && len(s.store.Players(s.tableID)) >= s.cfg.MinPlayers {
		s.startRound(ctx)
	}
	return nil
}

// HandleLeave removes a player immediately, under the per-table lock.
func (s *Session) HandleLeave(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.store.TryLock(s.tableID, s.settings.LockTTL()) {
		return ErrTableBusy
	}
	defer s.store.Unlock(s.tableID)

	return s.removePlayerLocked(ctx, userID)
}

// HandleRequestLeave queues a departure for the end of the round.
func (s *Session) HandleRequestLeave(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seated := s.store.PlayerInfo(s.tableID, userID); !seated {
		return game.ErrUnknownPlayer
	}
	s.store.MarkLeaving(s.tableID, userID)
	msg, err := NewMessage(EventAckLeaveRequest, AckLeaveRequestData{})
	if err != nil {
		return err
	}
	return s.broadcast.SendToUser(userID, msg)
}

// HandleDisconnect is a leave triggered by the transport.
func (s *Session) HandleDisconnect(ctx context.Context, userID string) {
	if err := s.HandleLeave(ctx, userID); err != nil && !errors.Is(err, game.ErrUnknownPlayer) {
		s.logger.Warn("disconnect cleanup failed", "user", userID, "error", err)
	}
}

// HandleRequestState resends the current game state to one player.
func (s *Session) HandleRequestState(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendStateTo(userID, EventInitialGameState)
}

// Game actions. Each one loads, mutates under the engine's guards,
// saves, broadcasts, and then lets afterUpdate drive bots or settlement.

func (s *Session) HandleDraw(ctx context.Context, userID string, source game.DrawSource) error {
	return s.applyAction(ctx, func(st *game.State) error { return st.Draw(userID, source) })
}

func (s *Session) HandleDiscard(ctx context.Context, userID string, card deck.Card) error {
	return s.applyAction(ctx, func(st *game.State) error { return st.Discard(userID, card) })
}

func (s *Session) HandleSpread(ctx context.Context, userID string, cards []deck.Card) error {
	return s.applyAction(ctx, func(st *game.State) error { return st.Spread(userID, cards) })
}

func (s *Session) HandleHit(ctx context.Context, userID string, card deck.Card, targetID string, spreadIdx int) error {
	return s.applyAction(ctx, func(st *game.State) error { return st.Hit(userID, card, targetID, spreadIdx) })
}

func (s *Session) HandleDrop(ctx context.Context, userID string) error {
	return s.applyAction(ctx, func(st *game.State) error { return st.Drop(userID) })
}

func (s *Session) applyAction(ctx context.Context, apply func(*game.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.store.Load(s.tableID)
	if err != nil {
		return err
	}
	if st == nil {
		return game.ErrRoundNotInProgress
	}
	if err := apply(st); err != nil {
		return err
	}
	if err := s.store.Save(s.tableID, st); err != nil {
		return err
	}
	s.broadcastState(st)
	s.afterUpdate(ctx, st)
	return nil
}

// afterUpdate reacts to a committed state change: settlement at round
// end, otherwise a deferred bot tick when a bot holds the turn. Every
// commit bumps actionSeq, so ticks scheduled against an older commit
// are dead on arrival.
func (s *Session) afterUpdate(ctx context.Context, st *game.State) {
	s.actionSeq++
	if st.Status == game.StatusRoundEnd {
		s.finishRound(ctx, st)
		return
	}
	if cur := st.CurrentPlayer(); cur != nil && cur.IsAI {
		s.scheduleBotTick(cur.UserID, st.Turn, s.actionSeq)
	}
}

// startRound deals a new round for everyone currently seated. Ante
// collection failure aborts the whole setup and the table stays waiting.
func (s *Session) startRound(ctx context.Context) {
	members := s.store.Players(s.tableID)
	if len(members) < s.cfg.MinPlayers {
		return
	}
	seats := make([]game.Seat, len(members))
	for i, m := range members {
		seats[i] = game.Seat{UserID: m.UserID, Username: m.Username, IsAI: m.IsAI}
	}
	s.dealerIdx = s.dealerIdx % len(seats)

	st, err := game.NewRound(s.tableID, s.cfg.Stake, seats, s.dealerIdx, s.rng)
	if err != nil {
		s.logger.Error("failed to deal round", "error", err)
		return
	}
	if err := s.wallet.CollectAntes(ctx, st); err != nil {
		s.logger.Error("ante collection failed, round aborted", "error", err)
		s.status = tableWaiting
		// Drop any previous round-end snapshot so state requests while
		// parked do not replay a finished round.
		s.store.Delete(s.tableID)
		s.broadcastTableUpdate("round could not start: ante collection failed", nil)
		return
	}

	s.status = tableInGame
	s.settlePending = false
	s.transitionScheduled = false

	if st.ResolveAutoWin() {
		s.logger.Info("auto-win on deal", "winner", st.RoundWinnerID, "reason", st.RoundEndedBy)
	}
	if err := s.store.Save(s.tableID, st); err != nil {
		s.logger.Error("failed to save new round", "error", err)
		return
	}
	s.broadcastTableUpdate("round started", st)
	s.broadcastState(st)
	s.afterUpdate(ctx, st)
}

// finishRound settles the pot and schedules the delayed transition to
// the next round. A settlement failure leaves the round in round-end;
// the transition timer retries it.
func (s *Session) finishRound(ctx context.Context, st *game.State) {
	if !s.settlePending {
		if err := s.wallet.Settle(ctx, st, st.Payouts); err != nil {
			s.logger.Error("settlement failed, will retry at transition", "error", err)
			s.settlePending = true
		} else {
			s.emitWalletBalances(ctx, st)
		}
	}
	if !s.transitionScheduled {
		s.transitionScheduled = true
		s.clock.AfterFunc(s.settings.RoundTransitionDelay(), s.roundTransition)
	}
}

// roundTransition fires ~30s after round end: flush queued leaves, check
// the table can continue, prefer all-human rounds, rotate the dealer and
// deal again.
func (s *Session) roundTransition() {
	ctx := context.Background()
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.store.TryLock(s.tableID, s.settings.LockTTL()) {
		// Another actor owns the table right now; it will finish the job.
		s.logger.Debug("transition skipped, lock contended")
		return
	}
	defer s.store.Unlock(s.tableID)

	st, err := s.store.Load(s.tableID)
	if err != nil || st == nil || st.Status != game.StatusRoundEnd {
		return // superseded
	}

	if s.settlePending {
		if err := s.wallet.Settle(ctx, st, st.Payouts); err != nil {
			s.logger.Error("settlement retry failed", "error", err)
			s.clock.AfterFunc(s.settings.RoundTransitionDelay(), s.roundTransition)
			return
		}
		s.settlePending = false
		s.emitWalletBalances(ctx, st)
	}

	for _, userID := range s.store.LeavingPlayers(s.tableID) {
		if err := s.removePlayerLocked(ctx, userID); err != nil {
			s.logger.Warn("queued leave failed", "user", userID, "error", err)
		}
	}

	members := s.store.Players(s.tableID)
	if len(members) < s.cfg.MinPlayers {
		s.status = tableWaiting
		s.store.Delete(s.tableID)
		s.broadcastTableUpdate("waiting for players", nil)
		return
	}

	// Humans-only rounds take precedence once enough humans are seated.
	if s.humanCount() >= s.cfg.MinPlayers {
		s.evictBots()
	}

	s.dealerIdx = (s.dealerIdx + 1) % len(s.store.Players(s.tableID))
	s.startRound(ctx)
}

// scheduleBotTick defers a bot action so play feels natural. The tick
// re-validates that the same bot still holds the same turn and that no
// other commit landed in between, so two pending ticks for one turn
// (say a leave re-arming the timer mid-think) can never both act.
func (s *Session) scheduleBotTick(botID string, turn, seq int) {
	s.clock.AfterFunc(s.settings.BotThinkTime(), func() {
		s.botTurn(botID, turn, seq)
	})
}

func (s *Session) botTurn(botID string, turn, seq int) {
	ctx := context.Background()
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.store.Load(s.tableID)
	if err != nil || st == nil || st.Status != game.StatusInProgress {
		return
	}
	cur := st.CurrentPlayer()
	if cur == nil || cur.UserID != botID || st.Turn != turn || seq != s.actionSeq {
		return // superseded by a human leaving or another transition
	}

	act, err := s.strategist.ChooseAction(st, botID)
	if err != nil {
		s.logger.Error("bot has no action", "bot", botID, "error", err)
		return
	}
	if err := applyBotAction(st, botID, act); err != nil {
		s.logger.Error("bot action rejected", "bot", botID, "kind", act.Kind, "error", err)
		return
	}
	if err := s.store.Save(s.tableID, st); err != nil {
		s.logger.Error("failed to save bot action", "error", err)
		return
	}
	s.broadcastState(st)
	s.afterUpdate(ctx, st)
}

// removePlayerLocked implements the three leave branches. Caller holds
// both the session mutex and the store lock.
func (s *Session) removePlayerLocked(ctx context.Context, userID string) error {
	if _, seated := s.store.PlayerInfo(s.tableID, userID); !seated {
		return game.ErrUnknownPlayer
	}
	s.store.RemovePlayerInfo(s.tableID, userID)
	s.store.ClearLeaving(s.tableID, userID)

	msg, err := NewMessage(EventPlayerLeft, PlayerLeftData{UserID: userID})
	if err == nil {
		s.broadcast.BroadcastToTable(s.tableID, msg)
	}

	switch {
	case s.humanCount() == 0:
		// No humans left: reset the table entirely.
		s.evictBots()
		s.store.Delete(s.tableID)
		s.status = tableWaiting
		s.broadcastTableUpdate("table reset", nil)

	case s.status == tableInGame && len(s.store.Players(s.tableID)) < s.cfg.MinPlayers:
		// Not enough seats to continue: park the remaining humans.
		s.evictBots()
		s.store.Delete(s.tableID)
		s.status = tableWaiting
		s.broadcastTableUpdate("waiting for players", nil)

	default:
		st, err := s.store.Load(s.tableID)
		if err != nil || st == nil {
			s.broadcastTableUpdate("player left", nil)
			return nil
		}
		if _, idx := st.Player(userID); idx >= 0 && st.Status == game.StatusInProgress {
			if err := st.RemovePlayer(userID); err != nil {
				return err
			}
			if err := s.store.Save(s.tableID, st); err != nil {
				return err
			}
			s.broadcastState(st)
			s.afterUpdate(ctx, st)
		}
		s.broadcastTableUpdate("player left", nil)
	}
	return nil
}

func (s *Session) humanCount() int {
	n := 0
	for _, m := range s.store.Players(s.tableID) {
		if !m.IsAI {
			n++
		}
	}
	return n
}

func (s *Session) addBot() {
	s.botSeq++
	id := fmt.Sprintf("%s-bot-%d", s.tableID, s.botSeq)
	s.store.SetPlayerInfo(s.tableID, store.PlayerInfo{
		UserID:   id,
		Username: fmt.Sprintf("Bot %d", s.botSeq),
		IsAI:     true,
	})
	s.logger.Info("bot seated", "bot", id)
}

func (s *Session) evictBots() {
	for _, m := range s.store.Players(s.tableID) {
		if m.IsAI {
			s.store.RemovePlayerInfo(s.tableID, m.UserID)
		}
	}
}

// emitWalletBalances sends each human their post-settlement balance.
func (s *Session) emitWalletBalances(ctx context.Context, st *game.State) {
	for _, p := range st.Players {
		if p.IsAI {
			continue
		}
		balance, err := s.wallet.Balance(ctx, p.UserID)
		if err != nil {
			s.logger.Warn("failed to read balance for update", "user", p.UserID, "error", err)
			continue
		}
		msg, err := NewMessage(EventWalletBalanceUpdate, WalletBalanceUpdateData{
			UserID: p.UserID, Balance: balance,
		})
		if err != nil {
			continue
		}
		if err := s.broadcast.SendToUser(p.UserID, msg); err != nil {
			s.logger.Debug("wallet update not delivered", "user", p.UserID, "error", err)
		}
	}
}

func (s *Session) broadcastState(st *game.State) {
	msg, err := NewMessage(EventGameStateUpdate, GameStateUpdateData{GameState: st})
	if err != nil {
		s.logger.Error("failed to encode state update", "error", err)
		return
	}
	s.broadcast.BroadcastToTable(s.tableID, msg)
}

func (s *Session) broadcastTableUpdate(text string, st *game.State) {
	msg, err := NewMessage(EventTableUpdate, TableUpdateData{
		Message: text, Table: s.infoLocked(), GameState: st,
	})
	if err != nil {
		s.logger.Error("failed to encode table update", "error", err)
		return
	}
	s.broadcast.BroadcastToTable(s.tableID, msg)
}

func (s *Session) sendStateTo(userID string, event EventType) {
	st, err := s.store.Load(s.tableID)
	if err != nil || st == nil {
		return
	}
	msg, err := NewMessage(event, InitialGameStateData{GameState: st})
	if err != nil {
		return
	}
	if err := s.broadcast.SendToUser(userID, msg); err != nil {
		s.logger.Debug("state not delivered", "user", userID, "error", err)
	}
}

func applyBotAction(st *game.State, userID string, act bot.Action) error {
	switch act.Kind {
	case game.ActionDraw:
		return st.Draw(userID, act.Source)
	case game.ActionSpread:
		return st.Spread(userID, act.Cards)
	case game.ActionHit:
		return st.Hit(userID, act.Card, act.TargetUserID, act.TargetSpreadIndex)
	case game.ActionDiscard:
		return st.Discard(userID, act.Card)
	case game.ActionDrop:
		return st.Drop(userID)
	default:
		return fmt.Errorf("unknown bot action %q", act.Kind)
	}
}
