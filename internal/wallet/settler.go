package wallet

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/tonkhouse/tonkd/internal/game"
)

// Settler executes all monetary effects of a round. Each public
// operation is a single transaction: every balance update, history
// append and record insert commits together or not at all. Bot seats
// never touch a wallet; their pot contributions are house-funded.
type Settler struct {
	db     *sql.DB
	logger *log.Logger
}

// NewSettler wraps an open wallet database.
func NewSettler(db *sql.DB, logger *log.Logger) *Settler {
	return &Settler{db: db, logger: logger.WithPrefix("wallet")}
}

// CreateWallet ensures a wallet row exists for the user.
func (s *Settler) CreateWallet(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO wallets (user_id) VALUES (?)`, userID)
	return err
}

// Balance returns the user's available balance.
func (s *Settler) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT available_balance FROM wallets WHERE user_id = ?`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrWalletNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("reading balance for %s: %w", userID, err)
	}
	return balance, nil
}

// CreditWallet is the boundary operation the external deposit flow
// calls. It credits the available balance and records a transaction.
func (s *Settler) CreditWallet(ctx context.Context, userID string, amount int64, txType TransactionType, description string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := creditTx(tx, userID, amount); err != nil {
		return err
	}
	if txType == TransactionDeposit {
		if _, err := tx.Exec(
			`UPDATE wallets SET lifetime_deposits = lifetime_deposits + ? WHERE user_id = ?`,
			amount, userID); err != nil {
			return err
		}
	}
	if err := insertTransaction(tx, userID, "", amount, txType, description); err != nil {
		return err
	}
	return tx.Commit()
}

// Withdraw moves amount from the available balance into pending
// withdrawals for the external payout processor to complete. Requests
// under min are refused.
func (s *Settler) Withdraw(ctx context.Context, userID string, amount, min int64) error {
	if amount < min {
		return fmt.Errorf("%w: minimum is %d", ErrBelowMinimumWithdrawal, min)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := debitTx(tx, userID, amount); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`UPDATE wallets SET pending_withdrawals = pending_withdrawals + ? WHERE user_id = ?`,
		amount, userID); err != nil {
		return err
	}
	if err := insertTransaction(tx, userID, "", -amount, TransactionWithdrawal, "withdrawal requested"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Info("withdrawal requested", "user", userID, "amount", amount)
	return nil
}

// CollectAntes reserves baseStake from every human player's available
// balance. Any human short of funds aborts the whole round setup.
func (s *Settler) CollectAntes(ctx context.Context, st *game.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range st.Players {
		if p.IsAI {
			continue
		}
		if err := debitTx(tx, p.UserID, st.BaseStake); err != nil {
			return fmt.Errorf("ante for %s: %w", p.UserID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Debug("antes collected", "table", st.TableID, "stake", st.BaseStake, "players", len(st.Players))
	return nil
}

// Settle commits a finished round: it creates the Match record first,
// threads its id into every transaction row, credits the winner, debits
// penalised losers, and appends earnings history per human wallet. A
// wallet that would go negative aborts everything; pre-validation should
// have made that impossible.
func (s *Settler) Settle(ctx context.Context, st *game.State, payouts *game.Payouts) error {
	if payouts == nil {
		return fmt.Errorf("settling table %s: no payouts computed", st.TableID)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	matchID := uuid.NewString()
	if _, err := tx.Exec(
		`INSERT INTO matches (id, table_id, win_type, winner_id, base_stake, pot)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		matchID, st.TableID, string(st.RoundEndedBy), payouts.WinnerID, st.BaseStake, st.Pot); err != nil {
		return fmt.Errorf("inserting match: %w", err)
	}

	for _, p := range st.Players {
		payout := int64(0)
		if p.UserID == payouts.WinnerID {
			payout = payouts.WinnerAmount
		} else if penalty, ok := payouts.Penalties[p.UserID]; ok {
			payout = -penalty
		}
		if _, err := tx.Exec(
			`INSERT INTO match_players (match_id, user_id, is_ai, buy_in, payout, final_hand_value)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			matchID, p.UserID, p.IsAI, st.LockedAntes[p.UserID], payout, st.HandScores[p.UserID]); err != nil {
			return fmt.Errorf("inserting match player %s: %w", p.UserID, err)
		}

		if p.IsAI {
			continue
		}
		switch {
		case payout > 0:
			if err := creditTx(tx, p.UserID, payout); err != nil {
				return fmt.Errorf("crediting winner %s: %w", p.UserID, err)
			}
			if err := insertTransaction(tx, p.UserID, matchID, payout, TransactionWin, winDescription(st)); err != nil {
				return err
			}
		case payout < 0:
			if err := debitTx(tx, p.UserID, -payout); err != nil {
				return fmt.Errorf("debiting loser %s: %w", p.UserID, err)
			}
			if err := insertTransaction(tx, p.UserID, matchID, payout, TransactionLoss, winDescription(st)); err != nil {
				return err
			}
		}
		if err := appendEarnings(tx, p.UserID, matchID, payout); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing settlement for table %s: %w", st.TableID, err)
	}
	s.logger.Info("round settled",
		"table", st.TableID, "match", matchID,
		"winner", payouts.WinnerID, "winType", st.RoundEndedBy, "pot", st.Pot)
	return nil
}

func winDescription(st *game.State) string {
	return fmt.Sprintf("round on table %s ended by %s", st.TableID, st.RoundEndedBy)
}

func creditTx(tx *sql.Tx, userID string, amount int64) error {
	res, err := tx.Exec(
		`UPDATE wallets SET available_balance = available_balance + ? WHERE user_id = ?`,
		amount, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// debitTx decrements a balance, refusing to take it negative.
func debitTx(tx *sql.Tx, userID string, amount int64) error {
	res, err := tx.Exec(
		`UPDATE wallets SET available_balance = available_balance - ?
		 WHERE user_id = ? AND available_balance >= ?`,
		amount, userID, amount)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(1) FROM wallets WHERE user_id = ?`, userID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrWalletNotFound
		}
		return ErrInsufficientFunds
	}
	return nil
}

func insertTransaction(tx *sql.Tx, userID, matchID string, amount int64, txType TransactionType, description string) error {
	var match any
	if matchID != "" {
		match = matchID
	}
	if _, err := tx.Exec(
		`INSERT INTO transactions (id, user_id, match_id, amount, type, description)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, match, amount, string(txType), description); err != nil {
		return fmt.Errorf("inserting %s transaction for %s: %w", txType, userID, err)
	}
	return nil
}

func appendEarnings(tx *sql.Tx, userID, matchID string, amount int64) error {
	var balance int64
	if err := tx.QueryRow(
		`SELECT available_balance FROM wallets WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return fmt.Errorf("reading balance for history of %s: %w", userID, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO earnings_history (user_id, match_id, amount, balance_after)
		 VALUES (?, ?, ?, ?)`,
		userID, matchID, amount, balance); err != nil {
		return fmt.Errorf("appending earnings history for %s: %w", userID, err)
	}
	return nil
}
