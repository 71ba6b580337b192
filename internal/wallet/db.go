// Package wallet settles real money for rounds: ante collection, payout
// crediting, penalty debiting, and the immutable match and transaction
// records, all inside single SQL transactions.
package wallet

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrWalletNotFound means the user has no wallet row.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrInsufficientFunds means a debit would take a balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrBelowMinimumWithdrawal rejects withdrawal requests under the
	// configured floor.
	ErrBelowMinimumWithdrawal = errors.New("withdrawal below minimum")
)

// TransactionType classifies a wallet transaction row.
type TransactionType string

const (
	TransactionDeposit    TransactionType = "Deposit"
	TransactionWithdrawal TransactionType = "Withdrawal"
	TransactionWin        TransactionType = "Win"
	TransactionLoss       TransactionType = "Loss"
)

// Open opens (creating if needed) the sqlite database at path and
// ensures the schema exists.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening wallet db: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating wallet schema: %w", err)
	}
	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS wallets (
			user_id TEXT PRIMARY KEY,
			available_balance INTEGER NOT NULL DEFAULT 0,
			pending_withdrawals INTEGER NOT NULL DEFAULT 0,
			lifetime_deposits INTEGER NOT NULL DEFAULT 0,
			lifetime_withdrawals INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS matches (
			id TEXT PRIMARY KEY,
			table_id TEXT NOT NULL,
			win_type TEXT NOT NULL,
			winner_id TEXT NOT NULL,
			base_stake INTEGER NOT NULL,
			pot INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS match_players (
			match_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			is_ai INTEGER NOT NULL DEFAULT 0,
			buy_in INTEGER NOT NULL,
			payout INTEGER NOT NULL,
			final_hand_value INTEGER NOT NULL,
			FOREIGN KEY (match_id) REFERENCES matches(id)
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			match_id TEXT,
			amount INTEGER NOT NULL,
			type TEXT NOT NULL,
			description TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES wallets(user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS earnings_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			match_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			balance_after INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES wallets(user_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
