package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/tonkhouse/tonkd/internal/server"
	"github.com/tonkhouse/tonkd/internal/wallet"
)

// WalletCmd groups the wallet admin operations. Deposits normally come
// in through the payment processor; these exist for ops and local dev.
type WalletCmd struct {
	DB string `kong:"default='tonkd.db',help='Path to the SQLite database'"`

	Create   WalletCreateCmd   `cmd:"" help:"Create a wallet for a user"`
	Credit   WalletCreditCmd   `cmd:"" help:"Credit a deposit to a wallet"`
	Balance  WalletBalanceCmd  `cmd:"" help:"Show a wallet's available balance"`
	Withdraw WalletWithdrawCmd `cmd:"" help:"Request a withdrawal from a wallet"`
}

func (c *WalletCmd) open() (*wallet.Settler, func(), error) {
	db, err := wallet.Open(c.DB)
	if err != nil {
		return nil, nil, err
	}
	logger := log.New(os.Stderr)
	return wallet.NewSettler(db, logger), func() { _ = db.Close() }, nil
}

type WalletCreateCmd struct {
	UserID string `kong:"arg,help='User id to create a wallet for'"`
}

func (c *WalletCreateCmd) Run(parent *WalletCmd) error {
	settler, closeDB, err := parent.open()
	if err != nil {
		return err
	}
	defer closeDB()
	if err := settler.CreateWallet(context.Background(), c.UserID); err != nil {
		return err
	}
	fmt.Printf("wallet ready for %s\n", c.UserID)
	return nil
}

type WalletCreditCmd struct {
	UserID string `kong:"arg,help='User id to credit'"`
	Amount int64  `kong:"arg,help='Amount in whole currency units'"`
}

func (c *WalletCreditCmd) Run(parent *WalletCmd) error {
	if c.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	settler, closeDB, err := parent.open()
	if err != nil {
		return err
	}
	defer closeDB()
	ctx := context.Background()
	if err := settler.CreateWallet(ctx, c.UserID); err != nil {
		return err
	}
	if err := settler.CreditWallet(ctx, c.UserID, c.Amount, wallet.TransactionDeposit, "manual deposit"); err != nil {
		return err
	}
	balance, err := settler.Balance(ctx, c.UserID)
	if err != nil {
		return err
	}
	fmt.Printf("credited %d to %s, balance now %d\n", c.Amount, c.UserID, balance)
	return nil
}

type WalletWithdrawCmd struct {
	Config string `kong:"default='tonkd.hcl',help='Path to HCL configuration file (for the withdrawal minimum)'"`
	UserID string `kong:"arg,help='User id to withdraw from'"`
	Amount int64  `kong:"arg,help='Amount in whole currency units'"`
}

func (c *WalletWithdrawCmd) Run(parent *WalletCmd) error {
	cfg, err := server.LoadConfig(c.Config)
	if err != nil {
		return err
	}
	settler, closeDB, err := parent.open()
	if err != nil {
		return err
	}
	defer closeDB()
	ctx := context.Background()
	if err := settler.Withdraw(ctx, c.UserID, c.Amount, cfg.Server.MinWithdrawalAmount); err != nil {
		return err
	}
	balance, err := settler.Balance(ctx, c.UserID)
	if err != nil {
		return err
	}
	fmt.Printf("withdrawal of %d pending for %s, available balance now %d\n", c.Amount, c.UserID, balance)
	return nil
}

type WalletBalanceCmd struct {
	UserID string `kong:"arg,help='User id to look up'"`
}

func (c *WalletBalanceCmd) Run(parent *WalletCmd) error {
	settler, closeDB, err := parent.open()
	if err != nil {
		return err
	}
	defer closeDB()
	balance, err := settler.Balance(context.Background(), c.UserID)
	if err != nil {
		return err
	}
	fmt.Printf("%d\n", balance)
	return nil
}
