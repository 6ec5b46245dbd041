package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taptoken/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUserExists          = errors.New("user already exists")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Database represents a connection to the SQLite database
type Database struct {
	db *sql.DB
}

// New creates a new Database instance and initializes the schema
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	// SQLite allows a single writer; one pooled connection also keeps
	// ":memory:" databases coherent across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("error creating tables: %v", err)
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			wallet_address TEXT NOT NULL DEFAULT '',
			balance INTEGER NOT NULL DEFAULT 0,
			total_withdrawn INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS withdrawals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			wallet_address TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			tx_hash TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			processed_at DATETIME,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS processor_lock (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			owner_id TEXT NOT NULL,
			acquired_at DATETIME NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query: %v\nQuery: %s", err, query)
		}
	}

	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// CreateUser inserts a new user with a zero balance
func (d *Database) CreateUser(ctx context.Context, username, walletAddress string) (model.User, error) {
	res, err := d.db.ExecContext(ctx,
		"INSERT INTO users (username, wallet_address) VALUES (?, ?)",
		username, walletAddress)
	if err != nil {
		// sqlite reports unique violations as a generic error; the username
		// column is the only unique constraint on this table
		if _, lookupErr := d.GetUserByUsername(ctx, username); lookupErr == nil {
			return model.User{}, ErrUserExists
		}
		return model.User{}, fmt.Errorf("failed to create user: %v", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, fmt.Errorf("failed to get user id: %v", err)
	}

	return d.GetUserByID(ctx, id)
}

func (d *Database) GetUserByID(ctx context.Context, id int64) (model.User, error) {
	return d.scanUser(d.db.QueryRowContext(ctx,
		"SELECT id, username, wallet_address, balance, total_withdrawn, created_at FROM users WHERE id = ?", id))
}

func (d *Database) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	return d.scanUser(d.db.QueryRowContext(ctx,
		"SELECT id, username, wallet_address, balance, total_withdrawn, created_at FROM users WHERE username = ?", username))
}

func (d *Database) scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.WalletAddress, &u.Balance, &u.TotalWithdrawn, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to scan user: %v", err)
	}
	return u, nil
}

// GetBalance returns the off-chain ledger balance for a user
func (d *Database) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := d.db.QueryRowContext(ctx, "SELECT balance FROM users WHERE id = ?", userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to get balance: %v", err)
	}
	return balance, nil
}

// AddBalance credits tap earnings to a user's ledger balance
func (d *Database) AddBalance(ctx context.Context, userID, amount int64) error {
	res, err := d.db.ExecContext(ctx,
		"UPDATE users SET balance = balance + ? WHERE id = ?", amount, userID)
	if err != nil {
		return fmt.Errorf("failed to add balance: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to add balance: %v", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DecrementBalanceForWithdrawal debits a confirmed withdrawal from the ledger
// and bumps the running total-withdrawn counter. The balance guard is part of
// the statement so the debit can never push a balance negative.
func (d *Database) DecrementBalanceForWithdrawal(ctx context.Context, userID, amount int64) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE users
		SET balance = balance - ?, total_withdrawn = total_withdrawn + ?
		WHERE id = ? AND balance >= ?`,
		amount, amount, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to decrement balance: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to decrement balance: %v", err)
	}
	if n == 0 {
		return ErrInsufficientBalance
	}
	return nil
}
