package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ikamba/ikamba-agent/pkg/remit"
)

// Postgres backs the durable customer records: profiles, recipients,
// transactions, payment receivers, and rate adjustments.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// GetProfile implements remit.ProfileStore.
func (p *Postgres) GetProfile(ctx context.Context, userID string) (*remit.Profile, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, country, verified, created_at, updated_at
		FROM profiles WHERE id = $1`, userID)
	return scanProfile(row)
}

// FindProfileByEmail implements remit.ProfileStore. Lookup is
// case-insensitive.
func (p *Postgres) FindProfileByEmail(ctx context.Context, email string) (*remit.Profile, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, country, verified, created_at, updated_at
		FROM profiles WHERE lower(email) = lower($1)`, email)
	return scanProfile(row)
}

func scanProfile(row pgx.Row) (*remit.Profile, error) {
	var pr remit.Profile
	err := row.Scan(&pr.ID, &pr.Name, &pr.Email, &pr.Phone, &pr.Country, &pr.Verified, &pr.CreatedAt, &pr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	return &pr, nil
}

// UpsertProfile implements remit.ProfileStore.
func (p *Postgres) UpsertProfile(ctx context.Context, pr remit.Profile) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO profiles (id, name, email, phone, country, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), profiles.name),
			email = COALESCE(NULLIF(EXCLUDED.email, ''), profiles.email),
			phone = COALESCE(NULLIF(EXCLUDED.phone, ''), profiles.phone),
			country = COALESCE(NULLIF(EXCLUDED.country, ''), profiles.country),
			updated_at = now()`,
		pr.ID, pr.Name, pr.Email, pr.Phone, pr.Country, pr.Verified)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// RecentRecipients implements remit.RecipientStore.
func (p *Postgres) RecentRecipients(ctx context.Context, userID string, limit int) ([]remit.Recipient, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, name, phone, country, provider, bank, account_number, currency, last_used_at
		FROM recipients WHERE user_id = $1
		ORDER BY last_used_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	defer rows.Close()

	var out []remit.Recipient
	for rows.Next() {
		var r remit.Recipient
		if err := rows.Scan(&r.ID, &r.UserID, &r.Name, &r.Phone, &r.Country, &r.Provider, &r.Bank, &r.AccountNumber, &r.Currency, &r.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveRecipient implements remit.RecipientStore. A recipient is keyed
// by owner plus phone so repeat sends refresh the existing row.
func (p *Postgres) SaveRecipient(ctx context.Context, r remit.Recipient) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO recipients (id, user_id, name, phone, country, provider, bank, account_number, currency, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (user_id, phone) DO UPDATE SET
			name = EXCLUDED.name,
			provider = EXCLUDED.provider,
			bank = EXCLUDED.bank,
			account_number = EXCLUDED.account_number,
			currency = EXCLUDED.currency,
			last_used_at = now()`,
		r.ID, r.UserID, r.Name, r.Phone, r.Country, r.Provider, r.Bank, r.AccountNumber, r.Currency)
	if err != nil {
		return fmt.Errorf("save recipient: %w", err)
	}
	return nil
}

const transactionColumns = `
	id, user_id, sender_name, sender_email, recipient_name, recipient_phone,
	provider, bank, account_number, send_amount, send_currency, fee, net_amount,
	rate, receive_amount, receive_currency, status, proof_path, created_at, updated_at`

// CreateTransaction implements remit.TransactionStore.
func (p *Postgres) CreateTransaction(ctx context.Context, tx remit.Transaction) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, now(), now())`,
		tx.ID, tx.UserID, tx.SenderName, tx.SenderEmail, tx.RecipientName, tx.RecipientPhone,
		tx.Provider, tx.Bank, tx.AccountNumber, tx.SendAmount, tx.SendCurrency, tx.Fee, tx.NetAmount,
		tx.Rate, tx.ReceiveAmount, tx.ReceiveCurrency, string(tx.Status), tx.ProofPath)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetTransaction implements remit.TransactionStore.
func (p *Postgres) GetTransaction(ctx context.Context, id string) (*remit.Transaction, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// RecentTransactions implements remit.TransactionStore.
func (p *Postgres) RecentTransactions(ctx context.Context, userID string, limit int) ([]remit.Transaction, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// TransactionsByStatus implements remit.TransactionStore.
func (p *Postgres) TransactionsByStatus(ctx context.Context, userID string, status remit.TransactionStatus) ([]remit.Transaction, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = $1 AND status = $2 ORDER BY created_at DESC`, userID, string(status))
	if err != nil {
		return nil, fmt.Errorf("query transactions by status: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// UpdateStatus implements remit.TransactionStore.
func (p *Postgres) UpdateStatus(ctx context.Context, id string, status remit.TransactionStatus) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE transactions SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s not found", id)
	}
	return nil
}

// AttachProof implements remit.TransactionStore. Attaching proof moves
// a pending order into awaiting_confirmation.
func (p *Postgres) AttachProof(ctx context.Context, id, proofPath string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE transactions
		SET proof_path = $2, status = $3, updated_at = now()
		WHERE id = $1`, id, proofPath, string(remit.StatusAwaitingConfirmation))
	if err != nil {
		return fmt.Errorf("attach proof: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s not found", id)
	}
	return nil
}

func scanTransaction(row pgx.Row) (*remit.Transaction, error) {
	var tx remit.Transaction
	var status string
	err := row.Scan(&tx.ID, &tx.UserID, &tx.SenderName, &tx.SenderEmail, &tx.RecipientName, &tx.RecipientPhone,
		&tx.Provider, &tx.Bank, &tx.AccountNumber, &tx.SendAmount, &tx.SendCurrency, &tx.Fee, &tx.NetAmount,
		&tx.Rate, &tx.ReceiveAmount, &tx.ReceiveCurrency, &status, &tx.ProofPath, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}
	tx.Status = remit.TransactionStatus(status)
	return &tx, nil
}

func collectTransactions(rows pgx.Rows) ([]remit.Transaction, error) {
	var out []remit.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

// ActiveReceivers implements remit.ReceiverDirectory.
func (p *Postgres) ActiveReceivers(ctx context.Context) ([]remit.PaymentReceiver, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, currency, provider, account_number, account_holder, kind, active
		FROM payment_receivers WHERE active ORDER BY currency`)
	if err != nil {
		return nil, fmt.Errorf("query receivers: %w", err)
	}
	defer rows.Close()

	var out []remit.PaymentReceiver
	for rows.Next() {
		var r remit.PaymentReceiver
		if err := rows.Scan(&r.ID, &r.Currency, &r.Provider, &r.AccountNumber, &r.AccountHolder, &r.Kind, &r.Active); err != nil {
			return nil, fmt.Errorf("scan receiver: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Adjustments implements remit.AdjustmentSource. Pairs are stored
// normalized as FROM_TO.
func (p *Postgres) Adjustments(ctx context.Context) (map[string]float64, error) {
	rows, err := p.pool.Query(ctx, `SELECT pair, adjustment FROM rate_adjustments`)
	if err != nil {
		return nil, fmt.Errorf("query adjustments: %w", err)
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var pair string
		var adj float64
		if err := rows.Scan(&pair, &adj); err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		out[pair] = adj
	}
	return out, rows.Err()
}

// Healthy reports whether the pool answers within the deadline.
func (p *Postgres) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.pool.Ping(ctx) == nil
}
