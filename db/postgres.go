package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/agentbounties/agent-bounty-board/abb"
	"github.com/agentbounties/agent-bounty-board/payment"
)

// PostgresStore persists bounties, submissions, and the credits ledger.
// The winner assignment and the escrow transitions are conditional UPDATEs
// so concurrent callers serialize at the database, and the debit-and-hold
// runs in a single transaction.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	conn, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &PostgresStore{db: conn}, nil
}

// Migrate applies the schema. Idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *PostgresStore) Close() error { return s.db.Close() }

type bountyRow struct {
	ID                 string         `db:"id"`
	PosterID           string         `db:"poster_id"`
	Title              string         `db:"title"`
	Description        string         `db:"description"`
	Criteria           []byte         `db:"criteria"`
	AmountMicro        string         `db:"amount_micro"`
	FeeBPS             int64          `db:"fee_bps"`
	PaymentProvider    string         `db:"payment_provider"`
	Deadline           time.Time      `db:"deadline"`
	Status             string         `db:"status"`
	WinnerSubmissionID sql.NullString `db:"winner_submission_id"`
	WinnerAgentID      sql.NullString `db:"winner_agent_id"`
	SubmissionCount    int            `db:"submission_count"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r *bountyRow) toBounty() (*abb.Bounty, error) {
	var criteria abb.Criteria
	if err := json.Unmarshal(r.Criteria, &criteria); err != nil {
		return nil, fmt.Errorf("failed to decode criteria for bounty %s: %w", r.ID, err)
	}
	amount, err := parseMicro(r.AmountMicro)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount for bounty %s: %w", r.ID, err)
	}
	return &abb.Bounty{
		ID:                 r.ID,
		PosterID:           r.PosterID,
		Title:              r.Title,
		Description:        r.Description,
		Criteria:           criteria,
		Amount:             amount,
		FeeBPS:             r.FeeBPS,
		PaymentProvider:    r.PaymentProvider,
		Deadline:           r.Deadline,
		Status:             abb.BountyStatus(r.Status),
		WinnerSubmissionID: r.WinnerSubmissionID.String,
		WinnerAgentID:      r.WinnerAgentID.String,
		SubmissionCount:    r.SubmissionCount,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}, nil
}

func parseMicro(s string) (*payment.Amount, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid micro amount %q", s)
	}
	return &payment.Amount{Value: v}, nil
}

func (s *PostgresStore) CreateBounty(ctx context.Context, b *abb.Bounty) error {
	criteria, err := json.Marshal(b.Criteria)
	if err != nil {
		return fmt.Errorf("failed to encode criteria: %w", err)
	}
	query := `
        INSERT INTO bounties (id, poster_id, title, description, criteria, amount_micro, fee_bps, payment_provider, deadline, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING created_at, updated_at`
	return s.db.QueryRowContext(ctx, query,
		b.ID, b.PosterID, b.Title, b.Description, criteria,
		b.Amount.ToMicro().String(), b.FeeBPS, b.PaymentProvider, b.Deadline, b.Status).
		Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (s *PostgresStore) GetBounty(ctx context.Context, bountyID string) (*abb.Bounty, error) {
	var row bountyRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM bounties WHERE id=$1`, bountyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, abb.ErrBountyNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toBounty()
}

func (s *PostgresStore) UpdateBountyStatus(ctx context.Context, bountyID string, status abb.BountyStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bounties SET status = $1, updated_at = NOW() WHERE id = $2`, status, bountyID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return abb.ErrBountyNotFound
	}
	return nil
}

// SetWinner is the single serialized step of winner determination: the
// conditional update only lands when no winner is recorded yet, so exactly
// one of any number of concurrent award attempts succeeds.
func (s *PostgresStore) SetWinner(ctx context.Context, bountyID, submissionID, agentID string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE bounties
        SET winner_submission_id = $2, winner_agent_id = $3, status = $4, updated_at = NOW()
        WHERE id = $1 AND winner_submission_id IS NULL`,
		bountyID, submissionID, agentID, abb.BountyStatusCompleted)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM bounties WHERE id=$1)`, bountyID); err != nil {
			return err
		}
		if !exists {
			return abb.ErrBountyNotFound
		}
		return abb.ErrAlreadyWon
	}
	return nil
}

type submissionRow struct {
	ID               string         `db:"id"`
	BountyID         string         `db:"bounty_id"`
	AgentID          string         `db:"agent_id"`
	Payload          []byte         `db:"payload"`
	ReceivedAt       time.Time      `db:"received_at"`
	Status           string         `db:"status"`
	ValidationResult []byte         `db:"validation_result"`
	PaymentStatus    string         `db:"payment_status"`
	PaymentReference sql.NullString `db:"payment_reference"`
}

func (r *submissionRow) toSubmission() (*abb.Submission, error) {
	var payload abb.Payload
	if err := json.Unmarshal(r.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload for submission %s: %w", r.ID, err)
	}
	sub := &abb.Submission{
		ID:               r.ID,
		BountyID:         r.BountyID,
		AgentID:          r.AgentID,
		Payload:          payload,
		ReceivedAt:       r.ReceivedAt,
		Status:           abb.SubmissionStatus(r.Status),
		PaymentStatus:    abb.PaymentStatus(r.PaymentStatus),
		PaymentReference: r.PaymentReference.String,
	}
	if len(r.ValidationResult) > 0 {
		var result abb.ValidationResult
		if err := json.Unmarshal(r.ValidationResult, &result); err != nil {
			return nil, fmt.Errorf("failed to decode validation result for submission %s: %w", r.ID, err)
		}
		sub.ValidationResult = &result
	}
	return sub, nil
}

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub *abb.Submission) error {
	payload, err := json.Marshal(sub.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO submissions (id, bounty_id, agent_id, payload, received_at, status, payment_status)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.BountyID, sub.AgentID, payload, sub.ReceivedAt, sub.Status, sub.PaymentStatus)
	if err != nil {
		var pqErr *pq.Error
		// 23505 unique_violation on (bounty_id, agent_id) is the one-shot
		// rule firing.
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return abb.ErrDuplicateSubmission
		}
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE bounties SET submission_count = submission_count + 1, updated_at = NOW() WHERE id = $1`,
		sub.BountyID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) GetSubmission(ctx context.Context, submissionID string) (*abb.Submission, error) {
	var row submissionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM submissions WHERE id=$1`, submissionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, abb.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toSubmission()
}

func (s *PostgresStore) UpdateSubmissionStatus(ctx context.Context, submissionID string, status abb.SubmissionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET status = $1 WHERE id = $2`, status, submissionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return abb.ErrSubmissionNotFound
	}
	return nil
}

func (s *PostgresStore) SetValidationResult(ctx context.Context, submissionID string, status abb.SubmissionStatus, result *abb.ValidationResult) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode validation result: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET status = $1, validation_result = $2 WHERE id = $3`,
		status, encoded, submissionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return abb.ErrSubmissionNotFound
	}
	return nil
}

func (s *PostgresStore) SetPaymentStatus(ctx context.Context, submissionID string, status abb.PaymentStatus, reference string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET payment_status = $1, payment_reference = $2 WHERE id = $3`,
		status, reference, submissionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return abb.ErrSubmissionNotFound
	}
	return nil
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, bountyID string) ([]*abb.Submission, error) {
	var rows []submissionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM submissions WHERE bounty_id = $1 ORDER BY received_at ASC, id ASC`, bountyID)
	if err != nil {
		return nil, err
	}
	subs := make([]*abb.Submission, 0, len(rows))
	for i := range rows {
		sub, err := rows[i].toSubmission()
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Ledger methods implementing payment.LedgerStore.

func (s *PostgresStore) GetBalance(ctx context.Context, accountID string) (*payment.Amount, error) {
	var micro string
	err := s.db.GetContext(ctx, &micro,
		`SELECT balance_micro FROM accounts WHERE id = $1`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Zero(), nil
	}
	if err != nil {
		return nil, err
	}
	return parseMicro(micro)
}

func (s *PostgresStore) AddBalance(ctx context.Context, accountID string, delta *payment.Amount) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO accounts (id, balance_micro) VALUES ($1, $2)
        ON CONFLICT (id) DO UPDATE SET balance_micro = accounts.balance_micro + $2`,
		accountID, delta.ToMicro().String())
	return err
}

func (s *PostgresStore) SubtractBalance(ctx context.Context, accountID string, delta *payment.Amount) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE accounts SET balance_micro = balance_micro - $2
        WHERE id = $1 AND balance_micro >= $2`,
		accountID, delta.ToMicro().String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return payment.ErrInsufficientFunds
	}
	return nil
}

// DebitAndHold debits the payer and inserts the escrow row in one
// transaction; the conditional debit doubles as the affordability check.
func (s *PostgresStore) DebitAndHold(ctx context.Context, rec *payment.EscrowRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        UPDATE accounts SET balance_micro = balance_micro - $2
        WHERE id = $1 AND balance_micro >= $2`,
		rec.PayerID, rec.Gross.ToMicro().String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return payment.ErrInsufficientFunds
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO escrows (id, bounty_id, payer_id, gross_micro, fee_micro, net_micro, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.BountyID, rec.PayerID,
		rec.Gross.ToMicro().String(), rec.Fee.ToMicro().String(), rec.Net.ToMicro().String(),
		rec.Status)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return payment.ErrEscrowConflict
		}
		return err
	}
	return tx.Commit()
}

type escrowRow struct {
	ID         string         `db:"id"`
	BountyID   string         `db:"bounty_id"`
	PayerID    string         `db:"payer_id"`
	WinnerID   sql.NullString `db:"winner_id"`
	GrossMicro string         `db:"gross_micro"`
	FeeMicro   string         `db:"fee_micro"`
	NetMicro   string         `db:"net_micro"`
	Reference  sql.NullString `db:"reference"`
	Status     string         `db:"status"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (s *PostgresStore) GetEscrowByBounty(ctx context.Context, bountyID string) (*payment.EscrowRecord, error) {
	var row escrowRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM escrows WHERE bounty_id = $1`, bountyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}
	gross, err := parseMicro(row.GrossMicro)
	if err != nil {
		return nil, err
	}
	fee, err := parseMicro(row.FeeMicro)
	if err != nil {
		return nil, err
	}
	net, err := parseMicro(row.NetMicro)
	if err != nil {
		return nil, err
	}
	return &payment.EscrowRecord{
		ID:        row.ID,
		BountyID:  row.BountyID,
		PayerID:   row.PayerID,
		WinnerID:  row.WinnerID.String,
		Gross:     gross,
		Fee:       fee,
		Net:       net,
		Reference: row.Reference.String,
		Status:    payment.EscrowStatus(row.Status),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// SettleEscrow applies the conditional status transition and the payout
// credits in one transaction; if any credit fails the hold stays intact.
func (s *PostgresStore) SettleEscrow(ctx context.Context, bountyID string, to payment.EscrowStatus, winnerID, reference string, credits []payment.CreditEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        UPDATE escrows
        SET status = $2, winner_id = NULLIF($3, ''), reference = NULLIF($4, ''), updated_at = NOW()
        WHERE bounty_id = $1 AND status = $5`,
		bountyID, to, winnerID, reference, payment.EscrowStatusHeld)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM escrows WHERE bounty_id=$1)`, bountyID); err != nil {
			return err
		}
		if !exists {
			return payment.ErrEscrowNotFound
		}
		return payment.ErrEscrowConflict
	}

	for _, c := range credits {
		_, err := tx.ExecContext(ctx, `
        INSERT INTO accounts (id, balance_micro) VALUES ($1, $2)
        ON CONFLICT (id) DO UPDATE SET balance_micro = accounts.balance_micro + $2`,
			c.AccountID, c.Amount.ToMicro().String())
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) TransitionEscrow(ctx context.Context, bountyID string, from, to payment.EscrowStatus, winnerID, reference string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE escrows
        SET status = $3, winner_id = NULLIF($4, ''), reference = NULLIF($5, ''), updated_at = NOW()
        WHERE bounty_id = $1 AND status = $2`,
		bountyID, from, to, winnerID, reference)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM escrows WHERE bounty_id=$1)`, bountyID); err != nil {
			return err
		}
		if !exists {
			return payment.ErrEscrowNotFound
		}
		return payment.ErrEscrowConflict
	}
	return nil
}
