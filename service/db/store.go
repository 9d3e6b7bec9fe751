package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrPlanExists is returned when a plan purchase record already exists for
// the purchase ID. Plan records are insert-once; a second insert for the
// same purchase is a caller bug or a replayed workflow.
var ErrPlanExists = errors.New("plan record already exists")

// Store provides database operations for the service.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Member represents a registered member wallet.
type Member struct {
	WalletAddress string
	Email         *string
	Name          *string
	Referrer      *string // wallet address of the member who referred them
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateMemberParams contains the parameters for registering a member.
type CreateMemberParams struct {
	WalletAddress string
	Email         *string
	Name          *string
	Referrer      *string
}

// CreateMember registers a new member.
func (s *Store) CreateMember(ctx context.Context, params CreateMemberParams) (*Member, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO members (wallet_address, email, name, referrer)
		VALUES ($1, $2, $3, $4)
		RETURNING wallet_address, email, name, referrer, created_at, updated_at`,
		params.WalletAddress,
		pgtextFromStringPtr(params.Email),
		pgtextFromStringPtr(params.Name),
		pgtextFromStringPtr(params.Referrer),
	)
	return scanMember(row)
}

// GetMember retrieves a member by wallet address.
func (s *Store) GetMember(ctx context.Context, walletAddress string) (*Member, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT wallet_address, email, name, referrer, created_at, updated_at
		FROM members
		WHERE wallet_address = $1`,
		walletAddress,
	)
	return scanMember(row)
}

// ListMembers retrieves all members ordered by registration time.
func (s *Store) ListMembers(ctx context.Context) ([]*Member, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT wallet_address, email, name, referrer, created_at, updated_at
		FROM members
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// UpdateMember updates a member's contact details.
func (s *Store) UpdateMember(ctx context.Context, params CreateMemberParams) (*Member, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE members
		SET email = $2, name = $3, referrer = $4, updated_at = now()
		WHERE wallet_address = $1
		RETURNING wallet_address, email, name, referrer, created_at, updated_at`,
		params.WalletAddress,
		pgtextFromStringPtr(params.Email),
		pgtextFromStringPtr(params.Name),
		pgtextFromStringPtr(params.Referrer),
	)
	return scanMember(row)
}

// DeleteMember removes a member record.
func (s *Store) DeleteMember(ctx context.Context, walletAddress string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM members WHERE wallet_address = $1`, walletAddress)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MemberPlan is the durable record of one completed (or settled-enough)
// plan purchase. Rows are written once, after the payment steps resolve,
// and never mutated apart from the audit CID backfill.
type MemberPlan struct {
	PurchaseID        string
	WalletAddress     string
	PlanID            string
	Referrer          *string
	FiatFee           decimal.Decimal
	RateRaw           decimal.Decimal
	RateAdjusted      decimal.Decimal
	RateFallback      bool
	BonusOffset       decimal.Decimal
	NetPayment        decimal.Decimal
	FeeShareA         decimal.Decimal
	FeeShareB         decimal.Decimal
	ReferralAmount    decimal.Decimal
	FeeSignatureA     *string
	FeeSignatureB     *string
	ReferralSignature *string // nil when the referral payout never landed
	BonusSignature    *string
	AuditCID          *string
	Status            string
	CreatedAt         time.Time
}

// CreateMemberPlanParams contains the parameters for recording a purchase.
type CreateMemberPlanParams struct {
	PurchaseID        string
	WalletAddress     string
	PlanID            string
	Referrer          *string
	FiatFee           decimal.Decimal
	RateRaw           decimal.Decimal
	RateAdjusted      decimal.Decimal
	RateFallback      bool
	BonusOffset       decimal.Decimal
	NetPayment        decimal.Decimal
	FeeShareA         decimal.Decimal
	FeeShareB         decimal.Decimal
	ReferralAmount    decimal.Decimal
	FeeSignatureA     *string
	FeeSignatureB     *string
	ReferralSignature *string
	BonusSignature    *string
	AuditCID          *string
	Status            string
}

const memberPlanColumns = `purchase_id, wallet_address, plan_id, referrer,
	fiat_fee::text, rate_raw::text, rate_adjusted::text, rate_fallback,
	bonus_offset::text, net_payment::text, fee_share_a::text, fee_share_b::text,
	referral_amount::text, fee_signature_a, fee_signature_b, referral_signature,
	bonus_signature, audit_cid, status, created_at`

// CreateMemberPlan records a settled purchase. Records are insert-once: a
// conflicting purchase ID returns ErrPlanExists and leaves the original row
// untouched.
func (s *Store) CreateMemberPlan(ctx context.Context, params CreateMemberPlanParams) (*MemberPlan, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO member_plans (
			purchase_id, wallet_address, plan_id, referrer,
			fiat_fee, rate_raw, rate_adjusted, rate_fallback,
			bonus_offset, net_payment, fee_share_a, fee_share_b,
			referral_amount, fee_signature_a, fee_signature_b, referral_signature,
			bonus_signature, audit_cid, status
		) VALUES (
			$1, $2, $3, $4,
			$5::numeric, $6::numeric, $7::numeric, $8,
			$9::numeric, $10::numeric, $11::numeric, $12::numeric,
			$13::numeric, $14, $15, $16,
			$17, $18, $19
		)
		ON CONFLICT (purchase_id) DO NOTHING
		RETURNING `+memberPlanColumns,
		params.PurchaseID,
		params.WalletAddress,
		params.PlanID,
		pgtextFromStringPtr(params.Referrer),
		params.FiatFee.String(),
		params.RateRaw.String(),
		params.RateAdjusted.String(),
		params.RateFallback,
		params.BonusOffset.String(),
		params.NetPayment.String(),
		params.FeeShareA.String(),
		params.FeeShareB.String(),
		params.ReferralAmount.String(),
		pgtextFromStringPtr(params.FeeSignatureA),
		pgtextFromStringPtr(params.FeeSignatureB),
		pgtextFromStringPtr(params.ReferralSignature),
		pgtextFromStringPtr(params.BonusSignature),
		pgtextFromStringPtr(params.AuditCID),
		params.Status,
	)
	plan, err := scanMemberPlan(row)
	if errors.Is(err, ErrNotFound) {
		// ON CONFLICT DO NOTHING yields no row when the insert was skipped.
		return nil, ErrPlanExists
	}
	return plan, err
}

// GetMemberPlan retrieves a purchase record by its purchase ID.
func (s *Store) GetMemberPlan(ctx context.Context, purchaseID string) (*MemberPlan, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+memberPlanColumns+`
		FROM member_plans
		WHERE purchase_id = $1`,
		purchaseID,
	)
	return scanMemberPlan(row)
}

// ListMemberPlansByWallet retrieves a member's purchases, newest first.
func (s *Store) ListMemberPlansByWallet(ctx context.Context, walletAddress string) ([]*MemberPlan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+memberPlanColumns+`
		FROM member_plans
		WHERE wallet_address = $1
		ORDER BY created_at DESC`,
		walletAddress,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*MemberPlan
	for rows.Next() {
		p, err := scanMemberPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// HasActivePlan reports whether the wallet holds a settled plan purchase.
func (s *Store) HasActivePlan(ctx context.Context, walletAddress string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM member_plans
			WHERE wallet_address = $1 AND status = 'completed'
		)`,
		walletAddress,
	).Scan(&exists)
	return exists, err
}

// ListPlanSignatures returns every transfer signature recorded on plans
// created since the given time. Reconciliation uses these as the known set
// when scanning treasury activity.
func (s *Store) ListPlanSignatures(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sig FROM (
			SELECT fee_signature_a AS sig, created_at FROM member_plans
			UNION ALL
			SELECT fee_signature_b, created_at FROM member_plans
			UNION ALL
			SELECT referral_signature, created_at FROM member_plans
			UNION ALL
			SELECT bonus_signature, created_at FROM member_plans
		) sigs
		WHERE sig IS NOT NULL AND created_at >= $1`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signatures []string
	for rows.Next() {
		var sig string
		if err := rows.Scan(&sig); err != nil {
			return nil, err
		}
		signatures = append(signatures, sig)
	}
	return signatures, rows.Err()
}

// SetPlanAuditCID backfills the audit report CID on a purchase record.
// This is the only permitted mutation: the pin is best-effort and may
// succeed after the row was written.
func (s *Store) SetPlanAuditCID(ctx context.Context, purchaseID, cid string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE member_plans
		SET audit_cid = $2
		WHERE purchase_id = $1 AND audit_cid IS NULL`,
		purchaseID, cid,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Bonus is one entry in a member's bonus ledger. Positive amounts are
// awards; negative amounts record bonus consumed as a payment offset.
type Bonus struct {
	ID            int64
	WalletAddress string
	Amount        decimal.Decimal
	Source        string // purchase ID or award reason
	CreatedAt     time.Time
}

// AddBonus appends a bonus ledger entry.
func (s *Store) AddBonus(ctx context.Context, walletAddress string, amount decimal.Decimal, source string) (*Bonus, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO bonuses (wallet_address, amount, source)
		VALUES ($1, $2::numeric, $3)
		RETURNING id, wallet_address, amount::text, source, created_at`,
		walletAddress, amount.String(), source,
	)
	return scanBonus(row)
}

// GetBonusBalance returns the member's accumulated bonus.
func (s *Store) GetBonusBalance(ctx context.Context, walletAddress string) (decimal.Decimal, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM bonuses
		WHERE wallet_address = $1`,
		walletAddress,
	).Scan(&raw)
	if err != nil {
		return decimal.Zero, err
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparseable bonus balance %q: %w", raw, err)
	}
	return balance, nil
}

// ListBonuses retrieves a member's bonus ledger, newest first.
func (s *Store) ListBonuses(ctx context.Context, walletAddress string) ([]*Bonus, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, wallet_address, amount::text, source, created_at
		FROM bonuses
		WHERE wallet_address = $1
		ORDER BY created_at DESC, id DESC`,
		walletAddress,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bonuses []*Bonus
	for rows.Next() {
		b, err := scanBonus(rows)
		if err != nil {
			return nil, err
		}
		bonuses = append(bonuses, b)
	}
	return bonuses, rows.Err()
}

// Scan helpers

func scanMember(row pgx.Row) (*Member, error) {
	var (
		m                     Member
		email, name, referrer pgtype.Text
		createdAt, updatedAt  pgtype.Timestamptz
	)
	err := row.Scan(&m.WalletAddress, &email, &name, &referrer, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Email = stringPtrFromPgtext(email)
	m.Name = stringPtrFromPgtext(name)
	m.Referrer = stringPtrFromPgtext(referrer)
	m.CreatedAt = createdAt.Time
	m.UpdatedAt = updatedAt.Time
	return &m, nil
}

func scanMemberPlan(row pgx.Row) (*MemberPlan, error) {
	var (
		p                                            MemberPlan
		referrer, sigA, sigB, sigRef, sigBonus, cid  pgtype.Text
		fiatFee, rateRaw, rateAdjusted, bonusOffset  string
		netPayment, shareA, shareB, referral         string
		createdAt                                    pgtype.Timestamptz
	)
	err := row.Scan(
		&p.PurchaseID, &p.WalletAddress, &p.PlanID, &referrer,
		&fiatFee, &rateRaw, &rateAdjusted, &p.RateFallback,
		&bonusOffset, &netPayment, &shareA, &shareB,
		&referral, &sigA, &sigB, &sigRef,
		&sigBonus, &cid, &p.Status, &createdAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	for _, field := range []struct {
		dst *decimal.Decimal
		raw string
	}{
		{&p.FiatFee, fiatFee},
		{&p.RateRaw, rateRaw},
		{&p.RateAdjusted, rateAdjusted},
		{&p.BonusOffset, bonusOffset},
		{&p.NetPayment, netPayment},
		{&p.FeeShareA, shareA},
		{&p.FeeShareB, shareB},
		{&p.ReferralAmount, referral},
	} {
		d, err := decimal.NewFromString(field.raw)
		if err != nil {
			return nil, fmt.Errorf("unparseable numeric %q: %w", field.raw, err)
		}
		*field.dst = d
	}

	p.Referrer = stringPtrFromPgtext(referrer)
	p.FeeSignatureA = stringPtrFromPgtext(sigA)
	p.FeeSignatureB = stringPtrFromPgtext(sigB)
	p.ReferralSignature = stringPtrFromPgtext(sigRef)
	p.BonusSignature = stringPtrFromPgtext(sigBonus)
	p.AuditCID = stringPtrFromPgtext(cid)
	p.CreatedAt = createdAt.Time
	return &p, nil
}

func scanBonus(row pgx.Row) (*Bonus, error) {
	var (
		b         Bonus
		amount    string
		createdAt pgtype.Timestamptz
	)
	err := row.Scan(&b.ID, &b.WalletAddress, &amount, &b.Source, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("unparseable bonus amount %q: %w", amount, err)
	}
	b.Amount = d
	b.CreatedAt = createdAt.Time
	return &b, nil
}

// Helper functions to convert between pgx types and domain types

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}
