package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// Journal implements domain.TradeJournal on the trade_results table.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal creates a Journal backed by pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// Numeric columns travel as text so decimals keep their exact scale.
const resultSelectCols = `id, request_id, strategy, market_id, venue, side, outcome,
	amount::text, price::text, fees::text, pnl::text, status, external_id, executed_at`

const insertResult = `
	INSERT INTO trade_results (
		id, request_id, strategy, market_id, venue, side, outcome,
		amount, price, fees, pnl, status, external_id, executed_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7,
		$8::numeric, $9::numeric, $10::numeric, $11::numeric, $12, $13, $14
	) ON CONFLICT (request_id) DO NOTHING`

// Record inserts res. A second result for the same request is ignored.
func (j *Journal) Record(ctx context.Context, res domain.TradeResult) error {
	_, err := j.pool.Exec(ctx, insertResult,
		res.ID, res.RequestID, res.Strategy, res.MarketID, res.Venue,
		string(res.Side), string(res.Outcome),
		res.Amount.String(), res.Price.String(), res.Fees.String(), res.PnL.String(),
		string(res.Status), res.ExternalID, res.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record trade result %s: %w", res.ID, err)
	}
	return nil
}

// ListRecent returns results newest first.
func (j *Journal) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.TradeResult, error) {
	query, args := listRecentQuery(opts)
	rows, err := j.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade results: %w", err)
	}
	defer rows.Close()

	out, err := scanResultRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade results: %w", err)
	}
	return out, nil
}

var tradeResultsList = listQuery{
	selectFrom: `SELECT ` + resultSelectCols + ` FROM trade_results`,
	filterCol:  "strategy",
	timeCol:    "executed_at",
}

func listRecentQuery(opts domain.ListOpts) (string, []any) {
	return tradeResultsList.build(opts)
}

func scanResultRows(rows pgx.Rows) ([]domain.TradeResult, error) {
	var out []domain.TradeResult
	for rows.Next() {
		var (
			r                        domain.TradeResult
			side, outcome, status    string
			amount, price, fees, pnl string
		)
		if err := rows.Scan(
			&r.ID, &r.RequestID, &r.Strategy, &r.MarketID, &r.Venue, &side, &outcome,
			&amount, &price, &fees, &pnl, &status, &r.ExternalID, &r.ExecutedAt,
		); err != nil {
			return nil, err
		}
		r.Side = domain.OrderSide(side)
		r.Outcome = domain.OutcomeSide(outcome)
		r.Status = domain.TradeStatus(status)
		var err error
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("amount %q: %w", amount, err)
		}
		if r.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("price %q: %w", price, err)
		}
		if r.Fees, err = decimal.NewFromString(fees); err != nil {
			return nil, fmt.Errorf("fees %q: %w", fees, err)
		}
		if r.PnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("pnl %q: %w", pnl, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ domain.TradeJournal = (*Journal)(nil)
