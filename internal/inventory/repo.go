package inventory

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const (
	StatusAllocated   = "ALLOCATED"
	StatusBackordered = "BACKORDERED"
)

type Line struct {
	ProductID int64
	Qty       int
}

// Allocation is the outcome for one purchased line.
type Allocation struct {
	ProductID int64
	Qty       int
	Available int
	Status    string
}

type StockRepo struct{ DB *pgxpool.Pool }

// Allocated reports whether every line of the payment already has an allocation row.
func (r *StockRepo) Allocated(ctx context.Context, paymentID string, lineCount int) (bool, error) {
	var n int
	err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM stock_allocations WHERE payment_id = $1`, paymentID).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "count allocations")
	}
	return n == lineCount, nil
}

// AllocateAll locks each product row, deducts stock when it suffices and
// records the outcome. Lines without enough stock are recorded as
// backordered and leave stock untouched. Redelivery of the same payment
// is a no-op thanks to the allocation primary key.
func (r *StockRepo) AllocateAll(ctx context.Context, paymentID string, lines []Line) ([]Allocation, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := make([]Allocation, 0, len(lines))
	for _, l := range lines {
		var done bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM stock_allocations WHERE payment_id=$1 AND product_id=$2)`,
			paymentID, l.ProductID).Scan(&done)
		if err != nil {
			return nil, errors.Wrap(err, "check allocation")
		}
		if done {
			continue
		}

		var stock int
		err = tx.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1 FOR UPDATE`, l.ProductID).Scan(&stock)
		if errors.Is(err, pgx.ErrNoRows) {
			stock = 0
		} else if err != nil {
			return nil, errors.Wrapf(err, "lock product %d", l.ProductID)
		}

		a := Allocation{ProductID: l.ProductID, Qty: l.Qty, Available: stock, Status: StatusBackordered}
		if stock >= l.Qty {
			if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock - $2, updated_at = now() WHERE id=$1`,
				l.ProductID, l.Qty); err != nil {
				return nil, errors.Wrapf(err, "deduct stock %d", l.ProductID)
			}
			a.Status = StatusAllocated
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO stock_allocations(payment_id, product_id, qty, status)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (payment_id, product_id) DO NOTHING`,
			paymentID, l.ProductID, l.Qty, a.Status); err != nil {
			return nil, errors.Wrap(err, "insert allocation")
		}
		out = append(out, a)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return out, nil
}
