package cart

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	uniqueViolation = "23505"
	numericOverflow = "22003"
	checkViolation  = "23514"
)

// Repo is the Postgres implementation of Store and Catalog.
type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) FindCart(ctx context.Context, userID int64) (Cart, error) {
	var c Cart
	err := r.DB.QueryRow(ctx, `SELECT id, user_id, created_at FROM carts WHERE user_id=$1`, userID).
		Scan(&c.ID, &c.UserID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cart{}, &NotFoundError{Resource: "Cart", Message: "You don't have a cart."}
	}
	if err != nil {
		return Cart{}, errors.Wrap(err, "select cart")
	}
	return c, nil
}

// CreateCart relies on the unique index on carts.user_id to reject a second cart.
func (r *Repo) CreateCart(ctx context.Context, userID int64) (Cart, error) {
	var c Cart
	err := r.DB.QueryRow(ctx, `
		INSERT INTO carts(user_id) VALUES ($1)
		RETURNING id, user_id, created_at`, userID).
		Scan(&c.ID, &c.UserID, &c.CreatedAt)
	if isUniqueViolation(err) {
		return Cart{}, ErrDuplicateCart
	}
	if err != nil {
		return Cart{}, errors.Wrap(err, "insert cart")
	}
	return c, nil
}

// AddItems upserts every line in one transaction. The conflict clause turns
// concurrent adds of the same product into serialized row increments, and
// total_price is recomputed from the product's current price.
func (r *Repo) AddItems(ctx context.Context, cartID int64, items []ItemInput) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range items {
		var qty int
		err := tx.QueryRow(ctx, `
			INSERT INTO cart_items(cart_id, product_id, quantity, total_price)
			SELECT $1, p.id, $3::int, $3::int * p.price FROM products p WHERE p.id = $2
			ON CONFLICT (cart_id, product_id) DO UPDATE
			SET quantity    = cart_items.quantity + EXCLUDED.quantity,
			    total_price = (cart_items.quantity + EXCLUDED.quantity) *
			                  (SELECT price FROM products WHERE id = EXCLUDED.product_id)
			RETURNING quantity`, cartID, it.ProductID, it.Quantity).Scan(&qty)
		if errors.Is(err, pgx.ErrNoRows) {
			// product deleted after validation
			return &NotFoundError{Resource: "Product", ID: it.ProductID}
		}
		if pgCode(err) == numericOverflow {
			return &ValidationError{Field: "quantity", Message: fmt.Sprintf("Quantity for product %d is too large.", it.ProductID)}
		}
		if err != nil {
			return errors.Wrapf(err, "upsert cart item %d", it.ProductID)
		}
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

// DecrementItem locks the line, then updates or deletes it.
func (r *Repo) DecrementItem(ctx context.Context, cartID, productID int64, qty int) (int, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		cur   int
		price decimal.Decimal
	)
	err = tx.QueryRow(ctx, `
		SELECT ci.quantity, p.price
		FROM cart_items ci JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id=$1 AND ci.product_id=$2
		FOR UPDATE OF ci`, cartID, productID).Scan(&cur, &price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, &NotFoundError{Resource: "Product", ID: productID, Message: "Product not in cart."}
	}
	if err != nil {
		return 0, errors.Wrap(err, "lock cart item")
	}

	left := cur - qty
	if left <= 0 {
		left = 0
		_, err = tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id=$1 AND product_id=$2`, cartID, productID)
	} else {
		total := price.Mul(decimal.NewFromInt(int64(left)))
		_, err = tx.Exec(ctx, `UPDATE cart_items SET quantity=$3, total_price=$4 WHERE cart_id=$1 AND product_id=$2`,
			cartID, productID, left, total)
	}
	if err != nil {
		return 0, errors.Wrap(err, "write cart item")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit")
	}
	return left, nil
}

func (r *Repo) Lines(ctx context.Context, cartID int64) ([]LineItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT ci.id, ci.product_id, p.name, p.price, ci.quantity, ci.total_price
		FROM cart_items ci JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id=$1
		ORDER BY ci.id`, cartID)
	if err != nil {
		return nil, errors.Wrap(err, "select cart items")
	}
	defer rows.Close()

	var out []LineItem
	for rows.Next() {
		var l LineItem
		if err := rows.Scan(&l.ID, &l.ProductID, &l.Name, &l.UnitPrice, &l.Quantity, &l.TotalPrice); err != nil {
			return nil, errors.Wrap(err, "scan cart item")
		}
		out = append(out, l)
	}
	return out, errors.Wrap(rows.Err(), "iterate cart items")
}

// Checkout inserts the payment, snapshots the lines and clears them in one transaction.
func (r *Repo) Checkout(ctx context.Context, cartID int64, p Payment) ([]PurchasedItem, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO payments(id, user_id, amount, payment_method, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.UserID, p.Amount, p.Method, p.Status, p.CreatedAt); err != nil {
		if code := pgCode(err); code == numericOverflow || code == checkViolation {
			return nil, &ValidationError{Field: "amount", Message: "Amount is out of range."}
		}
		return nil, errors.Wrap(err, "insert payment")
	}

	rows, err := tx.Query(ctx, `
		DELETE FROM cart_items ci USING products p
		WHERE ci.cart_id=$1 AND p.id = ci.product_id
		RETURNING ci.product_id, ci.quantity, p.price`, cartID)
	if err != nil {
		return nil, errors.Wrap(err, "clear cart items")
	}
	var items []PurchasedItem
	for rows.Next() {
		var it PurchasedItem
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.UnitPrice); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan cleared item")
		}
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate cleared items")
	}

	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO payment_items(payment_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)`, p.ID, it.ProductID, it.Quantity, it.UnitPrice); err != nil {
			return nil, errors.Wrap(err, "insert payment item")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return items, nil
}

func (r *Repo) FindPayment(ctx context.Context, id string) (Payment, error) {
	var p Payment
	err := r.DB.QueryRow(ctx, `
		SELECT id::text, user_id, amount, payment_method, status, created_at
		FROM payments WHERE id=$1`, id).
		Scan(&p.ID, &p.UserID, &p.Amount, &p.Method, &p.Status, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, &NotFoundError{Resource: "Payment", Message: "Payment not found."}
	}
	if err != nil {
		return Payment{}, errors.Wrap(err, "select payment")
	}
	return p, nil
}

// Products returns the subset of ids that exist, keyed by id.
func (r *Repo) Products(ctx context.Context, ids []int64) (map[int64]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, description, price, stock, category_id
		FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select products")
	}
	defer rows.Close()

	out := make(map[int64]Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, errors.Wrap(rows.Err(), "iterate products")
}

func (r *Repo) ListProducts(ctx context.Context, limit, offset int) ([]Product, int, error) {
	var total int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count products")
	}

	rows, err := r.DB.Query(ctx, `
		SELECT id, name, description, price, stock, category_id
		FROM products ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "select products")
	}
	defer rows.Close()

	out := make([]Product, 0, limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, errors.Wrap(rows.Err(), "iterate products")
}

func (r *Repo) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, name FROM categories ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "select categories")
	}
	defer rows.Close()

	out := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, errors.Wrap(err, "scan category")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "iterate categories")
}

// CreateCategory trims name and relies on the unique index for duplicates.
func (r *Repo) CreateCategory(ctx context.Context, name string) (Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Category{}, &ValidationError{Field: "name", Message: "Category name is required."}
	}
	c := Category{Name: name}
	err := r.DB.QueryRow(ctx, `INSERT INTO categories(name) VALUES ($1) RETURNING id`, name).Scan(&c.ID)
	if isUniqueViolation(err) {
		return Category{}, &ValidationError{Field: "name", Message: "category with this name already exists."}
	}
	if err != nil {
		return Category{}, errors.Wrap(err, "insert category")
	}
	return c, nil
}

func scanProduct(rows pgx.Rows) (Product, error) {
	var p Product
	if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.CategoryID); err != nil {
		return Product{}, errors.Wrap(err, "scan product")
	}
	return p, nil
}

func isUniqueViolation(err error) bool { return pgCode(err) == uniqueViolation }

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
