package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/fish-market/internal/core/domain"
)

// SQLAdapter stores catalog items and payment records. Queries use "?"
// placeholders and portable SQL so the same code runs on MySQL and SQLite.
type SQLAdapter struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLAdapter(db *sql.DB) *SQLAdapter {
	return &SQLAdapter{db: db, now: time.Now}
}

func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

const catalogColumns = `id, name, price, stock, description, photo_url, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCatalogItem(row rowScanner) (*domain.CatalogItem, error) {
	var (
		item  domain.CatalogItem
		photo sql.NullString
	)
	err := row.Scan(&item.ID, &item.Name, &item.Price, &item.Stock, &item.Description,
		&photo, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if photo.Valid {
		item.PhotoURL = &photo.String
	}
	return &item, nil
}

func (a *SQLAdapter) GetItem(ctx context.Context, id string) (*domain.CatalogItem, error) {
	row := a.db.QueryRowContext(ctx, `SELECT `+catalogColumns+` FROM catalog_items WHERE id = ?`, id)
	item, err := scanCatalogItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query catalog item: %w", err)
	}
	return item, nil
}

func (a *SQLAdapter) ListAvailable(ctx context.Context) ([]domain.CatalogItem, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT `+catalogColumns+`
		FROM catalog_items
		WHERE stock > 0
		ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("query catalog items: %w", err)
	}
	defer rows.Close()

	items := []domain.CatalogItem{}
	for rows.Next() {
		item, err := scanCatalogItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan catalog item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

// DecrementStock is the conditional decrement: it only applies while
// stock >= quantity, so stock can never go negative under concurrency.
func (a *SQLAdapter) DecrementStock(ctx context.Context, id string, quantity int) (bool, error) {
	result, err := a.db.ExecContext(ctx, `
		UPDATE catalog_items
		SET stock = stock - ?, updated_at = ?
		WHERE id = ? AND stock >= ?`,
		quantity, dbTime(a.now()), id, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	return rows == 1, nil
}

func (a *SQLAdapter) IncrementStock(ctx context.Context, id string, quantity int) error {
	result, err := a.db.ExecContext(ctx, `
		UPDATE catalog_items
		SET stock = stock + ?, updated_at = ?
		WHERE id = ?`,
		quantity, dbTime(a.now()), id,
	)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

// SaveItem inserts or replaces a catalog item. Used for seeding.
func (a *SQLAdapter) SaveItem(ctx context.Context, item domain.CatalogItem) error {
	if err := item.Validate(); err != nil {
		return err
	}

	now := dbTime(a.now())
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog_items WHERE id = ?`, item.ID); err != nil {
		return fmt.Errorf("replace catalog item: %w", err)
	}
	var photo any
	if item.PhotoURL != nil {
		photo = *item.PhotoURL
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO catalog_items (`+catalogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.Price.String(), item.Stock, item.Description,
		photo, dbTime(item.CreatedAt), item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert catalog item: %w", err)
	}

	return tx.Commit()
}

// DeleteItem removes a catalog item. Carts that still reference it show the
// line as deleted.
func (a *SQLAdapter) DeleteItem(ctx context.Context, id string) error {
	result, err := a.db.ExecContext(ctx, `DELETE FROM catalog_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete catalog item: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

const paymentColumns = `id, customer_id, items, total, payment_slip, status, created_at, updated_at`

func scanPayment(row rowScanner) (*domain.PaymentRecord, error) {
	var (
		p     domain.PaymentRecord
		items []byte
	)
	err := row.Scan(&p.ID, &p.CustomerID, &items, &p.Total, &p.PaymentSlip, &p.Status,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &p.Items); err != nil {
		return nil, fmt.Errorf("decode payment items: %w", err)
	}
	return &p, nil
}

func (a *SQLAdapter) CreatePayment(ctx context.Context, payment domain.PaymentRecord) error {
	items, err := json.Marshal(payment.Items)
	if err != nil {
		return fmt.Errorf("encode payment items: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID, payment.CustomerID, string(items), payment.Total.String(), payment.PaymentSlip,
		string(payment.Status), dbTime(payment.CreatedAt), dbTime(payment.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (a *SQLAdapter) GetPayment(ctx context.Context, id string) (*domain.PaymentRecord, error) {
	row := a.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query payment: %w", err)
	}
	return p, nil
}

func (a *SQLAdapter) ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.PaymentRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.CustomerID != "" {
		where = append(where, "customer_id = ?")
		args = append(args, filter.CustomerID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Date != nil {
		from, to := filter.DayRange()
		where = append(where, "created_at >= ?", "created_at < ?")
		args = append(args, dbTime(from), dbTime(to))
	}

	query := `SELECT ` + paymentColumns + ` FROM payments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	payments := []domain.PaymentRecord{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return payments, nil
}

func (a *SQLAdapter) UpdatePaymentStatus(ctx context.Context, id string, status domain.PaymentStatus) error {
	result, err := a.db.ExecContext(ctx, `
		UPDATE payments
		SET status = ?, updated_at = ?
		WHERE id = ?`,
		string(status), dbTime(a.now()), id,
	)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}

	// MySQL reports 0 affected rows when the value is unchanged
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := a.GetPayment(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (a *SQLAdapter) DeletePayment(ctx context.Context, id string) (*domain.PaymentRecord, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query payment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM payments WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}
