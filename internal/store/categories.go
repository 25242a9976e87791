package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmm-1987/agente/internal/textnorm"
)

// ListCategories returns all categories by ID.
func (s *Store) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, icon, color, display_name FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cats []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Icon, &c.Color, &c.DisplayName); err != nil {
			return nil, fmt.Errorf("list categories: %w", err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// GetCategory returns a category by internal name.
func (s *Store) GetCategory(ctx context.Context, name string) (*Category, error) {
	var c Category
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, icon, color, display_name FROM categories WHERE name = ?`, name,
	).Scan(&c.ID, &c.Name, &c.Icon, &c.Color, &c.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get category %q: %w", name, err)
	}
	return &c, nil
}

// CreateCategory adds a category. Its internal name is the folded form of
// c.Name.
func (s *Store) CreateCategory(ctx context.Context, c *Category) error {
	c.Name = strings.ReplaceAll(textnorm.NormalizeName(c.Name), " ", "_")
	if c.Name == "" {
		return fmt.Errorf("%w: empty category name", ErrInvalidValue)
	}
	if c.DisplayName == "" {
		c.DisplayName = c.Name
	}
	err := s.write(ctx, "create category", func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO categories (name, icon, color, display_name) VALUES (?, ?, ?, ?)`,
			c.Name, c.Icon, c.Color, c.DisplayName)
		if err != nil {
			return err
		}
		c.ID, err = res.LastInsertId()
		return err
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("category %q already exists: %w", c.Name, ErrInvalidValue)
	}
	if err != nil {
		return fmt.Errorf("create category: %w", err)
	}
	return nil
}

// DeleteCategory removes a category no task refers to.
func (s *Store) DeleteCategory(ctx context.Context, name string) error {
	return s.inTx(ctx, "delete category", func(tx *sql.Tx) error {
		var used int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE category = ?`, name).Scan(&used); err != nil {
			return err
		}
		if used > 0 {
			return fmt.Errorf("category %q has %d tasks: %w", name, used, ErrCategoryInUse)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE name = ?`, name)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("category %q: %w", name, ErrNotFound)
		}
		return nil
	})
}
