package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmm-1987/agente/internal/textnorm"
)

func scanClient(r rowScanner) (*Client, error) {
	var (
		c       Client
		aliases string
	)
	if err := r.Scan(&c.ID, &c.Name, &c.NormalizedName, &aliases, &c.CreatedAt); err != nil {
		return nil, err
	}
	if aliases != "" {
		if err := json.Unmarshal([]byte(aliases), &c.Aliases); err != nil {
			return nil, fmt.Errorf("client %d aliases: %w", c.ID, err)
		}
	}
	return &c, nil
}

// CreateClient registers a client. The normalized form of name is its
// uniqueness key; a clash returns ErrDuplicateClient.
func (s *Store) CreateClient(ctx context.Context, name string, aliases ...string) (*Client, error) {
	name = textnorm.CollapseSpaces(name)
	c := &Client{
		Name:           name,
		NormalizedName: textnorm.NormalizeName(name),
		Aliases:        cleanAliases(aliases),
		CreatedAt:      s.now().UTC(),
	}
	if c.NormalizedName == "" {
		return nil, fmt.Errorf("%w: empty client name", ErrInvalidValue)
	}
	raw, err := json.Marshal(c.Aliases)
	if err != nil {
		return nil, err
	}

	err = s.write(ctx, "create client", func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO clients (name, normalized_name, aliases, created_at) VALUES (?, ?, ?, ?)`,
			c.Name, c.NormalizedName, string(raw), c.CreatedAt)
		if err != nil {
			return err
		}
		c.ID, err = res.LastInsertId()
		return err
	})
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("client %q: %w", name, ErrDuplicateClient)
	}
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	s.log.Info("client created", slog.Int64("client_id", c.ID), slog.String("name", c.Name))
	return c, nil
}

// GetClient returns a client by ID.
func (s *Store) GetClient(ctx context.Context, id int64) (*Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx,
		`SELECT id, name, normalized_name, aliases, created_at FROM clients WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get client %d: %w", id, err)
	}
	return c, nil
}

// GetClientByName returns the client whose normalized name equals the
// normalized form of name.
func (s *Store) GetClientByName(ctx context.Context, name string) (*Client, error) {
	key := textnorm.NormalizeName(name)
	c, err := scanClient(s.db.QueryRowContext(ctx,
		`SELECT id, name, normalized_name, aliases, created_at FROM clients WHERE normalized_name = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get client %q: %w", name, err)
	}
	return c, nil
}

// ListClients returns every client ordered by name.
func (s *Store) ListClients(ctx context.Context) ([]*Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, normalized_name, aliases, created_at FROM clients ORDER BY normalized_name`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var clients []*Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("list clients: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// SetAliases replaces the alias list of a client.
func (s *Store) SetAliases(ctx context.Context, id int64, aliases []string) error {
	raw, err := json.Marshal(cleanAliases(aliases))
	if err != nil {
		return err
	}
	var n int64
	err = s.write(ctx, "set client aliases", func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE clients SET aliases = ? WHERE id = ?`, string(raw), id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("set aliases on client %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("client %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteClient removes a client. Its tasks keep client_name_raw and lose
// the reference.
func (s *Store) DeleteClient(ctx context.Context, id int64) error {
	var n int64
	err := s.write(ctx, "delete client", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("delete client %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("client %d: %w", id, ErrNotFound)
	}
	s.log.Info("client deleted", slog.Int64("client_id", id))
	return nil
}

// cleanAliases trims aliases and drops empties and duplicates, keeping order.
func cleanAliases(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		key := textnorm.NormalizeName(a)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}
