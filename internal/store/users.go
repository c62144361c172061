package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fullvlad/lava-server/pkg/model"
)

type userRow struct {
	Username    string `db:"username"`
	Email       string `db:"email"`
	GroupsJSON  string `db:"groups_json"`
	IsSuperuser bool   `db:"is_superuser"`
}

func (t *sqlTx) CreateUser(ctx context.Context, u *model.User) error {
	t.logger.Debug("sql", "op", "insert", "table", "users", "username", u.Username)

	groups := u.Groups
	if groups == nil {
		groups = []string{}
	}
	groupsJSON, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("marshal groups: %w", err)
	}
	_, err = t.exec(ctx,
		`INSERT INTO users (username, email, groups_json, is_superuser) VALUES (?, ?, ?, ?)`,
		u.Username, u.Email, string(groupsJSON), u.IsSuperuser,
	)
	return err
}

func (t *sqlTx) GetUser(ctx context.Context, username string) (*model.User, error) {
	t.logger.Debug("sql", "op", "select", "table", "users", "username", username)

	var row userRow
	err := t.tx.GetContext(ctx, &row, t.tx.Rebind(
		`SELECT username, email, groups_json, is_superuser FROM users WHERE username = ?`), username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u := &model.User{Username: row.Username, Email: row.Email, IsSuperuser: row.IsSuperuser}
	if err := json.Unmarshal([]byte(row.GroupsJSON), &u.Groups); err != nil {
		return nil, fmt.Errorf("unmarshal groups: %w", err)
	}
	return u, nil
}

type tokenRow struct {
	ID        string `db:"id"`
	Secret    string `db:"secret"`
	Username  string `db:"username"`
	CreatedAt string `db:"created_at"`
}

func (t *sqlTx) CreateToken(ctx context.Context, tok *model.AuthToken) error {
	t.logger.Debug("sql", "op", "insert", "table", "auth_tokens", "id", tok.ID, "username", tok.Username)

	_, err := t.exec(ctx,
		`INSERT INTO auth_tokens (id, secret, username, created_at) VALUES (?, ?, ?, ?)`,
		tok.ID, tok.Secret, tok.Username, formatTime(tok.CreatedAt),
	)
	return err
}

func (t *sqlTx) GetToken(ctx context.Context, id string) (*model.AuthToken, error) {
	t.logger.Debug("sql", "op", "select", "table", "auth_tokens", "id", id)

	var row tokenRow
	err := t.tx.GetContext(ctx, &row, t.tx.Rebind(
		`SELECT id, secret, username, created_at FROM auth_tokens WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	created, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("token %s created_at: %w", row.ID, err)
	}
	return &model.AuthToken{ID: row.ID, Secret: row.Secret, Username: row.Username, CreatedAt: created}, nil
}

// DeleteToken removes the token. Deleting a missing token is not an error.
func (t *sqlTx) DeleteToken(ctx context.Context, id string) error {
	t.logger.Debug("sql", "op", "delete", "table", "auth_tokens", "id", id)

	_, err := t.exec(ctx, `DELETE FROM auth_tokens WHERE id = ?`, id)
	return err
}
