package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/models"
)

var userSelect = psql.
	Select(
		"u.id", "u.name", "COALESCE(u.email, '')", "COALESCE(u.phone, '')", "u.active",
		"COALESCE(u.sector_id::text, '')", "COALESCE(s.name, '')", "COALESCE(s.privilege, '')",
		"COALESCE(s.manager_id::text, '')",
	).
	From("users u").
	LeftJoin("sectors s ON s.id = u.sector_id")

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	var sectorName, privilege, managerID string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Active, &u.SectorID,
		&sectorName, &privilege, &managerID); err != nil {
		return models.User{}, err
	}
	if u.SectorID != "" {
		u.Sector = &models.Sector{ID: u.SectorID, Name: sectorName, Privilege: privilege, ManagerID: managerID}
	}
	return u, nil
}

func (d *DB) queryUsers(ctx context.Context, b sq.SelectBuilder) ([]models.User, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build user query: %w", err)
	}
	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (d *DB) UsersInSectors(ctx context.Context, sectorIDs []string) ([]models.User, error) {
	if len(sectorIDs) == 0 {
		return nil, nil
	}
	return d.queryUsers(ctx, userSelect.Where(sq.Eq{"u.sector_id": sectorIDs}))
}

func (d *DB) UsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return d.queryUsers(ctx, userSelect.Where(sq.Eq{"u.id": ids}))
}

// GetUser loads one user with sector and active device tokens.
func (d *DB) GetUser(ctx context.Context, id string) (models.User, error) {
	query, args, err := userSelect.Where(sq.Eq{"u.id": id}).ToSql()
	if err != nil {
		return models.User{}, fmt.Errorf("failed to build user query: %w", err)
	}
	u, err := scanUser(d.Pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, apperrors.NewNotFound("user %s", id)
		}
		return models.User{}, fmt.Errorf("failed to get user %s: %w", id, err)
	}

	tokens, err := d.DeviceTokens(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	u.DeviceTokens = tokens
	return u, nil
}

func (d *DB) DeviceTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := d.Pool.Query(ctx, `
	SELECT token FROM user_devices WHERE user_id = $1 AND active = true`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load device tokens for user %s: %w", userID, err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// VacationingUserIDs returns the subset of ids with an approved or in-progress
// vacation overlapping [dayStart, dayEnd].
func (d *DB) VacationingUserIDs(ctx context.Context, ids []string, dayStart, dayEnd time.Time) (map[string]bool, error) {
	out := map[string]bool{}
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := psql.
		Select("DISTINCT user_id").
		From("vacations").
		Where(sq.Eq{"user_id": ids}).
		Where(sq.Eq{"status": []string{string(models.VacationApproved), string(models.VacationInProgress)}}).
		Where(sq.LtOrEq{"start_at": dayEnd}).
		Where(sq.GtOrEq{"end_at": dayStart}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build vacation query: %w", err)
	}

	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vacations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan vacation: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}
