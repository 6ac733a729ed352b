package postgres

import (
	"context"
	"time"

	"github.com/open-apime/apime-gateway/internal/storage/model"
)

type instanceRepo struct {
	db *DB
}

func NewInstanceRepository(db *DB) *instanceRepo {
	return &instanceRepo{db: db}
}

const instanceColumns = `id, COALESCE(webhook_url, ''), webhook_events, created_at, updated_at`

func (r *instanceRepo) Create(ctx context.Context, inst model.Instance) (model.Instance, error) {
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}
	inst.UpdatedAt = inst.CreatedAt

	row := r.db.Pool.QueryRow(ctx, `
		INSERT INTO instances (id, webhook_url, webhook_events, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+instanceColumns,
		inst.ID, nullIfEmpty(inst.WebhookURL), events(inst.WebhookEvents), inst.CreatedAt, inst.UpdatedAt,
	)
	created, err := scanInstance(row)
	if err != nil {
		return model.Instance{}, mapError(err)
	}
	return created, nil
}

func (r *instanceRepo) GetByID(ctx context.Context, id string) (model.Instance, error) {
	inst, err := scanInstance(r.db.Pool.QueryRow(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = $1`, id))
	if err != nil {
		return model.Instance{}, mapError(err)
	}
	return inst, nil
}

func (r *instanceRepo) List(ctx context.Context) ([]model.Instance, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+instanceColumns+` FROM instances ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []model.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func (r *instanceRepo) Update(ctx context.Context, inst model.Instance) (model.Instance, error) {
	row := r.db.Pool.QueryRow(ctx, `
		UPDATE instances
		SET webhook_url = $2, webhook_events = $3, updated_at = $4
		WHERE id = $1
		RETURNING `+instanceColumns,
		inst.ID, nullIfEmpty(inst.WebhookURL), events(inst.WebhookEvents), time.Now().UTC(),
	)
	updated, err := scanInstance(row)
	if err != nil {
		return model.Instance{}, mapError(err)
	}
	return updated, nil
}

func (r *instanceRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM instances WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// webhook_events é JSONB; pgx decodifica direto para []string.
func scanInstance(s scanner) (model.Instance, error) {
	var inst model.Instance
	if err := s.Scan(&inst.ID, &inst.WebhookURL, &inst.WebhookEvents, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
		return model.Instance{}, err
	}
	if inst.WebhookEvents == nil {
		inst.WebhookEvents = []string{}
	}
	inst.State = model.InstanceStateDisconnected
	inst.WebhookEnabled = inst.WebhookURL != ""
	return inst, nil
}

func events(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func nullIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
