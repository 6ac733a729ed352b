package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
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

	events, err := encodeEvents(inst.WebhookEvents)
	if err != nil {
		return model.Instance{}, err
	}

	_, err = r.db.Conn.ExecContext(ctx, `
		INSERT INTO instances (id, webhook_url, webhook_events, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, inst.ID, nullIfEmpty(inst.WebhookURL), events,
		inst.CreatedAt.Format(time.RFC3339Nano), inst.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return model.Instance{}, mapError(err)
	}
	return inst, nil
}

func (r *instanceRepo) GetByID(ctx context.Context, id string) (model.Instance, error) {
	row := r.db.Conn.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = ?`, id)
	inst, err := scanInstance(row)
	if err != nil {
		return model.Instance{}, mapError(err)
	}
	return inst, nil
}

func (r *instanceRepo) List(ctx context.Context) ([]model.Instance, error) {
	rows, err := r.db.Conn.QueryContext(ctx, `SELECT `+instanceColumns+` FROM instances ORDER BY created_at ASC`)
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
	inst.UpdatedAt = time.Now().UTC()

	events, err := encodeEvents(inst.WebhookEvents)
	if err != nil {
		return model.Instance{}, err
	}

	result, err := r.db.Conn.ExecContext(ctx, `
		UPDATE instances
		SET webhook_url = ?, webhook_events = ?, updated_at = ?
		WHERE id = ?
	`, nullIfEmpty(inst.WebhookURL), events, inst.UpdatedAt.Format(time.RFC3339Nano), inst.ID)
	if err != nil {
		return model.Instance{}, err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return model.Instance{}, mapError(sql.ErrNoRows)
	}
	return inst, nil
}

func (r *instanceRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.Conn.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return mapError(sql.ErrNoRows)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(s scanner) (model.Instance, error) {
	var (
		inst                 model.Instance
		events               string
		createdAt, updatedAt string
	)
	if err := s.Scan(&inst.ID, &inst.WebhookURL, &events, &createdAt, &updatedAt); err != nil {
		return model.Instance{}, err
	}
	if err := json.Unmarshal([]byte(events), &inst.WebhookEvents); err != nil {
		return model.Instance{}, fmt.Errorf("sqlite: webhook_events inválido para %s: %w", inst.ID, err)
	}
	if inst.WebhookEvents == nil {
		inst.WebhookEvents = []string{}
	}
	inst.State = model.InstanceStateDisconnected
	inst.WebhookEnabled = inst.WebhookURL != ""
	inst.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	inst.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return inst, nil
}

func encodeEvents(events []string) (string, error) {
	if events == nil {
		events = []string{}
	}
	b, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("sqlite: codificar webhook_events: %w", err)
	}
	return string(b), nil
}

func nullIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
