package postgres

/*
Файл workflow_repo.go хранит экземпляры согласования в PostgreSQL.
Живое состояние лежит в workflow_instances (маршрут и шаги в jsonb),
журнал в workflow_history, по строке на событие. Переход пишется одной
транзакцией: UPDATE ... WHERE version = ожидаемая плюс INSERT события.
Так второй реплике сервиса с той же ожидаемой версией достанется 0 строк
и ErrStaleTransition.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/procurement-approvals/internal/domain"
)

type WorkflowRepo struct {
	pool *pgxpool.Pool
}

func NewWorkflowRepo(pool *pgxpool.Pool) *WorkflowRepo {
	return &WorkflowRepo{pool: pool}
}

// NewPool открывает пул соединений и проверяет доступность базы.
func NewPool(ctx context.Context, url string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}
	return pool, nil
}

func (r *WorkflowRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// inTx выполняет fn в транзакции: commit при nil, иначе rollback.
func (r *WorkflowRepo) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: failed to commit: %w", err)
	}
	return nil
}

const selectInstance = `
	SELECT document_id, document_type, status, current_step_index, origin_step,
	       definition, steps, version, created_by, created_at, updated_at
	FROM workflow_instances
	WHERE document_id = $1`

// Get читает экземпляр вместе с историей в одной транзакции (согласованный снимок).
func (r *WorkflowRepo) Get(ctx context.Context, documentID string) (*domain.WorkflowInstance, error) {
	var inst *domain.WorkflowInstance
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		if inst, err = scanInstance(tx.QueryRow(ctx, selectInstance, documentID)); err != nil {
			return err
		}
		inst.History, err = queryHistory(ctx, tx, documentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func (r *WorkflowRepo) History(ctx context.Context, documentID string) ([]domain.HistoryEvent, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM workflow_instances WHERE document_id = $1)`, documentID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("postgres: failed to check workflow: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, documentID)
	}
	return queryHistory(ctx, r.pool, documentID)
}

// Create вставляет новый экземпляр и его первое событие.
func (r *WorkflowRepo) Create(ctx context.Context, inst *domain.WorkflowInstance, ev domain.HistoryEvent) error {
	definition, steps, err := marshalState(inst)
	if err != nil {
		return err
	}

	return r.inTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO workflow_instances
			    (document_id, document_type, status, current_step_index, origin_step,
			     definition, steps, version, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (document_id) DO NOTHING`

		tag, err := tx.Exec(ctx, query,
			inst.DocumentID, inst.DocumentType, inst.Status, inst.CurrentStepIndex, inst.OriginStep,
			definition, steps, inst.Version, inst.CreatedBy, inst.CreatedAt, inst.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to create workflow: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", domain.ErrAlreadySubmitted, inst.DocumentID)
		}
		return insertEvent(ctx, tx, inst.DocumentID, ev)
	})
}

// Update применяет переход, только если версия в базе равна expectedVersion.
func (r *WorkflowRepo) Update(ctx context.Context, inst *domain.WorkflowInstance, expectedVersion int64, ev domain.HistoryEvent) error {
	definition, steps, err := marshalState(inst)
	if err != nil {
		return err
	}

	return r.inTx(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE workflow_instances
			SET status = $3,
			    current_step_index = $4,
			    origin_step = $5,
			    definition = $6,
			    steps = $7,
			    version = $8,
			    updated_at = $9
			WHERE document_id = $1 AND version = $2
			RETURNING version`

		var stored int64
		err := tx.QueryRow(ctx, query,
			inst.DocumentID, expectedVersion,
			inst.Status, inst.CurrentStepIndex, inst.OriginStep,
			definition, steps, inst.Version, inst.UpdatedAt,
		).Scan(&stored)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Либо документа нет, либо версию уже сдвинул другой писатель
				return r.classifyMiss(ctx, tx, inst.DocumentID, expectedVersion)
			}
			return fmt.Errorf("postgres: failed to update workflow: %w", err)
		}
		return insertEvent(ctx, tx, inst.DocumentID, ev)
	})
}

func (r *WorkflowRepo) classifyMiss(ctx context.Context, tx pgx.Tx, documentID string, expected int64) error {
	var current int64
	err := tx.QueryRow(ctx, `SELECT version FROM workflow_instances WHERE document_id = $1`, documentID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, documentID)
	}
	if err != nil {
		return fmt.Errorf("postgres: failed to read workflow version: %w", err)
	}
	return fmt.Errorf("%w: expected %d, stored %d", domain.ErrStaleTransition, expected, current)
}

func marshalState(inst *domain.WorkflowInstance) ([]byte, []byte, error) {
	definition, err := json.Marshal(inst.Definition)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: failed to encode definition: %w", err)
	}
	steps, err := json.Marshal(inst.Steps)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: failed to encode steps: %w", err)
	}
	return definition, steps, nil
}

func scanInstance(row pgx.Row) (*domain.WorkflowInstance, error) {
	var inst domain.WorkflowInstance
	var definition, steps []byte

	err := row.Scan(
		&inst.DocumentID, &inst.DocumentType, &inst.Status, &inst.CurrentStepIndex, &inst.OriginStep,
		&definition, &steps, &inst.Version, &inst.CreatedBy, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to scan workflow: %w", err)
	}

	if err := json.Unmarshal(definition, &inst.Definition); err != nil {
		return nil, fmt.Errorf("postgres: failed to decode definition: %w", err)
	}
	if err := json.Unmarshal(steps, &inst.Steps); err != nil {
		return nil, fmt.Errorf("postgres: failed to decode steps: %w", err)
	}
	return &inst, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryHistory(ctx context.Context, q querier, documentID string) ([]domain.HistoryEvent, error) {
	query := `
		SELECT id, type, action, step_index, actor_role, actor_name, occurred_at,
		       comments, flags, revision_areas, attachments, version
		FROM workflow_history
		WHERE document_id = $1
		ORDER BY version ASC`

	rows, err := q.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query history: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	events := make([]domain.HistoryEvent, 0)
	for rows.Next() {
		var ev domain.HistoryEvent
		var flags, areas, attachments []byte
		if err := rows.Scan(
			&ev.ID, &ev.Type, &ev.Action, &ev.StepIndex, &ev.ActorRole, &ev.ActorName, &ev.OccurredAt,
			&ev.Comments, &flags, &areas, &attachments, &ev.Version,
		); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan history event: %w", err)
		}
		if err := decodeOptional(flags, &ev.Flags); err != nil {
			return nil, err
		}
		if err := decodeOptional(areas, &ev.RevisionAreas); err != nil {
			return nil, err
		}
		if err := decodeOptional(attachments, &ev.Attachments); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: history rows: %w", err)
	}
	return events, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, documentID string, ev domain.HistoryEvent) error {
	flags, err := encodeOptional(len(ev.Flags) > 0, ev.Flags)
	if err != nil {
		return err
	}
	areas, err := encodeOptional(len(ev.RevisionAreas) > 0, ev.RevisionAreas)
	if err != nil {
		return err
	}
	attachments, err := encodeOptional(len(ev.Attachments) > 0, ev.Attachments)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_history
		    (id, document_id, type, action, step_index, actor_role, actor_name,
		     occurred_at, comments, flags, revision_areas, attachments, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = tx.Exec(ctx, query,
		ev.ID, documentID, ev.Type, ev.Action, ev.StepIndex, ev.ActorRole, ev.ActorName,
		ev.OccurredAt, ev.Comments, flags, areas, attachments, ev.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to append history event: %w", err)
	}
	return nil
}

func encodeOptional(present bool, v any) ([]byte, error) {
	if !present {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to encode event payload: %w", err)
	}
	return b, nil
}

func decodeOptional(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("postgres: failed to decode event payload: %w", err)
	}
	return nil
}
