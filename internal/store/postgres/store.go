package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"clinicdesk/internal/models"
	"clinicdesk/internal/queue"
	"clinicdesk/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	offsetConsumer = "hub"
	zeroUUID       = "00000000-0000-0000-0000-000000000000"
)

// PgxPool is the subset of pgxpool.Pool the store uses. Tests substitute a
// pgxmock pool.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	return &Store{pool: pool}
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS patient_profiles (
		profile_id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		age INT NOT NULL DEFAULT 0,
		picture_url TEXT NOT NULL DEFAULT '',
		first_visit TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS visits (
		visit_id UUID PRIMARY KEY,
		request_id UUID NOT NULL UNIQUE,
		profile_id UUID,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		age INT NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		order_key DOUBLE PRECISION NOT NULL,
		sent_to_payment_at TIMESTAMPTZ,
		required_amount BIGINT NOT NULL DEFAULT 0,
		amount_paid BIGINT NOT NULL DEFAULT 0,
		services_rendered JSONB,
		custom_line_items JSONB,
		show_details_to_public BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		visit_date DATE NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS clinic_settings (
		singleton INT PRIMARY KEY DEFAULT 1,
		clinic_name TEXT NOT NULL DEFAULT '',
		subtitle TEXT NOT NULL DEFAULT '',
		logo_url TEXT NOT NULL DEFAULT '',
		public_message TEXT NOT NULL DEFAULT '',
		chime_enabled BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		message_id UUID PRIMARY KEY,
		sender_role TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		attachment_url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		event_id UUID PRIMARY KEY,
		type TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS realtime_offsets (
		consumer TEXT PRIMARY KEY,
		last_event_time TIMESTAMPTZ NOT NULL,
		last_event_id UUID NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_visits_status ON visits (status)`,
	`CREATE INDEX IF NOT EXISTS idx_visits_visit_date ON visits (visit_date)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_created ON outbox_events (created_at, event_id)`,
}

func (s *Store) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const visitColumns = `visit_id, request_id, profile_id, name, phone, reason, age, status, order_key,
	sent_to_payment_at, required_amount, amount_paid, services_rendered, custom_line_items,
	show_details_to_public, created_at, visit_date`

func (s *Store) CreateVisit(ctx context.Context, input store.CreateVisitInput) (models.Visit, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Visit{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findVisitByRequestID(ctx, tx, input.RequestID)
	if err != nil {
		return models.Visit{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Visit{}, false, err
		}
		return existing, false, nil
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	profileID, err := findOrCreateProfile(ctx, tx, input, createdAt)
	if err != nil {
		return models.Visit{}, false, err
	}

	visit := models.Visit{
		VisitID:             uuid.NewString(),
		RequestID:           input.RequestID,
		PatientProfileID:    profileID,
		Name:                input.Name,
		Phone:               input.Phone,
		Reason:              input.Reason,
		Age:                 input.Age,
		Status:              models.StatusWaiting,
		OrderKey:            float64(createdAt.UnixMilli()),
		ShowDetailsToPublic: input.ShowDetailsToPublic,
		CreatedAt:           createdAt,
		VisitDate:           createdAt.Format("2006-01-02"),
	}

	var tag pgconn.CommandTag
	tag, err = tx.Exec(ctx, `
		INSERT INTO visits (
			visit_id, request_id, profile_id, name, phone, reason, age, status, order_key,
			show_details_to_public, created_at, visit_date
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (request_id) DO NOTHING
	`, visit.VisitID, visit.RequestID, nullIfEmpty(profileID), visit.Name, visit.Phone, visit.Reason,
		visit.Age, visit.Status, visit.OrderKey, visit.ShowDetailsToPublic, visit.CreatedAt, visit.CreatedAt)
	if err != nil {
		return models.Visit{}, false, err
	}
	if tag.RowsAffected() == 0 {
		// A concurrent replay of the same request won the insert; its row
		// is the canonical one.
		var winner models.Visit
		var won bool
		winner, won, err = findVisitByRequestID(ctx, tx, input.RequestID)
		if err != nil {
			return models.Visit{}, false, err
		}
		if !won {
			err = store.ErrVisitNotFound
			return models.Visit{}, false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return models.Visit{}, false, err
		}
		return winner, false, nil
	}

	if err = insertOutboxEvent(ctx, tx, "visit.created", visit); err != nil {
		return models.Visit{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, false, err
	}
	return visit, true, nil
}

func findOrCreateProfile(ctx context.Context, tx pgx.Tx, input store.CreateVisitInput, now time.Time) (string, error) {
	var profileID string

	if input.Phone != "" {
		err := tx.QueryRow(ctx, `SELECT profile_id FROM patient_profiles WHERE phone = $1 LIMIT 1`, input.Phone).Scan(&profileID)
		if err == nil {
			return profileID, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", err
		}
	}

	err := tx.QueryRow(ctx, `SELECT profile_id FROM patient_profiles WHERE name = $1 LIMIT 1`, input.Name).Scan(&profileID)
	if err == nil {
		return profileID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	profileID = uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO patient_profiles (profile_id, name, phone, age, first_visit)
		VALUES ($1,$2,$3,$4,$5)
	`, profileID, input.Name, input.Phone, input.Age, now)
	if err != nil {
		return "", err
	}
	return profileID, nil
}

func (s *Store) GetVisit(ctx context.Context, visitID string) (models.Visit, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE visit_id = $1`, visitID)
	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Visit{}, false, store.ErrVisitNotFound
		}
		return models.Visit{}, false, err
	}
	return visit, true, nil
}

// SnapshotVisits loads the full current-day record set, the unit the hub
// pushes to clients.
func (s *Store) SnapshotVisits(ctx context.Context) ([]models.Visit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE visit_date = CURRENT_DATE
		ORDER BY order_key ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVisits(rows)
}

func (s *Store) ApplyTransition(ctx context.Context, input store.TransitionInput) (models.Visit, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Visit{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	visit, err := lockVisit(ctx, tx, input.VisitID)
	if err != nil {
		return models.Visit{}, err
	}

	occupant, occupied, err := lockInProgress(ctx, tx, input.VisitID)
	if err != nil {
		return models.Visit{}, err
	}

	// Evict-then-promote inside one transaction: the client-side pre-check
	// from the display sessions still applies, this closes the race between
	// two sessions promoting different visits at once.
	if input.Action == queue.ActionStart && occupied {
		if input.EvictAction != queue.ActionFinish && input.EvictAction != queue.ActionReinstate {
			err = queue.ErrInProgressBusy
			return models.Visit{}, err
		}
		evictMut, evictErr := queue.Apply(occupant, nil, queue.TransitionInput{Action: input.EvictAction, OccurredAt: input.OccurredAt})
		if evictErr != nil {
			err = evictErr
			return models.Visit{}, err
		}
		if err = applyMutation(ctx, tx, &occupant, evictMut); err != nil {
			return models.Visit{}, err
		}
		if err = insertOutboxEvent(ctx, tx, "visit.updated", occupant); err != nil {
			return models.Visit{}, err
		}
		occupied = false
	}

	var others []models.Visit
	if occupied {
		others = append(others, occupant)
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	mut, err := queue.Apply(visit, others, queue.TransitionInput{
		Action:           input.Action,
		OccurredAt:       occurredAt,
		RequiredAmount:   input.RequiredAmount,
		ServicesRendered: input.ServicesRendered,
		CustomLineItems:  input.CustomLineItems,
		AmountPaid:       input.AmountPaid,
	})
	if err != nil {
		return models.Visit{}, err
	}

	if err = applyMutation(ctx, tx, &visit, mut); err != nil {
		return models.Visit{}, err
	}
	if err = insertOutboxEvent(ctx, tx, "visit.updated", visit); err != nil {
		return models.Visit{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, err
	}
	return visit, nil
}

func (s *Store) ReorderVisit(ctx context.Context, input store.ReorderInput) (models.Visit, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Visit{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	moved, err := lockVisit(ctx, tx, input.VisitID)
	if err != nil {
		return models.Visit{}, false, err
	}
	target, err := lockVisit(ctx, tx, input.TargetVisitID)
	if err != nil {
		return models.Visit{}, false, err
	}

	rows, err := tx.Query(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE status = $1 AND visit_date = CURRENT_DATE
		ORDER BY order_key ASC
	`, models.StatusWaiting)
	if err != nil {
		return models.Visit{}, false, err
	}
	waiting, err := scanVisits(rows)
	if err != nil {
		return models.Visit{}, false, err
	}

	key, changed, err := queue.NewOrderKey(moved, target, waiting)
	if err != nil {
		return models.Visit{}, false, err
	}
	if !changed {
		if err = tx.Commit(ctx); err != nil {
			return models.Visit{}, false, err
		}
		return moved, false, nil
	}

	if _, err = tx.Exec(ctx, `UPDATE visits SET order_key = $1 WHERE visit_id = $2`, key, moved.VisitID); err != nil {
		return models.Visit{}, false, err
	}
	moved.OrderKey = key

	if err = insertOutboxEvent(ctx, tx, "visit.reordered", moved); err != nil {
		return models.Visit{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, false, err
	}
	return moved, true, nil
}

func (s *Store) UpdateVisitDetails(ctx context.Context, input store.UpdateVisitInput) (models.Visit, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Visit{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	visit, err := lockVisit(ctx, tx, input.VisitID)
	if err != nil {
		return models.Visit{}, err
	}

	if input.Name != nil {
		visit.Name = *input.Name
	}
	if input.Phone != nil {
		visit.Phone = *input.Phone
	}
	if input.Reason != nil {
		visit.Reason = *input.Reason
	}
	if input.Age != nil {
		visit.Age = *input.Age
	}
	if input.ShowDetailsToPublic != nil {
		visit.ShowDetailsToPublic = *input.ShowDetailsToPublic
	}

	_, err = tx.Exec(ctx, `
		UPDATE visits SET name = $1, phone = $2, reason = $3, age = $4, show_details_to_public = $5
		WHERE visit_id = $6
	`, visit.Name, visit.Phone, visit.Reason, visit.Age, visit.ShowDetailsToPublic, visit.VisitID)
	if err != nil {
		return models.Visit{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "visit.updated", visit); err != nil {
		return models.Visit{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, err
	}
	return visit, nil
}

// DeleteVisit removes a record permanently. Distinct from archiving: only
// non-terminal visits may be destroyed.
func (s *Store) DeleteVisit(ctx context.Context, visitID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	visit, err := lockVisit(ctx, tx, visitID)
	if err != nil {
		return err
	}
	if models.Terminal(visit.Status) {
		err = store.ErrTerminalVisit
		return err
	}

	if _, err = tx.Exec(ctx, `DELETE FROM visits WHERE visit_id = $1`, visitID); err != nil {
		return err
	}
	if err = insertOutboxEvent(ctx, tx, "visit.deleted", visit); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) RangeStats(ctx context.Context, from, to time.Time) ([]store.DayStat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT visit_date::TEXT,
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'done'),
			COALESCE(SUM(required_amount), 0),
			COALESCE(SUM(amount_paid), 0)
		FROM visits
		WHERE visit_date >= $1::DATE AND visit_date <= $2::DATE
		GROUP BY visit_date
		ORDER BY visit_date ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []store.DayStat
	for rows.Next() {
		var stat store.DayStat
		if err := rows.Scan(&stat.Date, &stat.VisitCount, &stat.CompletedCount, &stat.TotalRequired, &stat.TotalPaid); err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Store) GetSettings(ctx context.Context) (models.ClinicSettings, error) {
	var settings models.ClinicSettings
	row := s.pool.QueryRow(ctx, `
		SELECT clinic_name, subtitle, logo_url, public_message, chime_enabled
		FROM clinic_settings WHERE singleton = 1
	`)
	if err := row.Scan(&settings.ClinicName, &settings.Subtitle, &settings.LogoURL, &settings.PublicMessage, &settings.ChimeEnabled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ClinicSettings{ChimeEnabled: true}, nil
		}
		return models.ClinicSettings{}, err
	}
	return settings, nil
}

func (s *Store) UpdateSettings(ctx context.Context, settings models.ClinicSettings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clinic_settings (singleton, clinic_name, subtitle, logo_url, public_message, chime_enabled)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (singleton) DO UPDATE SET
			clinic_name = EXCLUDED.clinic_name,
			subtitle = EXCLUDED.subtitle,
			logo_url = EXCLUDED.logo_url,
			public_message = EXCLUDED.public_message,
			chime_enabled = EXCLUDED.chime_enabled
	`, settings.ClinicName, settings.Subtitle, settings.LogoURL, settings.PublicMessage, settings.ChimeEnabled)
	return err
}

func (s *Store) AppendChatMessage(ctx context.Context, input store.ChatInput) (models.ChatMessage, error) {
	message := models.ChatMessage{
		MessageID:     uuid.NewString(),
		SenderRole:    input.SenderRole,
		Body:          input.Body,
		AttachmentURL: input.AttachmentURL,
		CreatedAt:     input.CreatedAt,
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_messages (message_id, sender_role, body, attachment_url, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, message.MessageID, message.SenderRole, message.Body, message.AttachmentURL, message.CreatedAt)
	if err != nil {
		return models.ChatMessage{}, err
	}
	return message, nil
}

func (s *Store) ListChatMessages(ctx context.Context, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, sender_role, body, attachment_url, created_at
		FROM chat_messages
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		if err := rows.Scan(&msg.MessageID, &msg.SenderRole, &msg.Body, &msg.AttachmentURL, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, offset store.Offset, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset.LastEventID == "" {
		offset.LastEventID = zeroUUID
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, type, payload, created_at
		FROM outbox_events
		WHERE (created_at, event_id) > ($1, $2)
		ORDER BY created_at ASC, event_id ASC
		LIMIT $3
	`, offset.LastEventTime, offset.LastEventID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetOffset(ctx context.Context) (store.Offset, error) {
	var offset store.Offset
	row := s.pool.QueryRow(ctx, `
		SELECT last_event_time, last_event_id FROM realtime_offsets WHERE consumer = $1
	`, offsetConsumer)
	if err := row.Scan(&offset.LastEventTime, &offset.LastEventID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Offset{}, nil
		}
		return store.Offset{}, err
	}
	return offset, nil
}

func (s *Store) UpdateOffset(ctx context.Context, offset store.Offset) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO realtime_offsets (consumer, last_event_time, last_event_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer) DO UPDATE SET
			last_event_time = EXCLUDED.last_event_time,
			last_event_id = EXCLUDED.last_event_id
	`, offsetConsumer, offset.LastEventTime, offset.LastEventID)
	return err
}

func lockVisit(ctx context.Context, tx pgx.Tx, visitID string) (models.Visit, error) {
	row := tx.QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE visit_id = $1 FOR UPDATE`, visitID)
	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Visit{}, store.ErrVisitNotFound
		}
		return models.Visit{}, err
	}
	return visit, nil
}

func lockInProgress(ctx context.Context, tx pgx.Tx, excludeID string) (models.Visit, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+visitColumns+` FROM visits
		WHERE status = $1 AND visit_id <> $2
		LIMIT 1 FOR UPDATE
	`, models.StatusInProgress, excludeID)
	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Visit{}, false, nil
		}
		return models.Visit{}, false, err
	}
	return visit, true, nil
}

func findVisitByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Visit, bool, error) {
	row := tx.QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE request_id = $1`, requestID)
	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Visit{}, false, nil
		}
		return models.Visit{}, false, err
	}
	return visit, true, nil
}

func applyMutation(ctx context.Context, tx pgx.Tx, visit *models.Visit, mut queue.Mutation) error {
	visit.Status = mut.Status
	if mut.SentToPaymentAt != nil {
		visit.SentToPaymentAt = mut.SentToPaymentAt
	}
	if mut.RequiredAmount != nil {
		visit.RequiredAmount = *mut.RequiredAmount
	}
	if mut.AmountPaid != nil {
		visit.AmountPaid = *mut.AmountPaid
	}
	if mut.ServicesRendered != nil {
		visit.ServicesRendered = mut.ServicesRendered
	}
	if mut.CustomLineItems != nil {
		visit.CustomLineItems = mut.CustomLineItems
	}

	services, err := json.Marshal(visit.ServicesRendered)
	if err != nil {
		return err
	}
	lineItems, err := json.Marshal(visit.CustomLineItems)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE visits SET status = $1, sent_to_payment_at = $2, required_amount = $3,
			amount_paid = $4, services_rendered = $5, custom_line_items = $6
		WHERE visit_id = $7
	`, visit.Status, visit.SentToPaymentAt, visit.RequiredAmount, visit.AmountPaid,
		services, lineItems, visit.VisitID)
	return err
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, visit models.Visit) error {
	payload, err := json.Marshal(visit)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), eventType, payload, time.Now().UTC())
	return err
}

func scanVisit(row pgx.Row) (models.Visit, error) {
	var visit models.Visit
	var profileIDNull sql.NullString
	var sentToPaymentNull sql.NullTime
	var servicesRaw, lineItemsRaw []byte
	var visitDate time.Time

	err := row.Scan(&visit.VisitID, &visit.RequestID, &profileIDNull, &visit.Name, &visit.Phone,
		&visit.Reason, &visit.Age, &visit.Status, &visit.OrderKey, &sentToPaymentNull,
		&visit.RequiredAmount, &visit.AmountPaid, &servicesRaw, &lineItemsRaw,
		&visit.ShowDetailsToPublic, &visit.CreatedAt, &visitDate)
	if err != nil {
		return models.Visit{}, err
	}

	if profileIDNull.Valid {
		visit.PatientProfileID = profileIDNull.String
	}
	if sentToPaymentNull.Valid {
		at := sentToPaymentNull.Time
		visit.SentToPaymentAt = &at
	}
	if len(servicesRaw) > 0 {
		if err := json.Unmarshal(servicesRaw, &visit.ServicesRendered); err != nil {
			return models.Visit{}, err
		}
	}
	if len(lineItemsRaw) > 0 {
		if err := json.Unmarshal(lineItemsRaw, &visit.CustomLineItems); err != nil {
			return models.Visit{}, err
		}
	}
	visit.VisitDate = visitDate.Format("2006-01-02")
	return visit, nil
}

func scanVisits(rows pgx.Rows) ([]models.Visit, error) {
	defer rows.Close()
	var visits []models.Visit
	for rows.Next() {
		visit, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, visit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return visits, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
