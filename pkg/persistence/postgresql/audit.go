package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/responder/pkg/audit"
	"github.com/dukex/responder/pkg/models"
)

// AuditRepository stores the audit trail in the audit_entries table. It is both an
// audit.Sink and an audit.Reader.
type AuditRepository struct {
	db     *sql.DB
	logger *slog.Logger
	ownsDB bool
}

var (
	_ audit.Sink   = (*AuditRepository)(nil)
	_ audit.Reader = (*AuditRepository)(nil)
)

func NewAuditRepository(db *sql.DB, logger *slog.Logger) *AuditRepository {
	return &AuditRepository{db: db, logger: logger}
}

// NewAuditSink opens its own connection. Close releases it.
func NewAuditSink(ctx context.Context, logger *slog.Logger, databaseURL string) (*AuditRepository, error) {
	logger = logger.With("module", "postgresql_audit")

	database, err := Open(ctx, logger, databaseURL)
	if err != nil {
		return nil, err
	}

	return &AuditRepository{db: database, logger: logger, ownsDB: true}, nil
}

func (r *AuditRepository) Write(ctx context.Context, entry models.AuditEntry) error {
	input, err := jsonColumn(entry.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}

	output, err := jsonColumn(entry.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	var metadata any
	if len(entry.Metadata) > 0 {
		metadata, err = jsonColumn(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	var confidence sql.NullFloat64
	if entry.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *entry.Confidence, Valid: true}
	}

	query := `
		INSERT INTO audit_entries (
			partition_day, timestamp, event_type, actor, action, decision,
			input, output, status, metadata, correlation_id, reasoning, confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.Day(),
		entry.Timestamp.UTC(),
		string(entry.EventType),
		entry.Actor,
		nullString(entry.Action),
		nullString(entry.Decision),
		input,
		output,
		nullString(entry.Status),
		metadata,
		nullString(entry.CorrelationID),
		nullString(entry.Reasoning),
		confidence,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// Entries returns matching entries in insertion order.
func (r *AuditRepository) Entries(ctx context.Context, query audit.Query) ([]models.AuditEntry, error) {
	var (
		conditions []string
		args       []any
	)

	if query.CorrelationID != "" {
		args = append(args, query.CorrelationID)
		conditions = append(conditions, fmt.Sprintf("correlation_id = $%d", len(args)))
	}

	if !query.From.IsZero() {
		args = append(args, query.From.UTC())
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", len(args)))
	}

	if !query.To.IsZero() {
		args = append(args, query.To.UTC())
		conditions = append(conditions, fmt.Sprintf("timestamp <= $%d", len(args)))
	}

	statement := `
		SELECT timestamp, event_type, actor, action, decision, input, output,
			status, metadata, correlation_id, reasoning, confidence
		FROM audit_entries`
	if len(conditions) > 0 {
		statement += " WHERE " + strings.Join(conditions, " AND ")
	}

	statement += " ORDER BY id ASC"

	rows, err := r.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]models.AuditEntry, 0)

	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entries = append(entries, entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// Close releases the connection only when the repository opened it.
func (r *AuditRepository) Close() error {
	if !r.ownsDB {
		return nil
	}

	err := r.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	return nil
}

func scanAuditEntry(row scanner) (models.AuditEntry, error) {
	var (
		entry                                    models.AuditEntry
		eventType                                string
		action, decision, status, corr, reasoning sql.NullString
		input, output, metadata                  []byte
		confidence                               sql.NullFloat64
	)

	err := row.Scan(
		&entry.Timestamp, &eventType, &entry.Actor, &action, &decision,
		&input, &output, &status, &metadata, &corr, &reasoning, &confidence,
	)
	if err != nil {
		return entry, err
	}

	entry.Timestamp = entry.Timestamp.UTC()
	entry.EventType = models.AuditEventType(eventType)
	entry.Action = action.String
	entry.Decision = decision.String
	entry.Status = status.String
	entry.CorrelationID = corr.String
	entry.Reasoning = reasoning.String

	if confidence.Valid {
		c := confidence.Float64
		entry.Confidence = &c
	}

	if len(input) > 0 {
		err = json.Unmarshal(input, &entry.Input)
		if err != nil {
			return entry, fmt.Errorf("failed to unmarshal input: %w", err)
		}
	}

	if len(output) > 0 {
		err = json.Unmarshal(output, &entry.Output)
		if err != nil {
			return entry, fmt.Errorf("failed to unmarshal output: %w", err)
		}
	}

	if len(metadata) > 0 {
		err = json.Unmarshal(metadata, &entry.Metadata)
		if err != nil {
			return entry, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return entry, nil
}

// jsonColumn maps nil to SQL NULL rather than the JSON literal null.
func jsonColumn(value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	return data, nil
}
