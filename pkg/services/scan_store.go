// Package services holds the controller's domain services and error
// taxonomy. ScanStore is the durable scan registry on PostgreSQL.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aegis-scan/aegis/pkg/models"
)

const scanColumns = `id, target_type, target_name, status, started_at, completed_at,
	total_probes, passed, failed, pass_rate, error_message,
	report_path, html_report_path, report_key, html_report_key,
	probe_stats_json, config_json, created_at`

// ScanStore persists ScanRecords in the scans table.
type ScanStore struct {
	db *sql.DB
}

// NewScanStore creates a store on an open connection pool.
func NewScanStore(db *sql.DB) *ScanStore {
	return &ScanStore{db: db}
}

// Upsert writes the record, replacing any existing row for the scan id.
func (s *ScanStore) Upsert(ctx context.Context, r *models.ScanRecord) error {
	configJSON, err := marshalNullable(r.Config)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	statsJSON, err := marshalNullable(r.ProbeStats)
	if err != nil {
		return fmt.Errorf("encoding probe stats: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scans (`+scanColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (id) DO UPDATE SET
			target_type = EXCLUDED.target_type,
			target_name = EXCLUDED.target_name,
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			total_probes = EXCLUDED.total_probes,
			passed = EXCLUDED.passed,
			failed = EXCLUDED.failed,
			pass_rate = EXCLUDED.pass_rate,
			error_message = EXCLUDED.error_message,
			report_path = EXCLUDED.report_path,
			html_report_path = EXCLUDED.html_report_path,
			report_key = COALESCE(EXCLUDED.report_key, scans.report_key),
			html_report_key = COALESCE(EXCLUDED.html_report_key, scans.html_report_key),
			probe_stats_json = COALESCE(scans.probe_stats_json, EXCLUDED.probe_stats_json),
			config_json = EXCLUDED.config_json`,
		r.ScanID, r.TargetType, r.TargetName, string(r.Status),
		r.StartedAt, r.CompletedAt,
		r.TotalProbes, r.Passed, r.Failed, r.PassRate(),
		nullString(r.ErrorMessage),
		nullString(r.JSONLReportPath), nullString(r.HTMLReportPath),
		nullString(r.ReportKey), nullString(r.HTMLReportKey),
		statsJSON, configJSON, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting scan %s: %w", r.ScanID, err)
	}
	return nil
}

// Get loads one scan. Returns ErrNotFound for unknown ids.
func (s *ScanStore) Get(ctx context.Context, scanID string) (*models.ScanRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scanColumns+` FROM scans WHERE id = $1`, scanID)
	r, err := scanRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading scan %s: %w", scanID, err)
	}
	return r, nil
}

// Delete removes the row. Returns ErrNotFound when nothing was deleted.
func (s *ScanStore) Delete(ctx context.Context, scanID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE id = $1`, scanID)
	if err != nil {
		return fmt.Errorf("deleting scan %s: %w", scanID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAll loads every record, newest started first.
func (s *ScanStore) ListAll(ctx context.Context) ([]*models.ScanRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scanColumns+` FROM scans ORDER BY started_at DESC NULLS LAST`)
	if err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}
	defer rows.Close()

	records := []*models.ScanRecord{}
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// historySortColumns maps sort_by values to SQL expressions.
var historySortColumns = map[string]string{
	"started_at":   "started_at",
	"completed_at": "completed_at",
	"status":       "status",
	"target_name":  "target_name",
	"pass_rate":    "pass_rate",
}

// List returns one page of scan history plus the unpaginated total.
// Filters and sorting happen in SQL so the page size bound holds
// regardless of table size.
func (s *ScanStore) List(ctx context.Context, f models.HistoryFilter) ([]models.HistoryItem, int, error) {
	where := []string{}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Statuses) > 0 {
		ph := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			ph = append(ph, arg(st))
		}
		where = append(where, "status IN ("+strings.Join(ph, ",")+")")
	}
	if f.Target != "" {
		where = append(where, "target_name = "+arg(f.Target))
	}
	if f.Search != "" {
		p := arg("%" + f.Search + "%")
		where = append(where, "(target_name ILIKE "+p+" OR id ILIKE "+p+")")
	}
	if f.StartDate != "" {
		where = append(where, "started_at >= "+arg(f.StartDate))
	}
	if f.EndDate != "" {
		where = append(where, "started_at <= "+arg(f.EndDate))
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT count(*) FROM scans"+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting scans: %w", err)
	}

	sortCol, ok := historySortColumns[f.SortBy]
	if !ok {
		sortCol = "started_at"
	}
	order := "DESC"
	if strings.EqualFold(f.SortOrder, "asc") {
		order = "ASC"
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	pageSize := f.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	query := fmt.Sprintf(`SELECT id, target_type, target_name, status, started_at,
			completed_at, total_probes, passed, failed, pass_rate, error_message
		FROM scans%s ORDER BY %s %s NULLS LAST LIMIT %s OFFSET %s`,
		whereSQL, sortCol, order, arg(pageSize), arg((page-1)*pageSize))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing scan history: %w", err)
	}
	defer rows.Close()

	items := []models.HistoryItem{}
	for rows.Next() {
		var (
			it           models.HistoryItem
			status       string
			startedAt    sql.NullTime
			completedAt  sql.NullTime
			errorMessage sql.NullString
		)
		if err := rows.Scan(&it.ScanID, &it.TargetType, &it.TargetName, &status,
			&startedAt, &completedAt, &it.TotalProbes, &it.Passed, &it.Failed,
			&it.PassRate, &errorMessage); err != nil {
			return nil, 0, fmt.Errorf("scanning history row: %w", err)
		}
		it.Status = models.ScanStatus(status)
		it.StartedAt = formatNullTime(startedAt)
		it.CompletedAt = formatNullTime(completedAt)
		it.ErrorMessage = errorMessage.String
		items = append(items, it)
	}
	return items, total, rows.Err()
}

// GetProbeStats returns the materialized per-category stats, or nil when
// they have not been computed yet.
func (s *ScanStore) GetProbeStats(ctx context.Context, scanID string) (map[string]models.ProbeTally, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT probe_stats_json FROM scans WHERE id = $1`, scanID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading probe stats for %s: %w", scanID, err)
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	stats := map[string]models.ProbeTally{}
	if err := json.Unmarshal([]byte(raw.String), &stats); err != nil {
		return nil, fmt.Errorf("decoding probe stats for %s: %w", scanID, err)
	}
	return stats, nil
}

// SetProbeStats materializes computed stats. Write-once: an existing value
// is never overwritten.
func (s *ScanStore) SetProbeStats(ctx context.Context, scanID string, stats map[string]models.ProbeTally) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding probe stats: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE scans SET probe_stats_json = $2 WHERE id = $1 AND probe_stats_json IS NULL`,
		scanID, string(data))
	if err != nil {
		return fmt.Errorf("materializing probe stats for %s: %w", scanID, err)
	}
	return nil
}

// SetReportKeys records blob store keys after upload. Empty keys are kept
// as-is so a later partial upload cannot erase an earlier one.
func (s *ScanStore) SetReportKeys(ctx context.Context, scanID, jsonlKey, htmlKey string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scans SET
			report_key = COALESCE($2, report_key),
			html_report_key = COALESCE($3, html_report_key)
		WHERE id = $1`,
		scanID, nullString(jsonlKey), nullString(htmlKey))
	if err != nil {
		return fmt.Errorf("updating report keys for %s: %w", scanID, err)
	}
	return nil
}

// GetMeta reads a db_meta marker, "" when absent.
func (s *ScanStore) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM db_meta WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta writes a db_meta marker.
func (s *ScanStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO db_meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("writing meta %s: %w", key, err)
	}
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (*models.ScanRecord, error) {
	var (
		r            models.ScanRecord
		status       string
		startedAt    sql.NullTime
		completedAt  sql.NullTime
		errorMessage sql.NullString
		reportPath   sql.NullString
		htmlPath     sql.NullString
		reportKey    sql.NullString
		htmlKey      sql.NullString
		statsJSON    sql.NullString
		configJSON   sql.NullString
		passRate     float64
	)
	err := row.Scan(&r.ScanID, &r.TargetType, &r.TargetName, &status,
		&startedAt, &completedAt, &r.TotalProbes, &r.Passed, &r.Failed,
		&passRate, &errorMessage, &reportPath, &htmlPath, &reportKey,
		&htmlKey, &statsJSON, &configJSON, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.Status = models.ScanStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		r.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	r.ErrorMessage = errorMessage.String
	r.JSONLReportPath = reportPath.String
	r.HTMLReportPath = htmlPath.String
	r.ReportKey = reportKey.String
	r.HTMLReportKey = htmlKey.String

	if statsJSON.Valid && statsJSON.String != "" {
		stats := map[string]models.ProbeTally{}
		if err := json.Unmarshal([]byte(statsJSON.String), &stats); err == nil {
			r.ProbeStats = stats
		}
	}
	if configJSON.Valid && configJSON.String != "" {
		cfg := &models.ScanConfig{}
		if err := json.Unmarshal([]byte(configJSON.String), cfg); err == nil {
			r.Config = cfg
		}
	}
	if r.Status.IsTerminal() && r.Progress == 0 && r.Status == models.StatusCompleted {
		r.Progress = 100.0
	}
	return &r, nil
}

func marshalNullable(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	switch t := v.(type) {
	case *models.ScanConfig:
		if t == nil {
			return sql.NullString{}, nil
		}
	case map[string]models.ProbeTally:
		if t == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatNullTime(t sql.NullTime) *string {
	if !t.Valid {
		return nil
	}
	s := t.Time.Format(time.RFC3339)
	return &s
}
