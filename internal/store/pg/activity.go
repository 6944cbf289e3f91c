package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"parkrow.org/internal/auth"
)

type activityStore struct {
	db *sql.DB
}

func (s *activityStore) Append(ctx context.Context, rec *auth.ActivityRecord) error {
	var detail []byte
	if len(rec.Detail) > 0 {
		raw, err := json.Marshal(rec.Detail)
		if err != nil {
			return fmt.Errorf("marshal detail: %w", err)
		}
		detail = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into activity_log (id, principal_id, action, target_type, target_id, detail, ip_address, user_agent, created_at)
		values ($1, $2, $3, nullif($4, ''), nullif($5, ''), $6, nullif($7, ''), nullif($8, ''), $9)
	`, rec.ID, rec.PrincipalID, rec.Action, rec.TargetType, rec.TargetID, detail, rec.IPAddress, rec.UserAgent, rec.CreatedAt)
	return mapErr(err)
}

// List builds the WHERE clause dynamically from the filter so unset fields
// stay out of the query plan.
func (s *activityStore) List(ctx context.Context, filter auth.ActivityFilter) ([]auth.ActivityRecord, error) {
	var (
		where []string
		args  []any
		idx   = 1
	)
	if filter.PrincipalID != "" {
		where = append(where, fmt.Sprintf("principal_id = $%d", idx))
		args = append(args, filter.PrincipalID)
		idx++
	}
	if filter.Action != "" {
		where = append(where, fmt.Sprintf("action = $%d", idx))
		args = append(args, filter.Action)
		idx++
	}
	if !filter.From.IsZero() {
		where = append(where, fmt.Sprintf("created_at >= $%d", idx))
		args = append(args, filter.From)
		idx++
	}
	if !filter.To.IsZero() {
		where = append(where, fmt.Sprintf("created_at <= $%d", idx))
		args = append(args, filter.To)
		idx++
	}

	query := `
		select id, principal_id, action, coalesce(target_type, ''), coalesce(target_id, ''),
			detail, coalesce(ip_address, ''), coalesce(user_agent, ''), created_at
		from activity_log`
	if len(where) > 0 {
		query += "\n\t\twhere " + strings.Join(where, " and ")
	}
	query += fmt.Sprintf("\n\t\torder by created_at desc\n\t\tlimit $%d", idx)
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var result []auth.ActivityRecord
	for rows.Next() {
		var (
			rec    auth.ActivityRecord
			detail []byte
		)
		if err := rows.Scan(&rec.ID, &rec.PrincipalID, &rec.Action, &rec.TargetType, &rec.TargetID,
			&detail, &rec.IPAddress, &rec.UserAgent, &rec.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &rec.Detail); err != nil {
				return nil, fmt.Errorf("decode detail: %w", err)
			}
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return result, nil
}

func (s *activityStore) CountByAction(ctx context.Context, from, to time.Time) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		select action, count(*)
		from activity_log
		where created_at >= $1 and created_at <= $2
		group by action
	`, from, to)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			action string
			n      int64
		)
		if err := rows.Scan(&action, &n); err != nil {
			return nil, mapErr(err)
		}
		counts[action] = n
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return counts, nil
}

func (s *activityStore) TopActors(ctx context.Context, from, to time.Time, limit int) ([]auth.ActorCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		select principal_id, count(*) as n
		from activity_log
		where created_at >= $1 and created_at <= $2
		group by principal_id
		order by n desc, principal_id
		limit $3
	`, from, to, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var result []auth.ActorCount
	for rows.Next() {
		var ac auth.ActorCount
		if err := rows.Scan(&ac.PrincipalID, &ac.Count); err != nil {
			return nil, mapErr(err)
		}
		result = append(result, ac)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return result, nil
}
