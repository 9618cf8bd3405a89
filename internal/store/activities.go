package store

import (
	"database/sql"
	"fmt"

	"github.com/planfleet/planfleet/pkg/models"
)

// AppendActivity adds an entry to a plan's timeline and fills in its ID.
func (db *DB) AppendActivity(a *models.Activity) error {
	result, err := db.Exec(`
		INSERT INTO activities (plan_id, kind, message, task_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.PlanID, string(a.Kind), a.Message, a.TaskID, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get activity id: %w", err)
	}
	a.ID = id
	return nil
}

// ListActivities returns the most recent entries for a plan, oldest first.
// A limit of 0 returns everything.
func (db *DB) ListActivities(planID string, limit int) ([]*models.Activity, error) {
	query := `
		SELECT id, plan_id, kind, message, task_id, created_at
		FROM activities WHERE plan_id = ? ORDER BY id DESC
	`
	args := []any{planID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	var activities []*models.Activity
	for rows.Next() {
		var a models.Activity
		var kind, createdAt string
		var taskID sql.NullString
		if err := rows.Scan(&a.ID, &a.PlanID, &kind, &a.Message, &taskID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Kind = models.ActivityKind(kind)
		a.TaskID = taskID.String
		if t, err := parseTime(createdAt); err == nil {
			a.CreatedAt = t
		}
		activities = append(activities, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to oldest-first for timeline display.
	for i, j := 0, len(activities)-1; i < j; i, j = i+1, j-1 {
		activities[i], activities[j] = activities[j], activities[i]
	}
	return activities, nil
}
