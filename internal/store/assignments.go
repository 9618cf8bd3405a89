package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/planfleet/planfleet/pkg/models"
)

// CreateAssignment records the dispatch commit point for a task. The
// (plan_id, bead_id) primary key makes duplicate dispatch attempts fail
// with ErrAlreadyAssigned instead of creating a second assignment.
func (db *DB) CreateAssignment(a *models.TaskAssignment) error {
	_, err := db.Exec(`
		INSERT INTO assignments (bead_id, plan_id, agent_id, status, assigned_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.BeadID, a.PlanID, a.AgentID, string(a.Status), formatTime(a.AssignedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") ||
			strings.Contains(err.Error(), "PRIMARY KEY constraint") {
			return ErrAlreadyAssigned
		}
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

// GetAssignment returns the assignment for a task under a plan, or nil.
func (db *DB) GetAssignment(planID, beadID string) (*models.TaskAssignment, error) {
	row := db.QueryRow(`
		SELECT bead_id, plan_id, agent_id, status, assigned_at, completed_at
		FROM assignments WHERE plan_id = ? AND bead_id = ?
	`, planID, beadID)

	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ListAssignments returns all assignments for a plan.
func (db *DB) ListAssignments(planID string) ([]*models.TaskAssignment, error) {
	rows, err := db.Query(`
		SELECT bead_id, plan_id, agent_id, status, assigned_at, completed_at
		FROM assignments WHERE plan_id = ? ORDER BY assigned_at
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*models.TaskAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// scanAssignment reads one assignment row.
func scanAssignment(row rowScanner) (*models.TaskAssignment, error) {
	var a models.TaskAssignment
	var status, assignedAt string
	var completedAt sql.NullString

	err := row.Scan(&a.BeadID, &a.PlanID, &a.AgentID, &status, &assignedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan assignment: %w", err)
	}

	a.Status = models.AssignmentStatus(status)
	if t, err := parseTime(assignedAt); err == nil {
		a.AssignedAt = t
	}
	a.CompletedAt = parseNullableTime(completedAt)
	return &a, nil
}

// UpdateAssignmentStatus moves an assignment to a new status. Completed
// assignments get a completion timestamp.
func (db *DB) UpdateAssignmentStatus(planID, beadID string, status models.AssignmentStatus) error {
	var completedAt any
	if status == models.AssignmentStatusCompleted {
		completedAt = formatTime(time.Now())
	}
	result, err := db.Exec(`
		UPDATE assignments SET status = ?, completed_at = COALESCE(?, completed_at)
		WHERE plan_id = ? AND bead_id = ?
	`, string(status), completedAt, planID, beadID)
	if err != nil {
		return fmt.Errorf("update assignment status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("assignment %s/%s not found", planID, beadID)
	}
	return nil
}

// DeleteAssignment rolls back a draft assignment after a failed dispatch.
func (db *DB) DeleteAssignment(planID, beadID string) error {
	_, err := db.Exec(`
		DELETE FROM assignments WHERE plan_id = ? AND bead_id = ?
	`, planID, beadID)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	return nil
}
