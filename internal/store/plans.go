package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/planfleet/planfleet/pkg/models"
)

// SavePlan upserts a plan and its worktrees in one transaction.
func (db *DB) SavePlan(plan *models.Plan) error {
	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO plans (id, title, description, discussion, status,
				reference_agent_id, max_parallel_agents, branch_strategy,
				team_mode, feature_branch, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				description = excluded.description,
				discussion = excluded.discussion,
				status = excluded.status,
				reference_agent_id = excluded.reference_agent_id,
				max_parallel_agents = excluded.max_parallel_agents,
				branch_strategy = excluded.branch_strategy,
				team_mode = excluded.team_mode,
				feature_branch = excluded.feature_branch,
				updated_at = excluded.updated_at
		`, plan.ID, plan.Title, plan.Description, plan.Discussion, string(plan.Status),
			plan.ReferenceAgentID, plan.MaxParallelAgents, string(plan.BranchStrategy),
			string(plan.TeamMode), plan.FeatureBranch,
			formatTime(plan.CreatedAt), formatTime(plan.UpdatedAt))
		if err != nil {
			return fmt.Errorf("save plan: %w", err)
		}

		for _, wt := range plan.Worktrees {
			if err := saveWorktreeTx(tx, wt); err != nil {
				return err
			}
		}
		return nil
	})
}

// saveWorktreeTx upserts one worktree row inside a transaction.
func saveWorktreeTx(tx *sql.Tx, wt *models.PlanWorktree) error {
	blockedBy, err := json.Marshal(wt.BlockedBy)
	if err != nil {
		return fmt.Errorf("marshal blocked_by: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO worktrees (id, plan_id, task_id, repository_id, path, branch,
			base_branch, agent_id, status, blocked_by, critic_status,
			critic_iteration, critic_task_id, total_fixup_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_id = excluded.agent_id,
			status = excluded.status,
			critic_status = excluded.critic_status,
			critic_iteration = excluded.critic_iteration,
			critic_task_id = excluded.critic_task_id,
			total_fixup_count = excluded.total_fixup_count
	`, wt.ID, wt.PlanID, wt.TaskID, wt.RepositoryID, wt.Path, wt.Branch,
		wt.BaseBranch, wt.AgentID, string(wt.Status), string(blockedBy),
		string(wt.CriticStatus), wt.CriticIteration, wt.CriticTaskID,
		wt.TotalFixupCount, formatTime(wt.CreatedAt))
	if err != nil {
		return fmt.Errorf("save worktree: %w", err)
	}
	return nil
}

// GetPlan loads a plan and its worktrees.
func (db *DB) GetPlan(id string) (*models.Plan, error) {
	row := db.QueryRow(`
		SELECT id, title, description, discussion, status, reference_agent_id,
			max_parallel_agents, branch_strategy, team_mode, feature_branch,
			created_at, updated_at
		FROM plans WHERE id = ?
	`, id)

	plan, err := scanPlan(row)
	if err != nil {
		return nil, err
	}

	worktrees, err := db.worktreesForPlan(id)
	if err != nil {
		return nil, err
	}
	plan.Worktrees = worktrees
	return plan, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanPlan reads one plan row.
func scanPlan(row rowScanner) (*models.Plan, error) {
	var p models.Plan
	var status, strategy, mode, createdAt, updatedAt string
	var description, discussion, refAgent, featureBranch sql.NullString

	err := row.Scan(&p.ID, &p.Title, &description, &discussion, &status, &refAgent,
		&p.MaxParallelAgents, &strategy, &mode, &featureBranch,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan plan: %w", err)
	}

	p.Description = description.String
	p.Discussion = discussion.String
	p.ReferenceAgentID = refAgent.String
	p.FeatureBranch = featureBranch.String
	p.Status = models.PlanStatus(status)
	p.BranchStrategy = models.BranchStrategy(strategy)
	p.TeamMode = models.TeamMode(mode)
	if t, err := parseTime(createdAt); err == nil {
		p.CreatedAt = t
	}
	if t, err := parseTime(updatedAt); err == nil {
		p.UpdatedAt = t
	}
	return &p, nil
}

// worktreesForPlan loads all worktrees for a plan in creation order.
func (db *DB) worktreesForPlan(planID string) ([]*models.PlanWorktree, error) {
	rows, err := db.Query(`
		SELECT id, plan_id, task_id, repository_id, path, branch, base_branch,
			agent_id, status, blocked_by, critic_status, critic_iteration,
			critic_task_id, total_fixup_count, created_at
		FROM worktrees WHERE plan_id = ? ORDER BY created_at, id
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("query worktrees: %w", err)
	}
	defer rows.Close()

	var worktrees []*models.PlanWorktree
	for rows.Next() {
		var wt models.PlanWorktree
		var status, createdAt string
		var agentID, blockedBy, criticStatus, criticTaskID sql.NullString

		err := rows.Scan(&wt.ID, &wt.PlanID, &wt.TaskID, &wt.RepositoryID,
			&wt.Path, &wt.Branch, &wt.BaseBranch, &agentID, &status, &blockedBy,
			&criticStatus, &wt.CriticIteration, &criticTaskID,
			&wt.TotalFixupCount, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan worktree: %w", err)
		}

		wt.AgentID = agentID.String
		wt.Status = models.WorktreeStatus(status)
		wt.CriticStatus = models.CriticStatus(criticStatus.String)
		wt.CriticTaskID = criticTaskID.String
		if blockedBy.Valid && blockedBy.String != "" {
			if err := json.Unmarshal([]byte(blockedBy.String), &wt.BlockedBy); err != nil {
				return nil, fmt.Errorf("unmarshal blocked_by: %w", err)
			}
		}
		if t, err := parseTime(createdAt); err == nil {
			wt.CreatedAt = t
		}
		worktrees = append(worktrees, &wt)
	}
	return worktrees, rows.Err()
}

// ListPlans returns all plans without their worktrees, newest first.
func (db *DB) ListPlans() ([]*models.Plan, error) {
	rows, err := db.Query(`
		SELECT id, title, description, discussion, status, reference_agent_id,
			max_parallel_agents, branch_strategy, team_mode, feature_branch,
			created_at, updated_at
		FROM plans ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	var plans []*models.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// ListActivePlans returns plans in a pollable status, with worktrees loaded.
func (db *DB) ListActivePlans() ([]*models.Plan, error) {
	plans, err := db.ListPlans()
	if err != nil {
		return nil, err
	}
	var active []*models.Plan
	for _, p := range plans {
		if !p.Status.Active() {
			continue
		}
		worktrees, err := db.worktreesForPlan(p.ID)
		if err != nil {
			return nil, err
		}
		p.Worktrees = worktrees
		active = append(active, p)
	}
	return active, nil
}

// DeletePlan removes a plan and, via cascade, its worktrees, assignments,
// and activities. Returns ErrPlanNotFound if the plan does not exist.
func (db *DB) DeletePlan(id string) error {
	result, err := db.Exec("DELETE FROM plans WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrPlanNotFound
	}
	return nil
}

// UpdatePlanStatus sets the plan's status and touches updated_at.
func (db *DB) UpdatePlanStatus(id string, status models.PlanStatus) error {
	result, err := db.Exec(`
		UPDATE plans SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update plan status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrPlanNotFound
	}
	return nil
}
