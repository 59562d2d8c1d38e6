package store

import (
	"context"
	"fmt"
	"time"
)

// Run statuses.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is one recorded execution of a deployment task.
type Run struct {
	ID         string    `json:"id"`
	Task       string    `json:"task"`
	Repository string    `json:"repository"`
	Filter     string    `json:"filter"`
	Selector   string    `json:"selector,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Pages      int       `json:"pages"`
	Seen       int       `json:"seen"`
	ToDeploy   int       `json:"to_deploy"`
	Failures   int       `json:"failures"`
	Watermark  int64     `json:"watermark"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

const runColumns = "id, task, repository, filter, selector, status, error, pages, seen, to_deploy, failures, watermark, started_at, finished_at"

// RecordRun appends a run to the history.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("INSERT INTO deploy_runs (%s) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)",
		runColumns,
		pb.Add(r.ID), pb.Add(r.Task), pb.Add(r.Repository), pb.Add(r.Filter), pb.Add(r.Selector),
		pb.Add(r.Status), pb.Add(r.Error), pb.Add(r.Pages), pb.Add(r.Seen), pb.Add(r.ToDeploy),
		pb.Add(r.Failures), pb.Add(r.Watermark),
		pb.Add(Timestamp(r.StartedAt.Unix())), pb.Add(Timestamp(r.FinishedAt.Unix())))
	if _, err := Exec(ctx, s.DB, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("record run %s: %w", r.ID, s.Dialect.MapError(err))
	}
	return nil
}

// ListRuns returns the most recent runs first. An empty task lists all
// tasks; limit <= 0 means 50.
func (s *Store) ListRuns(ctx context.Context, task string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	pb := s.Dialect.NewParamBuilder()
	where := ""
	if task != "" {
		where = "WHERE task = " + pb.Add(task)
	}
	sqlStr := fmt.Sprintf("SELECT %s FROM deploy_runs %s ORDER BY started_at DESC, id DESC LIMIT %d", runColumns, where, limit)

	rows, err := QueryRows(ctx, s.DB, sqlStr, pb.Params()...)
	if err != nil {
		return nil, err
	}
	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		started, err := toUnix(row["started_at"])
		if err != nil {
			return nil, fmt.Errorf("run %v: %w", row["id"], err)
		}
		finished, err := toUnix(row["finished_at"])
		if err != nil {
			return nil, fmt.Errorf("run %v: %w", row["id"], err)
		}
		runs = append(runs, Run{
			ID:         asString(row["id"]),
			Task:       asString(row["task"]),
			Repository: asString(row["repository"]),
			Filter:     asString(row["filter"]),
			Selector:   asString(row["selector"]),
			Status:     asString(row["status"]),
			Error:      asString(row["error"]),
			Pages:      int(asInt64(row["pages"])),
			Seen:       int(asInt64(row["seen"])),
			ToDeploy:   int(asInt64(row["to_deploy"])),
			Failures:   int(asInt64(row["failures"])),
			Watermark:  asInt64(row["watermark"]),
			StartedAt:  time.Unix(started, 0).UTC(),
			FinishedAt: time.Unix(finished, 0).UTC(),
		})
	}
	return runs, nil
}

// CleanupRuns deletes runs that finished more than retentionDays before now
// and returns how many were removed.
func (s *Store) CleanupRuns(ctx context.Context, retentionDays int, now time.Time) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM deploy_runs WHERE finished_at < %s", pb.Add(Timestamp(cutoff.Unix())))
	n, err := Exec(ctx, s.DB, sqlStr, pb.Params()...)
	if err != nil {
		return 0, fmt.Errorf("cleanup runs: %w", err)
	}
	return n, nil
}
