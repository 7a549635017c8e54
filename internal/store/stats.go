package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath          string       `json:"db_path"`
	DBSizeBytes     int64        `json:"db_size_bytes"`
	TotalSessions   int          `json:"total_sessions"`
	TotalEvents     int          `json:"total_events"`
	TotalBlocks     int          `json:"total_memory_blocks"`
	TotalDrafts     int          `json:"total_narrative_drafts"`
	TotalArtifacts  int          `json:"total_artifacts"`
	SessionsByState []StateStats `json:"sessions_by_state"`
}

// StateStats holds per-state session counts.
type StateStats struct {
	State string `json:"state"`
	Count int    `json:"count"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	// DB file size
	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&st.TotalSessions)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&st.TotalEvents)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_blocks`).Scan(&st.TotalBlocks)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM narrative_drafts`).Scan(&st.TotalDrafts)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts`).Scan(&st.TotalArtifacts)

	rows, err := s.db.QueryContext(ctx, `
		SELECT state, COUNT(*) AS cnt
		FROM sessions
		GROUP BY state ORDER BY cnt DESC, state`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var ss StateStats
		rows.Scan(&ss.State, &ss.Count)
		st.SessionsByState = append(st.SessionsByState, ss)
	}

	return st, nil
}
