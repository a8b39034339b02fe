package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across spaces and messages using
// plainto_tsquery and ts_rank, with ts_headline for snippets. Both
// sub-queries join through folders to enforce the owner scope.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	if q.OwnerID == "" {
		return nil, 0, fmt.Errorf("search query missing owner")
	}

	limit := pageSize(q.Limit)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.OwnerID}
	argN := 3

	var subQueries []string

	// Spaces sub-query
	if q.FilterType == "" || q.FilterType == ResultSpace {
		spWhere := "s.fts @@ " + tsQuery + " AND f.owner_id = $2"
		if q.FilterFolderID != "" {
			spWhere += fmt.Sprintf(" AND s.folder_id = $%d", argN)
			args = append(args, q.FilterFolderID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'space'::text AS type, s.id, s.title,
				s.type AS snippet,
				s.id AS space_id, s.folder_id,
				ts_rank(s.fts, %s) AS rank
			FROM spaces s
			JOIN folders f ON f.id = s.folder_id
			WHERE %s`, tsQuery, spWhere))
	}

	// Messages sub-query
	if q.FilterType == "" || q.FilterType == ResultMessage {
		msgWhere := "m.fts @@ " + tsQuery + " AND f.owner_id = $2"
		if q.FilterFolderID != "" {
			msgWhere += fmt.Sprintf(" AND s.folder_id = $%d", argN)
			args = append(args, q.FilterFolderID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'message'::text AS type, m.id, m.role AS title,
				ts_headline('english', coalesce(m.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				m.space_id, s.folder_id,
				ts_rank(m.fts, %s) AS rank
			FROM messages m
			JOIN spaces s ON s.id = m.space_id
			JOIN folders f ON f.id = s.folder_id
			WHERE %s`, tsQuery, tsQuery, msgWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, space_id, folder_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.SpaceID, &r.FolderID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]SpaceRecord, []MessageRecord, error) {
	spaceRows, err := p.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.type, s.folder_id, f.owner_id
		FROM spaces s
		JOIN folders f ON f.id = s.folder_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load spaces: %w", err)
	}
	defer spaceRows.Close()

	spaces := make([]SpaceRecord, 0)
	for spaceRows.Next() {
		var sp SpaceRecord
		if err := spaceRows.Scan(&sp.ID, &sp.Title, &sp.Type, &sp.FolderID, &sp.OwnerID); err != nil {
			return nil, nil, fmt.Errorf("scan space: %w", err)
		}
		spaces = append(spaces, sp)
	}
	if err := spaceRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate spaces: %w", err)
	}

	msgRows, err := p.db.QueryContext(ctx, `
		SELECT m.id, m.content, m.role, m.space_id, s.folder_id, f.owner_id
		FROM messages m
		JOIN spaces s ON s.id = m.space_id
		JOIN folders f ON f.id = s.folder_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load messages: %w", err)
	}
	defer msgRows.Close()

	messages := make([]MessageRecord, 0)
	for msgRows.Next() {
		var m MessageRecord
		if err := msgRows.Scan(&m.ID, &m.Content, &m.Role, &m.SpaceID, &m.FolderID, &m.OwnerID); err != nil {
			return nil, nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := msgRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate messages: %w", err)
	}

	return spaces, messages, nil
}
