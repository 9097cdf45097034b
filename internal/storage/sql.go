package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"chatdock/internal/clock"
	"chatdock/internal/ident"
)

// The sql backend keeps one code path for both entities: a record is a single
// doc row, and every business-field filter is an equality predicate over a
// field extracted from the doc at query time. Listing is ordered by
// created_at, id so results follow insertion order on every engine.

// jsonField renders the extraction expression for one doc field.
func (s *Store) jsonField(name string) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("doc::jsonb ->> '%s'", name)
	}
	return fmt.Sprintf("json_extract(doc, '$.%s')", name)
}

// versionField renders the stored doc version as a comparable integer.
func (s *Store) versionField() string {
	if s.driver == "postgres" {
		return "(doc::jsonb ->> 'version')::bigint"
	}
	return "json_extract(doc, '$.version')"
}

func (s *Store) getDoc(ctx context.Context, table, id string) (string, error) {
	q := s.sql.Select("doc").From(table).Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", fmt.Errorf("build get query: %w", err)
	}
	var doc string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get %s row: %w", table, err)
	}
	return doc, nil
}

func (s *Store) insertDoc(ctx context.Context, table, id, doc string, now time.Time) error {
	q := s.sql.Insert(table).
		Columns("id", "doc", "created_at", "updated_at").
		Values(id, doc, now, now)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert %s row: %w", table, err)
	}
	return nil
}

// updateDoc writes doc only while the stored record still carries the version
// the caller read, so concurrent writers cannot silently overwrite each
// other. It reports false when the row is gone or was changed in between; the
// caller re-reads and decides what that means.
func (s *Store) updateDoc(ctx context.Context, table, id, doc string, now time.Time, readVersion int64) (bool, error) {
	q := s.sql.Update(table).
		Set("doc", doc).
		Set("updated_at", now).
		Where(sq.Eq{"id": id}).
		Where(sq.Expr(s.versionField()+" = ?", readVersion))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build update query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, fmt.Errorf("update %s row: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update %s rows affected: %w", table, err)
	}
	return n > 0, nil
}

func (s *Store) deleteDoc(ctx context.Context, table, id string) error {
	q := s.sql.Delete(table).Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete %s row: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s rows affected: %w", table, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// listDocs applies the filters as extracted-field equality predicates. Filter
// order only affects the generated SQL text, not the result set.
func (s *Store) listDocs(ctx context.Context, table string, filters [][2]string, limit, offset int) ([]string, error) {
	q := s.sql.Select("doc").From(table)
	for _, f := range filters {
		q = q.Where(sq.Expr(s.jsonField(f[0])+" = ?", f[1]))
	}
	q = q.OrderBy("created_at ASC", "id ASC").
		Limit(uint64(limit)).
		Offset(uint64(offset))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s rows: %w", table, err)
	}
	defer rows.Close()

	docs := make([]string, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", table, err)
	}
	return docs, nil
}

type SQLFolderRepo struct {
	store *Store
	clock *clock.Clock
}

func NewSQLFolderRepo(store *Store, clk *clock.Clock) *SQLFolderRepo {
	return &SQLFolderRepo{store: store, clock: clk}
}

func (r *SQLFolderRepo) Get(ctx context.Context, id string) (Folder, error) {
	doc, err := r.store.getDoc(ctx, "folders", id)
	if err != nil {
		return Folder{}, err
	}
	var f Folder
	if err := decodeDoc(doc, &f); err != nil {
		return Folder{}, err
	}
	return f, nil
}

func (r *SQLFolderRepo) List(ctx context.Context, userID string, limit, offset int) ([]Folder, error) {
	docs, err := r.store.listDocs(ctx, "folders", [][2]string{{"userId", userID}}, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]Folder, 0, len(docs))
	for _, doc := range docs {
		var f Folder
		if err := decodeDoc(doc, &f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (r *SQLFolderRepo) Create(ctx context.Context, dto FolderCreate, identity Identity) (Folder, error) {
	now := r.clock.Now()
	record := Folder{
		ID:        ident.New(),
		Name:      dto.Name,
		Type:      dto.Type,
		CreatedAt: r.clock.Display(now),
		UserID:    identity.UserID,
		Email:     identity.Email,
		Version:   1,
	}
	doc, err := encodeDoc(record)
	if err != nil {
		return Folder{}, err
	}
	if err := r.store.insertDoc(ctx, "folders", record.ID, doc, now); err != nil {
		return Folder{}, err
	}
	return record, nil
}

func (r *SQLFolderRepo) Update(ctx context.Context, id string, dto FolderUpdate) (Folder, error) {
	for {
		doc, err := r.store.getDoc(ctx, "folders", id)
		if err != nil {
			return Folder{}, err
		}
		var current Folder
		if err := decodeDoc(doc, &current); err != nil {
			return Folder{}, err
		}
		if dto.Version != nil && *dto.Version != current.Version {
			return Folder{}, ErrConflict
		}

		next := current.applyPatch(dto)
		next.Version = current.Version + 1
		patched, err := encodeDoc(next)
		if err != nil {
			return Folder{}, err
		}
		ok, err := r.store.updateDoc(ctx, "folders", id, patched, r.clock.Now(), current.Version)
		if err != nil {
			return Folder{}, err
		}
		if ok {
			return next, nil
		}
		// Lost the write race; re-read and re-evaluate the token.
	}
}

func (r *SQLFolderRepo) Delete(ctx context.Context, id string) error {
	return r.store.deleteDoc(ctx, "folders", id)
}

type SQLThreadRepo struct {
	store *Store
	clock *clock.Clock
}

func NewSQLThreadRepo(store *Store, clk *clock.Clock) *SQLThreadRepo {
	return &SQLThreadRepo{store: store, clock: clk}
}

func (r *SQLThreadRepo) Get(ctx context.Context, id string) (ChatThread, error) {
	doc, err := r.store.getDoc(ctx, "chat_threads", id)
	if err != nil {
		return ChatThread{}, err
	}
	var t ChatThread
	if err := decodeDoc(doc, &t); err != nil {
		return ChatThread{}, err
	}
	return t, nil
}

func (r *SQLThreadRepo) List(ctx context.Context, userID, folderID string, limit, offset int) ([]ChatThread, error) {
	filters := [][2]string{{"userId", userID}}
	if folderID != "" {
		filters = append(filters, [2]string{"folderId", folderID})
	}
	docs, err := r.store.listDocs(ctx, "chat_threads", filters, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]ChatThread, 0, len(docs))
	for _, doc := range docs {
		var t ChatThread
		if err := decodeDoc(doc, &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *SQLThreadRepo) Create(ctx context.Context, dto ChatThreadCreate, identity Identity) (ChatThread, error) {
	now := r.clock.Now()
	record := ChatThread{
		ID:          ident.New(),
		Name:        dto.Name,
		Prompt:      dto.Prompt,
		Temperature: dto.Temperature,
		FolderID:    dto.FolderID,
		IsShared:    dto.IsShared,
		CreatedAt:   r.clock.Display(now),
		SharedAt:    dto.SharedAt,
		UserID:      identity.UserID,
		Email:       identity.Email,
		Version:     1,
	}
	doc, err := encodeDoc(record)
	if err != nil {
		return ChatThread{}, err
	}
	if err := r.store.insertDoc(ctx, "chat_threads", record.ID, doc, now); err != nil {
		return ChatThread{}, err
	}
	return record, nil
}

func (r *SQLThreadRepo) Update(ctx context.Context, id string, dto ChatThreadUpdate) (ChatThread, error) {
	for {
		doc, err := r.store.getDoc(ctx, "chat_threads", id)
		if err != nil {
			return ChatThread{}, err
		}
		var current ChatThread
		if err := decodeDoc(doc, &current); err != nil {
			return ChatThread{}, err
		}
		if dto.Version != nil && *dto.Version != current.Version {
			return ChatThread{}, ErrConflict
		}

		next := current.applyPatch(dto)
		next.Version = current.Version + 1
		patched, err := encodeDoc(next)
		if err != nil {
			return ChatThread{}, err
		}
		ok, err := r.store.updateDoc(ctx, "chat_threads", id, patched, r.clock.Now(), current.Version)
		if err != nil {
			return ChatThread{}, err
		}
		if ok {
			return next, nil
		}
		// Lost the write race; re-read and re-evaluate the token.
	}
}

func (r *SQLThreadRepo) Delete(ctx context.Context, id string) error {
	return r.store.deleteDoc(ctx, "chat_threads", id)
}
