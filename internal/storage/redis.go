package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"chatdock/internal/clock"
	"chatdock/internal/ident"
)

// The redis backend stores each record's doc JSON under its own key and keeps
// a per-table list of ids in insertion order. Equality filters run client
// side over the decoded docs; the dataset is the same small per-user scale
// the sql backend targets.

// casDocScript swaps the doc atomically, but only while its stored version
// still matches the one the caller read. 1 = swapped, 0 = gone or changed.
var casDocScript = redis.NewScript(`
local doc = redis.call("GET", KEYS[1])
if not doc then
  return 0
end
if cjson.decode(doc)["version"] ~= tonumber(ARGV[2]) then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
return 1
`)

type redisDocs struct {
	client *redis.Client
	prefix string
	table  string
}

func (d redisDocs) docKey(id string) string {
	return d.prefix + d.table + ":" + id
}

func (d redisDocs) indexKey() string {
	return d.prefix + d.table
}

func (d redisDocs) get(ctx context.Context, id string) (string, error) {
	doc, err := d.client.Get(ctx, d.docKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s doc: %w", d.table, err)
	}
	return doc, nil
}

func (d redisDocs) insert(ctx context.Context, id, doc string) error {
	if err := d.client.Set(ctx, d.docKey(id), doc, 0).Err(); err != nil {
		return fmt.Errorf("insert %s doc: %w", d.table, err)
	}
	if err := d.client.RPush(ctx, d.indexKey(), id).Err(); err != nil {
		return fmt.Errorf("index %s doc: %w", d.table, err)
	}
	return nil
}

// update reports false when the doc is gone or was changed since the caller
// read it; the caller re-reads and decides what that means.
func (d redisDocs) update(ctx context.Context, id, doc string, readVersion int64) (bool, error) {
	res, err := casDocScript.Run(ctx, d.client, []string{d.docKey(id)}, doc, readVersion).Int64()
	if err != nil {
		return false, fmt.Errorf("update %s doc: %w", d.table, err)
	}
	return res == 1, nil
}

func (d redisDocs) delete(ctx context.Context, id string) error {
	n, err := d.client.Del(ctx, d.docKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete %s doc: %w", d.table, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if err := d.client.LRem(ctx, d.indexKey(), 1, id).Err(); err != nil {
		return fmt.Errorf("unindex %s doc: %w", d.table, err)
	}
	return nil
}

// list returns every stored doc in insertion order.
func (d redisDocs) list(ctx context.Context) ([]string, error) {
	ids, err := d.client.LRange(ctx, d.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", d.table, err)
	}
	docs := make([]string, 0, len(ids))
	for _, id := range ids {
		doc, err := d.client.Get(ctx, d.docKey(id)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetch %s doc: %w", d.table, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

type RedisFolderRepo struct {
	docs  redisDocs
	clock *clock.Clock
}

func NewRedisFolderRepo(client *redis.Client, keyPrefix string, clk *clock.Clock) *RedisFolderRepo {
	return &RedisFolderRepo{
		docs:  redisDocs{client: client, prefix: keyPrefix, table: "folders"},
		clock: clk,
	}
}

func (r *RedisFolderRepo) Get(ctx context.Context, id string) (Folder, error) {
	doc, err := r.docs.get(ctx, id)
	if err != nil {
		return Folder{}, err
	}
	var f Folder
	if err := decodeDoc(doc, &f); err != nil {
		return Folder{}, err
	}
	return f, nil
}

func (r *RedisFolderRepo) List(ctx context.Context, userID string, limit, offset int) ([]Folder, error) {
	docs, err := r.docs.list(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]Folder, 0)
	for _, doc := range docs {
		var f Folder
		if err := decodeDoc(doc, &f); err != nil {
			return nil, err
		}
		if f.UserID == userID {
			matched = append(matched, f)
		}
	}
	return sliceWindow(matched, limit, offset), nil
}

func (r *RedisFolderRepo) Create(ctx context.Context, dto FolderCreate, identity Identity) (Folder, error) {
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
	if err := r.docs.insert(ctx, record.ID, doc); err != nil {
		return Folder{}, err
	}
	return record, nil
}

func (r *RedisFolderRepo) Update(ctx context.Context, id string, dto FolderUpdate) (Folder, error) {
	for {
		doc, err := r.docs.get(ctx, id)
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
		ok, err := r.docs.update(ctx, id, patched, current.Version)
		if err != nil {
			return Folder{}, err
		}
		if ok {
			return next, nil
		}
		// Lost the write race; re-read and re-evaluate the token.
	}
}

func (r *RedisFolderRepo) Delete(ctx context.Context, id string) error {
	return r.docs.delete(ctx, id)
}

type RedisThreadRepo struct {
	docs  redisDocs
	clock *clock.Clock
}

func NewRedisThreadRepo(client *redis.Client, keyPrefix string, clk *clock.Clock) *RedisThreadRepo {
	return &RedisThreadRepo{
		docs:  redisDocs{client: client, prefix: keyPrefix, table: "chat_threads"},
		clock: clk,
	}
}

func (r *RedisThreadRepo) Get(ctx context.Context, id string) (ChatThread, error) {
	doc, err := r.docs.get(ctx, id)
	if err != nil {
		return ChatThread{}, err
	}
	var t ChatThread
	if err := decodeDoc(doc, &t); err != nil {
		return ChatThread{}, err
	}
	return t, nil
}

func (r *RedisThreadRepo) List(ctx context.Context, userID, folderID string, limit, offset int) ([]ChatThread, error) {
	docs, err := r.docs.list(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]ChatThread, 0)
	for _, doc := range docs {
		var t ChatThread
		if err := decodeDoc(doc, &t); err != nil {
			return nil, err
		}
		if t.UserID != userID {
			continue
		}
		if folderID != "" && t.FolderID != folderID {
			continue
		}
		matched = append(matched, t)
	}
	return sliceWindow(matched, limit, offset), nil
}

func (r *RedisThreadRepo) Create(ctx context.Context, dto ChatThreadCreate, identity Identity) (ChatThread, error) {
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
	if err := r.docs.insert(ctx, record.ID, doc); err != nil {
		return ChatThread{}, err
	}
	return record, nil
}

func (r *RedisThreadRepo) Update(ctx context.Context, id string, dto ChatThreadUpdate) (ChatThread, error) {
	for {
		doc, err := r.docs.get(ctx, id)
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
		ok, err := r.docs.update(ctx, id, patched, current.Version)
		if err != nil {
			return ChatThread{}, err
		}
		if ok {
			return next, nil
		}
		// Lost the write race; re-read and re-evaluate the token.
	}
}

func (r *RedisThreadRepo) Delete(ctx context.Context, id string) error {
	return r.docs.delete(ctx, id)
}
