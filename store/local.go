package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// treeRecord persists the whole JSON tree as a single sqlite row.
type treeRecord struct {
	ID   int    `gorm:"primaryKey"`
	Data string `gorm:"type:text"`
}

// LocalBackend keeps the JSON tree in memory under a mutex and writes it
// through to sqlite after every mutation. It serves development and tests;
// the single lock makes every operation trivially linearizable, so Transact
// never conflicts.
type LocalBackend struct {
	mu   sync.Mutex
	db   *gorm.DB
	root map[string]any
}

// OpenLocal opens (or creates) the sqlite file and loads the stored tree.
// ":memory:" works for tests.
func OpenLocal(dbFile string) (*LocalBackend, error) {
	db, err := gorm.Open(sqlite.Open(dbFile), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if err := db.AutoMigrate(&treeRecord{}); err != nil {
		return nil, fmt.Errorf("migrating store schema: %w", err)
	}

	b := &LocalBackend{db: db, root: map[string]any{}}

	var rec treeRecord
	if err := db.First(&rec, 1).Error; err == nil && rec.Data != "" {
		if err := json.Unmarshal([]byte(rec.Data), &b.root); err != nil {
			return nil, fmt.Errorf("decoding stored tree: %w", err)
		}
	}
	return b, nil
}

func splitPath(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// getNode walks the tree; returns nil when any segment is missing.
func getNode(root map[string]any, segs []string) any {
	var cur any = root
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

// setNode writes value at the segment path, creating intermediate objects and
// overwriting non-object intermediates.
func setNode(root map[string]any, segs []string, value any) {
	m := root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := m[seg].(map[string]any)
		if !ok {
			child = map[string]any{}
			m[seg] = child
		}
		m = child
	}
	m[segs[len(segs)-1]] = value
}

// deleteNode removes the node and prunes emptied ancestors, so absent and
// empty-object nodes are indistinguishable, matching the remote store.
func deleteNode(root map[string]any, segs []string) {
	if len(segs) == 0 {
		return
	}
	parents := make([]map[string]any, 0, len(segs))
	m := root
	for _, seg := range segs[:len(segs)-1] {
		parents = append(parents, m)
		child, ok := m[seg].(map[string]any)
		if !ok {
			return
		}
		m = child
	}
	delete(m, segs[len(segs)-1])

	for i := len(parents) - 1; i >= 0; i-- {
		child, _ := parents[i][segs[i]].(map[string]any)
		if child != nil && len(child) == 0 {
			delete(parents[i], segs[i])
		}
	}
}

// generic round-trips v through JSON so the tree only ever holds
// map[string]any / []any / string / float64 / bool values.
func generic(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *LocalBackend) persist() error {
	raw, err := json.Marshal(b.root)
	if err != nil {
		return err
	}
	return b.db.Save(&treeRecord{ID: 1, Data: string(raw)}).Error
}

func (b *LocalBackend) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	node := getNode(b.root, splitPath(path))
	if node == nil {
		return nil, nil
	}
	return json.Marshal(node)
}

func (b *LocalBackend) Set(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.setLocked(path, value)
}

func (b *LocalBackend) setLocked(path string, value any) error {
	segs := splitPath(path)
	if value == nil {
		deleteNode(b.root, segs)
		return b.persist()
	}
	v, err := generic(value)
	if err != nil {
		return err
	}
	if v == nil {
		deleteNode(b.root, segs)
	} else {
		setNode(b.root, segs, v)
	}
	return b.persist()
}

func (b *LocalBackend) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	segs := splitPath(path)
	node, _ := getNode(b.root, segs).(map[string]any)
	if node == nil {
		node = map[string]any{}
	}
	for k, v := range fields {
		if v == nil {
			delete(node, k)
			continue
		}
		gv, err := generic(v)
		if err != nil {
			return err
		}
		node[k] = gv
	}
	if len(node) == 0 {
		deleteNode(b.root, segs)
	} else {
		setNode(b.root, segs, node)
	}
	return b.persist()
}

func (b *LocalBackend) Push(ctx context.Context, path string, value any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := pushID()
	if err := b.setLocked(path+"/"+id, value); err != nil {
		return "", err
	}
	return id, nil
}

func (b *LocalBackend) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	deleteNode(b.root, splitPath(path))
	return b.persist()
}

func (b *LocalBackend) Transact(ctx context.Context, path string, fn TxnFunc) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var current json.RawMessage
	if node := getNode(b.root, splitPath(path)); node != nil {
		raw, err := json.Marshal(node)
		if err != nil {
			return false, err
		}
		current = raw
	}

	next, err := fn(current)
	if errors.Is(err, ErrTxAbort) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := b.setLocked(path, next); err != nil {
		return false, err
	}
	return true, nil
}

// pushIDAlphabet matches the remote store's push-id alphabet: URL-safe and
// ordered so ids generated later sort later.
const pushIDAlphabet = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

// pushID builds a 20-char id from a millisecond timestamp prefix and a random
// suffix, the same layout the remote store uses for Push keys.
func pushID() string {
	now := time.Now().UnixMilli()
	id := make([]byte, 20)
	for i := 7; i >= 0; i-- {
		id[i] = pushIDAlphabet[now%64]
		now /= 64
	}
	suffix := make([]byte, 12)
	if _, err := rand.Read(suffix); err != nil {
		panic(err)
	}
	for i, c := range suffix {
		id[8+i] = pushIDAlphabet[int(c)%64]
	}
	return string(id)
}
