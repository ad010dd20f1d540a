package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type keyspace struct {
	strings map[string][]byte
	sets    map[string]map[string]struct{}
}

func newKeyspace() *keyspace {
	return &keyspace{
		strings: make(map[string][]byte),
		sets:    make(map[string]map[string]struct{}),
	}
}

type InmemoryStore struct {
	mu  sync.RWMutex
	dbs map[int]*keyspace

	closed bool
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{dbs: make(map[int]*keyspace)}
}

func (i *InmemoryStore) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.closed = true
	return nil
}

// db returns the keyspace of n, creating it when create is set. Callers
// hold the lock.
func (i *InmemoryStore) db(n int, create bool) *keyspace {
	ks, ok := i.dbs[n]
	if !ok && create {
		ks = newKeyspace()
		i.dbs[n] = ks
	}
	return ks
}

func (i *InmemoryStore) Get(ctx context.Context, db int, key string) ([]byte, bool, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	ks := i.db(db, false)
	if ks == nil {
		return nil, false, nil
	}

	if _, ok := ks.sets[key]; ok {
		return nil, false, ErrWrongType
	}

	value, ok := ks.strings[key]
	return value, ok, nil
}

func (i *InmemoryStore) Set(ctx context.Context, db int, key string, value []byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	ks := i.db(db, true)
	delete(ks.sets, key)
	ks.strings[key] = append([]byte{}, value...)
	return nil
}

func (i *InmemoryStore) Del(ctx context.Context, db int, keys ...string) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	ks := i.db(db, false)
	if ks == nil {
		return 0, nil
	}

	n := 0
	for _, key := range keys {
		if _, ok := ks.strings[key]; ok {
			delete(ks.strings, key)
			n++
		} else if _, ok := ks.sets[key]; ok {
			delete(ks.sets, key)
			n++
		}
	}
	return n, nil
}

// set returns the set at key. Callers hold the lock.
func (ks *keyspace) set(key string, create bool) (map[string]struct{}, error) {
	if _, ok := ks.strings[key]; ok {
		return nil, ErrWrongType
	}

	s, ok := ks.sets[key]
	if !ok && create {
		s = make(map[string]struct{})
		ks.sets[key] = s
	}
	return s, nil
}

func (i *InmemoryStore) SAdd(ctx context.Context, db int, key string, members ...string) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	s, err := i.db(db, true).set(key, true)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, m := range members {
		if _, ok := s[m]; !ok {
			s[m] = struct{}{}
			added++
		}
	}
	return added, nil
}

func (i *InmemoryStore) SRem(ctx context.Context, db int, key string, members ...string) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	ks := i.db(db, false)
	if ks == nil {
		return 0, nil
	}

	s, err := ks.set(key, false)
	if err != nil || s == nil {
		return 0, err
	}

	removed := 0
	for _, m := range members {
		if _, ok := s[m]; ok {
			delete(s, m)
			removed++
		}
	}

	// Empty sets don't exist
	if len(s) == 0 {
		delete(ks.sets, key)
	}
	return removed, nil
}

func (i *InmemoryStore) SCard(ctx context.Context, db int, key string) (int, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	ks := i.db(db, false)
	if ks == nil {
		return 0, nil
	}

	s, err := ks.set(key, false)
	return len(s), err
}

func (i *InmemoryStore) SIsMember(ctx context.Context, db int, key, member string) (bool, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	ks := i.db(db, false)
	if ks == nil {
		return false, nil
	}

	s, err := ks.set(key, false)
	if err != nil {
		return false, err
	}

	_, ok := s[member]
	return ok, nil
}

func (i *InmemoryStore) SMembers(ctx context.Context, db int, key string) ([]string, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	ks := i.db(db, false)
	if ks == nil {
		return []string{}, nil
	}

	s, err := ks.set(key, false)
	if err != nil {
		return nil, err
	}

	return sortedMembers(s), nil
}

func (i *InmemoryStore) SScan(ctx context.Context, db int, key string, cursor, count int, match func(string) bool) (int, []string, error) {
	members, err := i.SMembers(ctx, db, key)
	if err != nil {
		return 0, nil, err
	}

	if count <= 0 {
		count = 10
	}

	if cursor < 0 || cursor >= len(members) {
		return 0, []string{}, nil
	}

	end := cursor + count
	if end > len(members) {
		end = len(members)
	}

	page := make([]string, 0, end-cursor)
	for _, m := range members[cursor:end] {
		if match == nil || match(m) {
			page = append(page, m)
		}
	}

	if end == len(members) {
		end = 0
	}
	return end, page, nil
}

// Backup writes a document shaped like
//
//	{"db0": {"greeting": "hello", "colours": ["blue", "red"]}}
//
// Strings become JSON strings and sets arrays of members.
func (i *InmemoryStore) Backup() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	doc := []byte("{}")

	dbs := make([]int, 0, len(i.dbs))
	for n := range i.dbs {
		dbs = append(dbs, n)
	}
	sort.Ints(dbs)

	var err error
	for _, n := range dbs {
		ks := i.dbs[n]
		if len(ks.strings) == 0 && len(ks.sets) == 0 {
			continue
		}

		dbPath := "db" + strconv.Itoa(n)
		if doc, err = sjson.SetRawBytes(doc, dbPath, []byte("{}")); err != nil {
			return nil, err
		}

		for key, value := range ks.strings {
			if doc, err = sjson.SetBytes(doc, dbPath+"."+escapePath(key), string(value)); err != nil {
				return nil, fmt.Errorf("backup %s: %w", key, err)
			}
		}

		for key, s := range ks.sets {
			if doc, err = sjson.SetBytes(doc, dbPath+"."+escapePath(key), sortedMembers(s)); err != nil {
				return nil, fmt.Errorf("backup %s: %w", key, err)
			}
		}
	}

	return doc, nil
}

func (i *InmemoryStore) Restore(doc []byte) error {
	if !gjson.ValidBytes(doc) {
		return fmt.Errorf("restore: invalid JSON document")
	}

	dbs := make(map[int]*keyspace)
	var restoreErr error

	gjson.ParseBytes(doc).ForEach(func(dbKey, dbValue gjson.Result) bool {
		n, err := strconv.Atoi(strings.TrimPrefix(dbKey.String(), "db"))
		if err != nil || !dbValue.IsObject() {
			restoreErr = fmt.Errorf("restore: bad database entry %q", dbKey.String())
			return false
		}

		ks := newKeyspace()
		dbValue.ForEach(func(key, value gjson.Result) bool {
			if value.IsArray() {
				s := make(map[string]struct{})
				for _, m := range value.Array() {
					s[m.String()] = struct{}{}
				}
				if len(s) > 0 {
					ks.sets[key.String()] = s
				}
				return true
			}

			ks.strings[key.String()] = []byte(value.String())
			return true
		})

		dbs[n] = ks
		return true
	})

	if restoreErr != nil {
		return restoreErr
	}

	i.mu.Lock()
	i.dbs = dbs
	i.mu.Unlock()

	return nil
}

func sortedMembers(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// escapePath makes key a literal sjson path component.
func escapePath(key string) string {
	var b strings.Builder

	if _, err := strconv.Atoi(key); err == nil {
		// Numeric components would address array elements
		b.WriteByte(':')
	}

	for i, r := range key {
		switch {
		case r == '.', r == '*', r == '?', r == '\\':
			b.WriteByte('\\')
		case r == ':' && i == 0:
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ Store = (*InmemoryStore)(nil)
