package reconcile

import "sort"

// Outcome - что сделала сверка с записью
type Outcome int

const (
	Unchanged Outcome = iota // записи на бэкенд не было
	Created
	Updated
	Deleted
	LocalOnly // запись не была сохранена, удалена только локально
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	case LocalOnly:
		return "local_only"
	default:
		return "unknown"
	}
}

// collection - индекс одной коллекции бэкенда по естественному ключу
type collection[T any] struct {
	name  string
	key   func(T) string
	id    func(T) int64
	same  func(a, b T) bool
	byKey map[string]T
}

func newCollection[T any](name string, key func(T) string, id func(T) int64, same func(a, b T) bool) *collection[T] {
	return &collection[T]{name: name, key: key, id: id, same: same, byKey: make(map[string]T)}
}

// reset перестраивает индекс; при повторе ключа остаётся первая запись
func (c *collection[T]) reset(items []T) (duplicates []string) {
	c.byKey = make(map[string]T, len(items))
	for _, it := range items {
		k := c.key(it)
		if _, ok := c.byKey[k]; ok {
			duplicates = append(duplicates, k)
			continue
		}
		c.byKey[k] = it
	}
	return duplicates
}

func (c *collection[T]) lookup(key string) (T, bool) {
	v, ok := c.byKey[key]
	return v, ok
}

func (c *collection[T]) byID(id int64) (T, bool) {
	var zero T
	if id <= 0 {
		return zero, false
	}
	for _, v := range c.byKey {
		if c.id(v) == id {
			return v, true
		}
	}
	return zero, false
}

// resolve - разрешение идентичности: id, затем естественный ключ
func (c *collection[T]) resolve(local T) (current T, id int64, found bool) {
	id = c.id(local)
	if current, found = c.byID(id); found {
		return current, id, true
	}
	if current, found = c.lookup(c.key(local)); found {
		return current, c.id(current), true
	}
	return current, id, false
}

// put индексирует запись; старый ключ той же записи удаляется
func (c *collection[T]) put(v T) {
	id := c.id(v)
	if id > 0 {
		for k, old := range c.byKey {
			if c.id(old) == id {
				delete(c.byKey, k)
			}
		}
	}
	c.byKey[c.key(v)] = v
}

func (c *collection[T]) remove(key string) {
	delete(c.byKey, key)
}

func (c *collection[T]) removeID(id int64) {
	for k, v := range c.byKey {
		if c.id(v) == id {
			delete(c.byKey, k)
		}
	}
}

// list возвращает записи, упорядоченные по ключу
func (c *collection[T]) list() []T {
	keys := make([]string, 0, len(c.byKey))
	for k := range c.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.byKey[k])
	}
	return out
}
