// Package cache - локальный кэш терминала на BadgerDB.
//
// Хранит снимки коллекций бэкенда (для работы без сети), настройки интерфейса
// по полям и последнюю открытую подписку каждого слота стакана.
//
// Ключи:
//
//	snapshot:<collection>  - JSON снимок коллекции
//	snapshot:meta          - время последней синхронизации
//	ui:<key>               - настройка интерфейса
//	slot:<row_id>/<leg>    - запись feed.SlotRecord
package cache

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	jsoniter "github.com/json-iterator/go"

	"pairarb/internal/feed"
	"pairarb/internal/models"
	"pairarb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Имена коллекций
const (
	CollectionInstruments = "instruments"
	CollectionAccounts    = "accounts"
	CollectionPairs       = "pairs"
	CollectionColumns     = "columns"
	CollectionSettings    = "settings"
)

const (
	snapshotPrefix = "snapshot:"
	metaKey        = "snapshot:meta"
	uiPrefix       = "ui:"
	slotPrefix     = "slot:"
)

// ErrNoSnapshot - кэш ещё ни разу не синхронизировался
var ErrNoSnapshot = errors.New("no cached snapshot")

// Snapshot - все коллекции бэкенда на момент синхронизации
type Snapshot struct {
	Instruments []models.Instrument `json:"instruments"`
	Accounts    []models.Account    `json:"accounts"`
	Pairs       []models.PairRecord `json:"pairs"`
	Columns     []models.Column     `json:"columns"`
	Settings    []models.Setting    `json:"settings"`
	SyncedAt    time.Time           `json:"synced_at"`
}

// Store - локальный кэш
type Store struct {
	db  *badger.DB
	log *utils.Logger
}

// Open открывает кэш в каталоге dir. Пустой dir - кэш в памяти.
func Open(dir string, logger *utils.Logger) (*Store, error) {
	if logger == nil {
		logger = utils.L()
	}
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	s := &Store{db: db, log: logger.WithComponent("cache")}
	s.log.Info("cache opened", utils.String("dir", dir), utils.Bool("in_memory", dir == ""))
	return s, nil
}

// Close закрывает хранилище
func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================================
// Снимки коллекций
// ============================================================

// SaveSnapshot перезаписывает все коллекции одной транзакцией
func (s *Store) SaveSnapshot(snap Snapshot) error {
	parts := map[string]interface{}{
		CollectionInstruments: snap.Instruments,
		CollectionAccounts:    snap.Accounts,
		CollectionPairs:       snap.Pairs,
		CollectionColumns:     snap.Columns,
		CollectionSettings:    snap.Settings,
	}
	if snap.SyncedAt.IsZero() {
		snap.SyncedAt = time.Now().UTC()
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for name, v := range parts {
			if err := setJSON(txn, snapshotPrefix+name, v); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
		return setJSON(txn, metaKey, snap.SyncedAt)
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// SaveCollection перезаписывает одну коллекцию
func (s *Store) SaveCollection(name string, v interface{}) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, snapshotPrefix+name, v)
	})
}

// LoadSnapshot читает последний снимок. ErrNoSnapshot - если его нет.
func (s *Store) LoadSnapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		found, err := getJSON(txn, metaKey, &snap.SyncedAt)
		if err != nil {
			return err
		}
		if !found {
			return ErrNoSnapshot
		}
		targets := map[string]interface{}{
			CollectionInstruments: &snap.Instruments,
			CollectionAccounts:    &snap.Accounts,
			CollectionPairs:       &snap.Pairs,
			CollectionColumns:     &snap.Columns,
			CollectionSettings:    &snap.Settings,
		}
		for name, dst := range targets {
			if _, err := getJSON(txn, snapshotPrefix+name, dst); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
		return nil
	})
	return snap, err
}

// ============================================================
// Настройки интерфейса
// ============================================================

// PutUISetting сохраняет настройку интерфейса
func (s *Store) PutUISetting(key, value string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(uiPrefix+key), []byte(value))
	})
}

// UISetting возвращает настройку интерфейса
func (s *Store) UISetting(key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(uiPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(v []byte) error {
			value = string(v)
			return nil
		})
	})
	return value, found, err
}

// UISettings возвращает все настройки интерфейса
func (s *Store) UISettings() (map[string]string, error) {
	out := make(map[string]string)
	err := s.iterate(uiPrefix, func(key string, v []byte) error {
		out[strings.TrimPrefix(key, uiPrefix)] = string(v)
		return nil
	})
	return out, err
}

// ============================================================
// Слоты подписок (feed.SlotStore)
// ============================================================

// PutSlot запоминает открытую подписку слота
func (s *Store) PutSlot(rec feed.SlotRecord) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, slotPrefix+rec.Key, rec)
	})
}

// DeleteSlot удаляет запись слота. Отсутствующая запись - не ошибка.
func (s *Store) DeleteSlot(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(slotPrefix + key))
	})
}

// ListSlots возвращает записи всех слотов (упорядочены по ключу)
func (s *Store) ListSlots() ([]feed.SlotRecord, error) {
	var out []feed.SlotRecord
	err := s.iterate(slotPrefix, func(key string, v []byte) error {
		var rec feed.SlotRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			s.log.Warn("corrupt slot record skipped", utils.String("key", key), utils.Err(err))
			return nil
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// ArmedPairKeys - ключи пар, у которых остались записи слотов
func (s *Store) ArmedPairKeys() (map[string]bool, error) {
	slots, err := s.ListSlots()
	if err != nil {
		return nil, err
	}
	keys := make(map[string]bool, len(slots))
	for _, rec := range slots {
		if rec.PairKey != "" {
			keys[rec.PairKey] = true
		}
	}
	return keys, nil
}

// ClearSlots удаляет все записи слотов
func (s *Store) ClearSlots() error {
	return s.db.DropPrefix([]byte(slotPrefix))
}

// ============================================================
// Вспомогательные функции
// ============================================================

func (s *Store) iterate(prefix string, fn func(key string, v []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(key, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func setJSON(txn *badger.Txn, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}

func getJSON(txn *badger.Txn, key string, dst interface{}) (bool, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(v []byte) error {
		return json.Unmarshal(v, dst)
	})
}
