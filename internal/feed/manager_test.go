package feed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairarb/pkg/utils"
)

// quoteServer - тестовый сервер котировок: запоминает запросы клиентов
// и отдаёт соединения тесту через канал
type quoteServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []map[string]interface{}
	conns    chan *websocket.Conn
}

func newQuoteServer(t *testing.T) *quoteServer {
	qs := &quoteServer{conns: make(chan *websocket.Conn, 16)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	qs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		qs.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req map[string]interface{}
			if json.Unmarshal(data, &req) == nil {
				qs.mu.Lock()
				qs.requests = append(qs.requests, req)
				qs.mu.Unlock()
			}
		}
	}))
	t.Cleanup(qs.Close)
	return qs
}

func (qs *quoteServer) url() string {
	return "ws" + strings.TrimPrefix(qs.URL, "http")
}

func (qs *quoteServer) actions() []string {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	out := make([]string, 0, len(qs.requests))
	for _, r := range qs.requests {
		out = append(out, r["action"].(string))
	}
	return out
}

func (qs *quoteServer) nextConn(t *testing.T) *websocket.Conn {
	select {
	case c := <-qs.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

type memSlotStore struct {
	mu    sync.Mutex
	slots map[string]SlotRecord
}

func newMemSlotStore() *memSlotStore {
	return &memSlotStore{slots: make(map[string]SlotRecord)}
}

func (s *memSlotStore) PutSlot(rec SlotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[rec.Key] = rec
	return nil
}

func (s *memSlotStore) DeleteSlot(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, key)
	return nil
}

func (s *memSlotStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

func testConfig() Config {
	return Config{
		ReconnectDelay: 20 * time.Millisecond,
		DialTimeout:    time.Second,
		PingInterval:   0,
		WriteTimeout:   time.Second,
	}
}

var sber = Target{Instrument: "SBER", ClassCode: "TQBR", SecCode: "SBER"}

func waitUpdate(t *testing.T, m *Manager) Update {
	select {
	case u := <-m.Updates():
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no update")
		return Update{}
	}
}

func TestManager_OpenSendsStartAndDeliversBooks(t *testing.T) {
	qs := newQuoteServer(t)
	store := newMemSlotStore()
	m := NewManager(qs.url(), testConfig(), store, utils.NewNop())
	slot := Slot{RowID: "row-1", Leg: 0}

	target := sber
	target.Generation = 7
	m.Open(slot, target)
	conn := qs.nextConn(t)

	require.Eventually(t, func() bool { return len(qs.actions()) == 1 }, time.Second, 5*time.Millisecond)
	qs.mu.Lock()
	start := qs.requests[0]
	qs.mu.Unlock()
	assert.Equal(t, "start", start["action"])
	assert.Equal(t, "TQBR", start["class_code"])
	assert.Equal(t, "SBER", start["sec_code"])
	assert.Equal(t, 1, store.len())

	// Мусор игнорируется, следующий снимок доставляется
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"ok"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"orderbook":{"bids":[[100,5],[99,10]],"asks":[[101,4],[102,9]]},"time":"10:00:00"}`)))

	u := waitUpdate(t, m)
	assert.Equal(t, slot, u.Slot)
	assert.Equal(t, uint64(7), u.Generation, "поколение открытия возвращается в снимке")
	require.Len(t, u.Book.Asks, 2)
	assert.Equal(t, 101.0, u.Book.Asks[0].Price)
	assert.Equal(t, 4.0, u.Book.Asks[0].Volume)

	m.Close(slot)
	assert.False(t, m.IsOpen(slot))
	assert.Equal(t, 0, store.len())
	require.Eventually(t, func() bool {
		a := qs.actions()
		return len(a) == 2 && a[1] == "stop"
	}, time.Second, 5*time.Millisecond)
}

func TestManager_ReconnectsWhileOpen(t *testing.T) {
	qs := newQuoteServer(t)
	m := NewManager(qs.url(), testConfig(), nil, utils.NewNop())
	slot := Slot{RowID: "row-1", Leg: 1}

	m.Open(slot, sber)
	first := qs.nextConn(t)
	first.Close()

	// После разрыва - новое соединение и повторный start
	second := qs.nextConn(t)
	require.NotNil(t, second)
	require.Eventually(t, func() bool {
		n := 0
		for _, a := range qs.actions() {
			if a == "start" {
				n++
			}
		}
		return n == 2
	}, time.Second, 5*time.Millisecond)

	m.Close(slot)
}

func TestManager_NoReconnectAfterClose(t *testing.T) {
	qs := newQuoteServer(t)
	m := NewManager(qs.url(), testConfig(), nil, utils.NewNop())
	slot := Slot{RowID: "row-2", Leg: 0}

	m.Open(slot, sber)
	conn := qs.nextConn(t)
	m.Close(slot)
	conn.Close()

	select {
	case <-qs.conns:
		t.Fatal("closed subscription must not reconnect")
	case <-time.After(100 * time.Millisecond):
	}

	// Повторное закрытие - без ошибок
	m.Close(slot)
}

func TestManager_CloseRowClosesBothLegs(t *testing.T) {
	qs := newQuoteServer(t)
	m := NewManager(qs.url(), testConfig(), nil, utils.NewNop())

	m.Open(Slot{RowID: "row-3", Leg: 0}, sber)
	m.Open(Slot{RowID: "row-3", Leg: 1}, Target{Instrument: "GAZP", ClassCode: "TQBR", SecCode: "GAZP"})
	m.Open(Slot{RowID: "other", Leg: 0}, sber)
	require.Len(t, m.Active(), 3)

	m.CloseRow("row-3")

	active := m.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "other", active[0].RowID)

	m.CloseAll()
	assert.Empty(t, m.Active())
}

func TestManager_ReopenReplacesSubscription(t *testing.T) {
	qs := newQuoteServer(t)
	m := NewManager(qs.url(), testConfig(), nil, utils.NewNop())
	slot := Slot{RowID: "row-4", Leg: 0}

	m.Open(slot, sber)
	qs.nextConn(t)
	m.Open(slot, Target{Instrument: "GAZP", ClassCode: "TQBR", SecCode: "GAZP"})
	qs.nextConn(t)

	assert.Len(t, m.Active(), 1)
	m.CloseAll()
}

func TestManager_UnreachableServerKeepsRetrying(t *testing.T) {
	m := NewManager("ws://127.0.0.1:1/ws", testConfig(), nil, utils.NewNop())
	slot := Slot{RowID: "row-5", Leg: 0}

	m.Open(slot, sber)
	time.Sleep(60 * time.Millisecond)
	assert.True(t, m.IsOpen(slot))

	done := make(chan struct{})
	go func() {
		m.Close(slot)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked")
	}
}

func TestSlot_Key(t *testing.T) {
	assert.Equal(t, "abc/1", Slot{RowID: "abc", Leg: 0}.Key())
	assert.Equal(t, "abc/2", Slot{RowID: "abc", Leg: 1}.Key())
}
