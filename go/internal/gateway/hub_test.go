package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placeboard/placeboard/go/internal/actor"
	"github.com/placeboard/placeboard/go/internal/board"
	"github.com/placeboard/placeboard/go/internal/cooldown"
	"github.com/placeboard/placeboard/go/internal/models"
	"github.com/placeboard/placeboard/go/internal/users"
)

const testCooldown = 30 * time.Second

type memRepo struct {
	mu     sync.Mutex
	pixels map[[2]int]models.PlacedPixel
	fail   bool
}

func newMemRepo() *memRepo {
	return &memRepo{pixels: make(map[[2]int]models.PlacedPixel)}
}

func (m *memRepo) setFail(fail bool) {
	m.mu.Lock()
	m.fail = fail
	m.mu.Unlock()
}

func (m *memRepo) UpsertPixel(_ context.Context, p models.PlacedPixel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("write refused")
	}
	m.pixels[[2]int{p.X, p.Y}] = p
	return nil
}

func (m *memRepo) DeleteRegion(_ context.Context, x1, y1, x2, y2 int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.pixels {
		if key[0] >= x1 && key[0] <= x2 && key[1] >= y1 && key[1] <= y2 {
			delete(m.pixels, key)
		}
	}
	return nil
}

func (m *memRepo) ListPixels(_ context.Context) ([]models.PlacedPixel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PlacedPixel, 0, len(m.pixels))
	for _, p := range m.pixels {
		out = append(out, p)
	}
	return out, nil
}

type memUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func (m *memUsers) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, users.ErrNotFound
}

type hubFixture struct {
	hub     *Hub
	store   *board.Store
	repo    *memRepo
	limiter *cooldown.Limiter
	codec   *actor.TokenCodec
	clock   *clockwork.FakeClock
	users   *memUsers
	server  *httptest.Server
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()

	clock := clockwork.NewFakeClock()
	repo := newMemRepo()
	store := board.NewStore(board.StoreConfig{Width: 10, Height: 10, WriteTimeout: time.Second}, repo)
	limiter := cooldown.NewLimiter(clock, testCooldown)
	codec := actor.NewTokenCodec([]byte("test-secret"), 24*time.Hour, clock)
	userStore := &memUsers{users: make(map[uuid.UUID]*models.User)}
	resolver := actor.NewResolver(codec, userStore, clock, actor.DefaultCacheTTL)

	manager := NewConnectionManager(DefaultConnectionConfig())
	hub := NewHub(manager, store, limiter, resolver)

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx)
	t.Cleanup(cancel)

	mux := http.NewServeMux()
	hub.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &hubFixture{
		hub:     hub,
		store:   store,
		repo:    repo,
		limiter: limiter,
		codec:   codec,
		clock:   clock,
		users:   userStore,
		server:  server,
	}
}

func (f *hubFixture) addUser(t *testing.T, role models.UserRole, status models.UserStatus) (*models.User, string) {
	t.Helper()
	user := &models.User{
		ID:     uuid.New(),
		Email:  "user@example.com",
		Role:   role,
		Status: status,
	}
	f.users.mu.Lock()
	f.users.users[user.ID] = user
	f.users.mu.Unlock()

	token, err := f.codec.Mint(user)
	require.NoError(t, err)
	return user, token
}

func (f *hubFixture) dial(t *testing.T, query url.Values) *websocket.Conn {
	t.Helper()

	parsed, err := url.Parse(f.server.URL)
	require.NoError(t, err)
	parsed.Scheme = "ws"
	parsed.Path = "/ws"
	parsed.RawQuery = query.Encode()

	conn, resp, err := websocket.DefaultDialer.Dial(parsed.String(), nil)
	if resp != nil {
		t.Cleanup(func() { resp.Body.Close() })
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *hubFixture) dialAnon(t *testing.T, anonID string) *websocket.Conn {
	return f.dial(t, url.Values{"anon_id": []string{anonID}})
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(payload, &frame))
	return frame
}

func assertNoMessage(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestInitDeliversSnapshotAndCooldown(t *testing.T) {
	f := newHubFixture(t)

	_, err := f.store.SetCell(context.Background(), 2, 3, "#112233", "anon:seed")
	require.NoError(t, err)

	ok, _ := f.limiter.TryAcquire("anon:abc")
	require.True(t, ok)
	f.clock.Advance(10 * time.Second)

	conn := f.dialAnon(t, "abc")
	frame := readMessage(t, conn)

	assert.Equal(t, "init", frame["type"])
	assert.Equal(t, float64(20), frame["coldown"])

	boardList, ok2 := frame["board"].([]any)
	require.True(t, ok2)
	require.Len(t, boardList, 1)
	pixel := boardList[0].(map[string]any)
	assert.Equal(t, float64(2), pixel["x"])
	assert.Equal(t, float64(3), pixel["y"])
	assert.Equal(t, "#112233", pixel["color"])
}

func TestPlacementBroadcastsToAllSessions(t *testing.T) {
	f := newHubFixture(t)

	connA := f.dialAnon(t, "actor-a")
	connB := f.dialAnon(t, "actor-b")
	readMessage(t, connA)
	readMessage(t, connB)

	require.NoError(t, connA.WriteJSON(map[string]any{"x": 1, "y": 1, "color": "#ff0000"}))

	// Every session observes the committed pixel, the sender included.
	for _, conn := range []*websocket.Conn{connA, connB} {
		frame := readMessage(t, conn)
		assert.Equal(t, "pixel", frame["type"])
		assert.Equal(t, float64(1), frame["x"])
		assert.Equal(t, float64(1), frame["y"])
		assert.Equal(t, "#ff0000", frame["color"])
	}

	color, err := f.store.Cell(1, 1)
	require.NoError(t, err)
	assert.Equal(t, "#ff0000", color)
}

func TestRateLimitedPlacementIsPrivate(t *testing.T) {
	f := newHubFixture(t)

	connA := f.dialAnon(t, "actor-a")
	connB := f.dialAnon(t, "actor-b")
	readMessage(t, connA)
	readMessage(t, connB)

	require.NoError(t, connA.WriteJSON(map[string]any{"x": 1, "y": 1, "color": "#ff0000"}))
	readMessage(t, connA)
	readMessage(t, connB)

	// A retry within the cooldown is rejected privately; the board is
	// unchanged and other sessions see nothing.
	require.NoError(t, connA.WriteJSON(map[string]any{"x": 0, "y": 0, "color": "#00ff00"}))
	frame := readMessage(t, connA)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "rate_limited", frame["error"])
	assert.Equal(t, float64(30), frame["seconds"])
	assertNoMessage(t, connB)

	color, err := f.store.Cell(0, 0)
	require.NoError(t, err)
	assert.Empty(t, color)

	// After the cooldown elapses the same request succeeds.
	f.clock.Advance(testCooldown)
	require.NoError(t, connA.WriteJSON(map[string]any{"x": 0, "y": 0, "color": "#00ff00"}))
	frame = readMessage(t, connA)
	assert.Equal(t, "pixel", frame["type"])
	assert.Equal(t, "#00ff00", frame["color"])
}

func TestBannedActorPlacementRejected(t *testing.T) {
	f := newHubFixture(t)

	_, token := f.addUser(t, models.UserRoleUser, models.UserStatusBanned)
	conn := f.dial(t, url.Values{"token": []string{token}})
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"x": 1, "y": 1, "color": "#ff0000"}))
	frame := readMessage(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "forbidden", frame["error"])

	assert.Empty(t, f.store.Snapshot())
}

func TestOutOfRangePlacementRejected(t *testing.T) {
	f := newHubFixture(t)

	conn := f.dialAnon(t, "actor-a")
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"x": 50, "y": 50, "color": "#ff0000"}))
	frame := readMessage(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "out_of_range", frame["error"])

	// A rejected placement consumes no cooldown.
	require.NoError(t, conn.WriteJSON(map[string]any{"x": 1, "y": 1, "color": "#ff0000"}))
	frame = readMessage(t, conn)
	assert.Equal(t, "pixel", frame["type"])
}

func TestAdminClearBroadcasts(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()

	for _, c := range [][2]int{{0, 0}, {1, 1}, {2, 2}} {
		_, err := f.store.SetCell(ctx, c[0], c[1], "#123456", "anon:seed")
		require.NoError(t, err)
	}

	_, adminToken := f.addUser(t, models.UserRoleAdmin, models.UserStatusActive)
	adminConn := f.dial(t, url.Values{"token": []string{adminToken}})
	viewerConn := f.dialAnon(t, "viewer")
	readMessage(t, adminConn)
	readMessage(t, viewerConn)

	require.NoError(t, adminConn.WriteJSON(map[string]any{
		"type":  "clear",
		"start": map[string]int{"x": 0, "y": 0},
		"end":   map[string]int{"x": 1, "y": 1},
	}))

	for _, conn := range []*websocket.Conn{adminConn, viewerConn} {
		frame := readMessage(t, conn)
		assert.Equal(t, "clear", frame["type"])
		list, ok := frame["list"].([]any)
		require.True(t, ok)
		assert.Len(t, list, 2)
	}

	color, err := f.store.Cell(2, 2)
	require.NoError(t, err)
	assert.Equal(t, "#123456", color)
	assert.Len(t, f.store.Snapshot(), 1)
}

func TestNonAdminClearForbidden(t *testing.T) {
	f := newHubFixture(t)

	_, err := f.store.SetCell(context.Background(), 1, 1, "#123456", "anon:seed")
	require.NoError(t, err)

	conn := f.dialAnon(t, "actor-a")
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":  "clear",
		"start": map[string]int{"x": 0, "y": 0},
		"end":   map[string]int{"x": 5, "y": 5},
	}))
	frame := readMessage(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "forbidden", frame["error"])

	assert.Len(t, f.store.Snapshot(), 1)
}

func TestMalformedMessageRejected(t *testing.T) {
	f := newHubFixture(t)

	conn := f.dialAnon(t, "actor-a")
	readMessage(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)))
	frame := readMessage(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "malformed_request", frame["error"])
}

func TestConnectionWithoutCredentialsRefused(t *testing.T) {
	f := newHubFixture(t)

	conn := f.dial(t, url.Values{})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}

func TestStorageFailureDoesNotConsumeCooldown(t *testing.T) {
	f := newHubFixture(t)
	f.repo.setFail(true)

	conn := f.dialAnon(t, "actor-a")
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"x": 1, "y": 1, "color": "#ff0000"}))
	frame := readMessage(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "storage_failure", frame["error"])

	// The failed write was refunded: once storage recovers, the retry is
	// admitted without waiting out the cooldown.
	f.repo.setFail(false)
	require.NoError(t, conn.WriteJSON(map[string]any{"x": 1, "y": 1, "color": "#ff0000"}))
	frame = readMessage(t, conn)
	assert.Equal(t, "pixel", frame["type"])
	assert.Equal(t, "#ff0000", frame["color"])

	color, err := f.store.Cell(1, 1)
	require.NoError(t, err)
	assert.Equal(t, "#ff0000", color)
}

func TestStatsEndpoint(t *testing.T) {
	f := newHubFixture(t)

	connA := f.dialAnon(t, "actor-a")
	connB := f.dialAnon(t, "actor-b")
	readMessage(t, connA)
	readMessage(t, connB)

	resp, err := http.Get(f.server.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, float64(2), stats["total_connections"])
	assert.Equal(t, float64(10), stats["board_width"])
	assert.Equal(t, float64(10), stats["board_height"])
}

func TestInvalidTokenWithAnonIDFallsBack(t *testing.T) {
	f := newHubFixture(t)

	conn := f.dial(t, url.Values{
		"token":   []string{"garbage"},
		"anon_id": []string{"fallback"},
	})
	frame := readMessage(t, conn)
	assert.Equal(t, "init", frame["type"])
}
