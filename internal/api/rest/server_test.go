package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenHarnessCore/internal/api/websocket"
	"github.com/KevinKickass/OpenHarnessCore/internal/boards"
	"github.com/KevinKickass/OpenHarnessCore/internal/config"
	"github.com/KevinKickass/OpenHarnessCore/internal/director"
	"github.com/KevinKickass/OpenHarnessCore/internal/interfaces"
	"github.com/KevinKickass/OpenHarnessCore/internal/protocol"
	"github.com/KevinKickass/OpenHarnessCore/internal/session"
	"github.com/KevinKickass/OpenHarnessCore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errClosed = errors.New("closed")

// scriptedController answers each command line with a canned reply.
type scriptedController struct {
	replies map[string]string

	in   chan []byte
	done chan struct{}
	once sync.Once
}

func newScriptedController(replies map[string]string) *scriptedController {
	return &scriptedController{
		replies: replies,
		in:      make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

func (c *scriptedController) Name() string { return "tcp://bench" }

func (c *scriptedController) Send(payload []byte) error {
	if reply, ok := c.replies[strings.TrimSpace(string(payload))]; ok {
		c.in <- []byte(reply)
	}
	return nil
}

func (c *scriptedController) Receive(ctx context.Context) ([]byte, error) {
	select {
	case p := <-c.in:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, errClosed
	}
}

func (c *scriptedController) Done() <-chan struct{} { return c.done }

func (c *scriptedController) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

type nopReporter struct{}

func (nopReporter) Report(string) {}

type fakeLifecycle struct {
	cfg *config.Config
	dir *director.Director
	mgr *boards.Manager

	shutdowns chan struct{}
}

func (f *fakeLifecycle) Config() *config.Config        { return f.cfg }
func (f *fakeLifecycle) Director() *director.Director  { return f.dir }
func (f *fakeLifecycle) Boards() *boards.Manager       { return f.mgr }
func (f *fakeLifecycle) Results() *storage.ResultStore { return nil }

func (f *fakeLifecycle) Shutdown(context.Context) error {
	f.shutdowns <- struct{}{}
	return nil
}

func (f *fakeLifecycle) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{
		State:      "RUNNING",
		Director:   f.dir.Status(),
		BoardCount: len(f.mgr.Addresses()),
	}
}

var benchReplies = map[string]string{
	"HW":          "HW END HW -> 1 END",
	"VOL 0":       "VOL 0 END VOL 0 -> 0 END",
	"VOL 1":       "VOL 1 END VOL 1 -> 1 END",
	"CONNECT SEQ": "CONNECT END",
	"CONNECT 1:3": "CONNECT 1:3 END CONNECT 1:3 -> 1:3 1:4 END",
}

func newTestServer(t *testing.T, settle time.Duration) (*Server, *fakeLifecycle, *scriptedController) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cfg, err := config.Load("")
	require.NoError(t, err)

	mgr := boards.NewManager(boards.DefaultConfig(), boards.Options{}, logger)
	dir := director.New(director.Config{
		SettlePeriod: settle,
		VoltageLevel: protocol.VoltageHigh,
		Session: session.Config{
			AckTimeout:           200 * time.Millisecond,
			VoltageResultTimeout: 300 * time.Millisecond,
			BoardsResultTimeout:  500 * time.Millisecond,
			CheckResultTimeout:   300 * time.Millisecond,
		},
	}, mgr.HandleMessage, nopReporter{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = dir.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	ctrl := newScriptedController(benchReplies)
	require.NoError(t, dir.Attach(ctx, ctrl))

	lm := &fakeLifecycle{cfg: cfg, dir: dir, mgr: mgr, shutdowns: make(chan struct{}, 1)}
	return NewServer(0, lm, logger, websocket.NewHub(logger, mgr)), lm, ctrl
}

func waitOperating(t *testing.T, lm *fakeLifecycle) {
	t.Helper()
	require.Eventually(t, func() bool {
		return lm.dir.Status().State == director.StateOperating && len(lm.mgr.Addresses()) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error.Code
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, time.Hour)

	rec := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestCommandsConflictBeforeSettling(t *testing.T) {
	s, _, _ := newTestServer(t, time.Hour)

	rec := do(t, s, http.MethodPost, "/api/v1/voltage", body{"level": 0})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "VOLTAGE_409", errorCode(t, rec))

	rec = do(t, s, http.MethodGet, "/api/v1/director", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st director.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, director.StateSearching, st.State)
	assert.False(t, st.Settled)
}

func TestBoardEndpoints(t *testing.T) {
	s, lm, _ := newTestServer(t, 50*time.Millisecond)
	waitOperating(t, lm)

	rec := do(t, s, http.MethodGet, "/api/v1/boards", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Boards []boards.BoardSnapshot `json:"boards"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Boards, 1)
	assert.Equal(t, uint8(1), list.Boards[0].Address)
	assert.Equal(t, protocol.VoltageHigh, list.Boards[0].Level)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/v1/boards/1/pins/3", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/v1/boards/1/pins/3/history", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/boards/1/pins/32", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/boards/0", nil).Code)

	rec = do(t, s, http.MethodGet, "/api/v1/boards/2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "BOARD_404", errorCode(t, rec))

	rec = do(t, s, http.MethodPost, "/api/v1/boards/refresh", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"boards":[1]}`, rec.Body.String())
}

func TestSetParametersMergesBody(t *testing.T) {
	s, lm, _ := newTestServer(t, 50*time.Millisecond)
	waitOperating(t, lm)

	rec := do(t, s, http.MethodPut, "/api/v1/boards/1/parameters", body{"shunt_resistance": 470})
	require.Equal(t, http.StatusOK, rec.Code)

	board, err := lm.mgr.Board(1)
	require.NoError(t, err)
	require.NotNil(t, board.Params)
	assert.Equal(t, 470.0, float64(board.Params.ShuntResistance))
	assert.Equal(t, float64(boards.DefaultInResistance), float64(board.Params.InResistanceBank0))

	rec = do(t, s, http.MethodPut, "/api/v1/boards/1/parameters", body{"shunt_resistance": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckSinglePin(t *testing.T) {
	s, lm, _ := newTestServer(t, 50*time.Millisecond)
	waitOperating(t, lm)

	rec := do(t, s, http.MethodPost, "/api/v1/check", body{"kind": "connect", "pin": "1:3"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"outcome":"SUCCESS"}`, rec.Body.String())

	require.Eventually(t, func() bool {
		pin, err := lm.mgr.Pin(protocol.PinRef{Board: 1, Index: 3})
		return err == nil && len(pin.Connections) == 2
	}, time.Second, 10*time.Millisecond)

	rec = do(t, s, http.MethodPost, "/api/v1/check", body{"kind": "connect", "sequential": true})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/check", body{"kind": "connect", "pin": "9:3"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/check", body{"kind": "VOL"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/check", body{"kind": "connect", "pin": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckFailureIsBadGateway(t *testing.T) {
	s, lm, _ := newTestServer(t, 50*time.Millisecond)
	waitOperating(t, lm)

	// No scripted reply: the acknowledgement times out.
	rec := do(t, s, http.MethodPost, "/api/v1/check", body{"kind": "resistances"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "CHECK_502", errorCode(t, rec))
}

func TestPinoutReloadWithoutSource(t *testing.T) {
	s, _, _ := newTestServer(t, time.Hour)

	rec := do(t, s, http.MethodPost, "/api/v1/pinout/reload", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PINOUT_404", errorCode(t, rec))
}

func TestExportViews(t *testing.T) {
	s, lm, _ := newTestServer(t, 50*time.Millisecond)
	waitOperating(t, lm)

	rec := do(t, s, http.MethodGet, "/api/v1/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Board 1")

	rec = do(t, s, http.MethodGet, "/api/v1/export?view=groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Board 1")
}

func TestShutdownIsAsynchronous(t *testing.T) {
	s, lm, _ := newTestServer(t, time.Hour)

	rec := do(t, s, http.MethodPost, "/api/v1/system/shutdown", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-lm.shutdowns:
	case <-time.After(time.Second):
		t.Fatal("shutdown was not triggered")
	}

	rec = do(t, s, http.MethodGet, "/api/v1/system/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"RUNNING"`)
}

type body map[string]any
