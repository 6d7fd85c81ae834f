package worker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srec-ev/tracker/internal/dispatcher"
	"github.com/srec-ev/tracker/pkg/core"
	"github.com/srec-ev/tracker/pkg/streaming"
)

// mockLogger implements dispatcher.Logger for testing
type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *mockLogger) Debug(msg string, keysAndValues ...any) { l.add(msg) }
func (l *mockLogger) Info(msg string, keysAndValues ...any)  { l.add(msg) }
func (l *mockLogger) Error(msg string, keysAndValues ...any) { l.add(msg) }

func (l *mockLogger) add(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

// mockEngine records every call made by the handlers
type mockEngine struct {
	mu       sync.Mutex
	batches  [][]core.RawPositionEvent
	sos      []core.AlertEvent
	ok       []core.AlertEvent
	warnings []core.AlertEvent
	alertErr error
}

func (e *mockEngine) ApplyPositions(events []core.RawPositionEvent) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches = append(e.batches, events)
	return len(events)
}

func (e *mockEngine) OnSos(ev core.AlertEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sos = append(e.sos, ev)
	return e.alertErr
}

func (e *mockEngine) OnOk(ev core.AlertEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ok = append(e.ok, ev)
	return e.alertErr
}

func (e *mockEngine) OnWarning(ev core.AlertEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.warnings = append(e.warnings, ev)
	return e.alertErr
}

func newTestSetup(t *testing.T) (*dispatcher.Dispatcher, *mockEngine) {
	t.Helper()
	d, err := dispatcher.New(&mockLogger{})
	require.NoError(t, err)

	eng := &mockEngine{}
	NewManager(Dependencies{Engine: eng}).RegisterHandlers(d)
	return d, eng
}

func TestRegisterHandlers(t *testing.T) {
	d, _ := newTestSetup(t)

	for _, cmd := range []string{
		streaming.EventLocationUpdate,
		streaming.EventSOS,
		streaming.EventOK,
		streaming.EventWarning,
	} {
		assert.True(t, d.HasHandler(cmd), "missing handler for %s", cmd)
	}
}

func TestHandleLocationUpdate(t *testing.T) {
	d, eng := newTestSetup(t)

	result, err := d.Dispatch(dispatcher.Event{
		Command: streaming.EventLocationUpdate,
		Payload: []byte(`[{"carId":1,"latitude":11.1,"longitude":76.9,"speed":12}]`),
	})
	require.NoError(t, err)
	assert.Equal(t, "queued", result)

	d.Close()

	require.Len(t, eng.batches, 1)
	require.Len(t, eng.batches[0], 1)
	assert.Equal(t, 12.0, *eng.batches[0][0].Speed)
}

func TestHandleLocationUpdate_BadPayloadNeverReachesEngine(t *testing.T) {
	d, eng := newTestSetup(t)

	d.Dispatch(dispatcher.Event{Command: streaming.EventLocationUpdate, Payload: []byte(`nope`)})
	d.Dispatch(dispatcher.Event{Command: streaming.EventLocationUpdate, Payload: []byte(`[]`)})
	d.Close()

	assert.Empty(t, eng.batches)
}

func TestHandleAlerts(t *testing.T) {
	d, eng := newTestSetup(t)

	_, err := d.Dispatch(dispatcher.Event{Command: streaming.EventSOS, Payload: []byte(`{"carId":5,"message":"help"}`)})
	require.NoError(t, err)
	_, err = d.Dispatch(dispatcher.Event{Command: streaming.EventOK, Payload: []byte(`[{"carId":"5","message":"fine"}]`)})
	require.NoError(t, err)
	_, err = d.Dispatch(dispatcher.Event{Command: streaming.EventWarning, Payload: []byte(`{"carId":6,"message":"slow"}`)})
	require.NoError(t, err)

	require.Len(t, eng.sos, 1)
	assert.Equal(t, "help", eng.sos[0].Message)
	require.Len(t, eng.ok, 1)
	assert.Equal(t, "5", eng.ok[0].CarID)
	require.Len(t, eng.warnings, 1)
}

func TestHandleAlerts_Rejected(t *testing.T) {
	d, eng := newTestSetup(t)

	_, err := d.Dispatch(dispatcher.Event{Command: streaming.EventSOS, Payload: []byte(`{"carId":5}`)})
	assert.Error(t, err)
	_, err = d.Dispatch(dispatcher.Event{Command: streaming.EventOK, Payload: []byte(`[]`)})
	assert.Error(t, err)
	_, err = d.Dispatch(dispatcher.Event{Command: streaming.EventWarning, Payload: []byte(`{"message":"x"}`)})
	assert.Error(t, err)

	assert.Empty(t, eng.sos)
	assert.Empty(t, eng.ok)
	assert.Empty(t, eng.warnings)
}

func TestHandleAlerts_EngineErrorSurfaces(t *testing.T) {
	d, eng := newTestSetup(t)
	eng.alertErr = assert.AnError

	_, err := d.Dispatch(dispatcher.Event{Command: streaming.EventSOS, Payload: []byte(`{"carId":5,"message":"help"}`)})
	assert.ErrorIs(t, err, assert.AnError)
}
