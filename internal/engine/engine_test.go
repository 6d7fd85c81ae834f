package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srec-ev/tracker/internal/camera"
	"github.com/srec-ev/tracker/internal/scheduler"
	"github.com/srec-ev/tracker/internal/util"
	"github.com/srec-ev/tracker/pkg/core"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingSink struct {
	raised    int
	cleared   int
	cancelled int
	said      []string
}

func (s *recordingSink) RaiseAlert()          { s.raised++ }
func (s *recordingSink) Clear()               { s.cleared++ }
func (s *recordingSink) Announce(text string) { s.said = append(s.said, text) }
func (s *recordingSink) CancelAnnouncements() { s.cancelled++ }

type recordingRecorder struct {
	positions []core.Vehicle
	alerts    []core.Alert
}

func (r *recordingRecorder) RecordPosition(v core.Vehicle) { r.positions = append(r.positions, v) }
func (r *recordingRecorder) RecordAlert(a core.Alert)      { r.alerts = append(r.alerts, a) }

func ptr(f float64) *float64 { return &f }

func pos(id any, lat, lng float64) core.RawPositionEvent {
	return core.RawPositionEvent{CarID: id, Latitude: ptr(lat), Longitude: ptr(lng)}
}

func newTestEngine(t *testing.T, cfg Config, opts ...Option) (*Engine, *recordingSink, *scheduler.Manual) {
	t.Helper()
	sched := scheduler.NewManual(epoch)
	sink := &recordingSink{}
	return New(sched, sink, cfg, opts...), sink, sched
}

func TestEngine_IDVariantsResolveToOneVehicle(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())

	e.ApplyPositions([]core.RawPositionEvent{pos(5, 1, 1)})
	e.ApplyPositions([]core.RawPositionEvent{pos("5", 2, 2)})

	vehicles := e.Vehicles()
	require.Len(t, vehicles, 1)
	assert.Equal(t, "5", vehicles[0].ID)
	trail, err := e.Trail(5.0)
	require.NoError(t, err)
	assert.Len(t, trail, 2)
}

func TestEngine_TrailBound(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())

	for i := 0; i < 130; i++ {
		e.ApplyPositions([]core.RawPositionEvent{pos(1, 0, float64(i))})
	}

	trail, _ := e.Trail("1")
	require.Len(t, trail, 100)
	assert.Equal(t, 30.0, trail[0].Lng)
	assert.Equal(t, 129.0, trail[99].Lng)
}

func TestEngine_DuplicateDeliveryAddsNoTrailPoint(t *testing.T) {
	rec := &recordingRecorder{}
	e, _, _ := newTestEngine(t, DefaultConfig(), WithRecorder(rec))

	batch := []core.RawPositionEvent{pos(1, 1, 1)}
	e.ApplyPositions(batch)
	e.ApplyPositions(batch)

	trail, _ := e.Trail(1)
	assert.Len(t, trail, 1)
	assert.Len(t, rec.positions, 1)
}

func TestEngine_RejectsBadRecordsWithoutLosingBatch(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())

	accepted := e.ApplyPositions([]core.RawPositionEvent{
		{CarID: 1},
		pos(nil, 1, 1),
		pos(2, 1, 1),
	})

	assert.Equal(t, 1, accepted)
	stats := e.Stats()
	assert.Equal(t, 1, stats.Vehicles)
	assert.Equal(t, 1, stats.Positions)
	assert.Equal(t, 2, stats.Rejected)
}

func TestEngine_FollowCentroidAndManualCenter(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())

	e.ApplyPositions([]core.RawPositionEvent{pos(1, 0, 0), pos(2, 2, 2)})
	assert.Equal(t, core.CameraState{Center: core.Position{Lat: 1, Lng: 1}, Follow: true}, e.Camera())

	st, err := e.SetManualCenter(11.101040, 76.964291)
	require.NoError(t, err)
	assert.False(t, st.Follow)

	e.ApplyPositions([]core.RawPositionEvent{pos(1, 5, 5), pos(2, 7, 7)})
	assert.Equal(t, core.Position{Lat: 11.101040, Lng: 76.964291}, e.Camera().Center)

	_, err = e.SetManualCenter(100, 0)
	assert.Error(t, err)
}

func TestEngine_SosOkAlarm(t *testing.T) {
	e, sink, _ := newTestEngine(t, DefaultConfig())

	require.NoError(t, e.OnSos(core.AlertEvent{CarID: 1, Message: "a"}))
	require.NoError(t, e.OnSos(core.AlertEvent{CarID: "2", Message: "b"}))
	require.NoError(t, e.OnOk(core.AlertEvent{CarID: "1", Message: "x"}))
	assert.True(t, e.View().AlarmActive)

	require.NoError(t, e.OnOk(core.AlertEvent{CarID: 2, Message: "y"}))
	v := e.View()
	assert.False(t, v.AlarmActive)
	assert.Empty(t, v.SOS)
	assert.Len(t, v.OK, 2)
	assert.Equal(t, 1, sink.raised)
	assert.Contains(t, sink.said, "2: b")
}

func TestEngine_AlertValidation(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())

	assert.ErrorIs(t, e.OnSos(core.AlertEvent{CarID: 1}), ErrMissingMessage)
	assert.ErrorIs(t, e.OnWarning(core.AlertEvent{Message: "x"}), util.ErrMissingID)
	assert.Equal(t, 0, e.Stats().Alerts)
}

func TestEngine_WarningExpiryPublishes(t *testing.T) {
	e, _, sched := newTestEngine(t, DefaultConfig())
	var views []core.View
	e.Subscribe(func(v core.View) { views = append(views, v) })

	require.NoError(t, e.OnWarning(core.AlertEvent{CarID: 3, Message: "slow"}))
	require.Len(t, views, 1)
	assert.Len(t, views[0].Warnings, 1)

	sched.Advance(10 * time.Second)
	require.Len(t, views, 2)
	assert.Empty(t, views[1].Warnings)
}

func TestEngine_DismissAllResetsCamera(t *testing.T) {
	e, sink, _ := newTestEngine(t, DefaultConfig())

	require.NoError(t, e.OnSos(core.AlertEvent{CarID: 1, Message: "a"}))
	require.NoError(t, e.OnWarning(core.AlertEvent{CarID: 2, Message: "w"}))
	_, err := e.SetManualCenter(1, 1)
	require.NoError(t, err)

	e.DismissAll()

	v := e.View()
	assert.Empty(t, v.SOS)
	assert.Len(t, v.Warnings, 1)
	assert.Equal(t, core.CameraState{Center: camera.DefaultHome, Follow: true}, v.Camera)
	assert.Equal(t, 1, sink.cancelled)
}

func TestEngine_DismissWarning(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.OnWarning(core.AlertEvent{CarID: 2, Message: "w"}))

	ok, err := e.DismissWarning("2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.DismissWarning(2)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = e.DismissWarning(nil)
	assert.Error(t, err)
}

func TestEngine_FocusVehicleAndTrack(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())
	e.ApplyPositions([]core.RawPositionEvent{pos(1, 3, 4), pos(2, 5, 6)})

	st, err := e.FocusVehicle(2)
	require.NoError(t, err)
	assert.Equal(t, core.CameraState{Center: core.Position{Lat: 5, Lng: 6}}, st)

	_, err = e.FocusVehicle(9)
	assert.ErrorIs(t, err, ErrUnknownVehicle)

	e.Tracks().Set(core.Track{ID: 1, Name: "Main", Latitude: 11.1, Longitude: 76.9, Zoom: 17})
	st, err = e.FocusTrack("main")
	require.NoError(t, err)
	assert.Equal(t, core.Position{Lat: 11.1, Lng: 76.9}, st.Center)

	_, err = e.FocusTrack("nope")
	assert.ErrorIs(t, err, ErrUnknownTrack)
}

func TestEngine_ToggleAndResetCamera(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())
	e.ApplyPositions([]core.RawPositionEvent{pos(1, 2, 2)})

	st := e.ToggleFollow()
	assert.False(t, st.Follow)
	e.ApplyPositions([]core.RawPositionEvent{pos(1, 4, 4)})
	assert.Equal(t, core.Position{Lat: 2, Lng: 2}, e.Camera().Center)

	st = e.ToggleFollow()
	assert.Equal(t, core.Position{Lat: 4, Lng: 4}, st.Center)

	e.SetManualCenter(0, 0)
	st = e.ResetCamera()
	assert.True(t, st.Follow)
	assert.Equal(t, core.Position{Lat: 4, Lng: 4}, st.Center)
}

func straight(n int) core.Polyline {
	poly := make(core.Polyline, n)
	for i := range poly {
		poly[i] = core.Position{Lat: 0, Lng: float64(i)}
	}
	return poly
}

func TestEngine_ConstrainedMotion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Constrained = true
	e, _, sched := newTestEngine(t, cfg)

	// arrives before the polyline and is replayed on load
	ev := pos(1, 0.1, 2.2)
	ev.Speed = ptr(10)
	assert.Equal(t, 1, e.ApplyPositions([]core.RawPositionEvent{ev}))
	assert.Empty(t, e.Vehicles())

	require.NoError(t, e.LoadPolyline(straight(20)))
	v, err := e.Vehicle(1)
	require.NoError(t, err)
	assert.Equal(t, core.Position{Lat: 0, Lng: 2}, v.Position)

	ev = pos(1, 0, 5)
	ev.Speed = ptr(10)
	e.ApplyPositions([]core.RawPositionEvent{ev})
	v, _ = e.Vehicle(1)
	assert.Equal(t, 10.0, v.Speed)
	assert.Equal(t, core.Position{Lat: 0, Lng: 2}, v.Position, "walk has not ticked yet")

	sched.Advance(3 * time.Second)
	v, _ = e.Vehicle(1)
	assert.Equal(t, core.Position{Lat: 0, Lng: 5}, v.Position)

	trail, _ := e.Trail(1)
	assert.Equal(t, []core.Position{{Lng: 2}, {Lng: 3}, {Lng: 4}, {Lng: 5}}, trail)
	assert.Equal(t, core.Position{Lat: 0, Lng: 5}, e.Camera().Center)

	assert.Error(t, e.LoadPolyline(straight(3)))
	assert.Len(t, e.Polyline(), 20)
}

func TestEngine_ConstrainedSupersession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Constrained = true
	e, _, sched := newTestEngine(t, cfg)
	require.NoError(t, e.LoadPolyline(straight(20)))

	move := func(lng float64) {
		ev := pos(1, 0, lng)
		ev.Speed = ptr(10)
		e.ApplyPositions([]core.RawPositionEvent{ev})
	}
	move(3)
	move(10)
	sched.Advance(2 * time.Second)
	move(6)
	sched.Advance(time.Minute)

	trail, _ := e.Trail(1)
	assert.Equal(t, []core.Position{{Lng: 3}, {Lng: 4}, {Lng: 5}, {Lng: 6}}, trail)
}

func TestEngine_ConstrainedRedeliveryStillAdvances(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Constrained = true
	e, _, sched := newTestEngine(t, cfg)
	require.NoError(t, e.LoadPolyline(straight(20)))

	ev := pos(1, 0, 0)
	ev.Speed = ptr(10)
	e.ApplyPositions([]core.RawPositionEvent{ev})

	ev = pos(1, 0, 10)
	ev.Speed = ptr(10)
	for range 10 {
		e.ApplyPositions([]core.RawPositionEvent{ev})
		sched.Advance(900 * time.Millisecond)
	}

	v, err := e.Vehicle(1)
	require.NoError(t, err)
	assert.Equal(t, core.Position{Lat: 0, Lng: 9}, v.Position)
	trail, _ := e.Trail(1)
	assert.Len(t, trail, 10)
}

func TestEngine_SubscribeAndUnsubscribe(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())
	var count int
	unsubscribe := e.Subscribe(func(core.View) { count++ })

	e.ApplyPositions([]core.RawPositionEvent{pos(1, 1, 1)})
	e.ToggleFollow()
	assert.Equal(t, 2, count)

	unsubscribe()
	e.ApplyPositions([]core.RawPositionEvent{pos(1, 2, 2)})
	assert.Equal(t, 2, count)
}

func TestEngine_RecorderSeesAlerts(t *testing.T) {
	rec := &recordingRecorder{}
	e, _, _ := newTestEngine(t, DefaultConfig(), WithRecorder(rec))

	require.NoError(t, e.OnSos(core.AlertEvent{CarID: 1, Message: "a"}))
	require.Len(t, rec.alerts, 1)
	assert.Equal(t, core.AlertSOS, rec.alerts[0].Kind)
	assert.Equal(t, epoch, rec.alerts[0].RaisedAt)
}

func TestEngine_Close(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Constrained = true
	e, _, sched := newTestEngine(t, cfg)
	require.NoError(t, e.LoadPolyline(straight(10)))
	e.ApplyPositions([]core.RawPositionEvent{pos(1, 0, 0)})
	ev := pos(1, 0, 5)
	ev.Speed = ptr(10)
	e.ApplyPositions([]core.RawPositionEvent{ev})
	require.NoError(t, e.OnWarning(core.AlertEvent{CarID: 1, Message: "w"}))

	e.Close()
	assert.Equal(t, 0, sched.Pending())
}
