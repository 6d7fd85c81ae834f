package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srec-ev/tracker/pkg/core"
)

func p(lat, lng float64) core.Position { return core.Position{Lat: lat, Lng: lng} }

func TestRecompute(t *testing.T) {
	manual := p(5, 5)
	prev := p(7, 7)

	tests := []struct {
		name      string
		positions []core.Position
		follow    bool
		want      core.Position
	}{
		{"follow off keeps manual", []core.Position{p(1, 1)}, false, manual},
		{"follow off no vehicles", nil, false, manual},
		{"single vehicle", []core.Position{p(1, 2)}, true, p(1, 2)},
		{"centroid", []core.Position{p(0, 0), p(2, 2)}, true, p(1, 1)},
		{"centroid of three", []core.Position{p(0, 0), p(3, 0), p(0, 3)}, true, p(1, 1)},
		{"empty fleet keeps previous", nil, true, prev},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Recompute(tt.positions, tt.follow, manual, prev))
		})
	}
}

func TestController_FollowsFleet(t *testing.T) {
	c := NewController(DefaultHome)

	assert.Equal(t, core.CameraState{Center: DefaultHome, Follow: true}, c.State())

	st := c.Update([]core.Position{p(0, 0), p(2, 2)})
	assert.Equal(t, p(1, 1), st.Center)

	st = c.Update(nil)
	assert.Equal(t, p(1, 1), st.Center, "empty fleet leaves center alone")
}

func TestController_ManualCenterSticks(t *testing.T) {
	c := NewController(DefaultHome)
	c.Update([]core.Position{p(0, 0), p(2, 2)})

	st := c.SetManualCenter(p(11.101040, 76.964291))
	assert.False(t, st.Follow)

	st = c.Update([]core.Position{p(4, 4), p(6, 6)})
	assert.Equal(t, p(11.101040, 76.964291), st.Center)
}

func TestController_ToggleFollow(t *testing.T) {
	c := NewController(DefaultHome)
	fleet := []core.Position{p(0, 0), p(2, 2)}
	c.Update(fleet)

	st := c.ToggleFollow(fleet)
	assert.False(t, st.Follow)
	assert.Equal(t, p(1, 1), st.Center)

	moved := []core.Position{p(4, 4), p(6, 6)}
	st = c.Update(moved)
	assert.Equal(t, p(1, 1), st.Center)

	st = c.ToggleFollow(moved)
	assert.True(t, st.Follow)
	assert.Equal(t, p(5, 5), st.Center)
}

func TestController_Reset(t *testing.T) {
	c := NewController(DefaultHome)
	c.SetManualCenter(p(3, 3))

	st := c.Reset(nil)
	assert.Equal(t, core.CameraState{Center: DefaultHome, Follow: true}, st)

	c.SetManualCenter(p(3, 3))
	st = c.Reset([]core.Position{p(1, 1)})
	assert.Equal(t, p(1, 1), st.Center)
	assert.Equal(t, DefaultHome, c.Home())
}
