package vanet

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func assertValidReading(t *testing.T, r Reading) {
	assert.True(t, r.Velocity >= 0 && r.Velocity <= MaxVelocity, "velocity %v", r.Velocity)
	assert.True(t, r.Acceleration >= -MaxAcceleration && r.Acceleration <= MaxAcceleration, "acceleration %v", r.Acceleration)
	assert.True(t, r.Brake >= 0 && r.Brake <= MaxPedal, "brake %v", r.Brake)
	assert.True(t, r.Throttle >= 0 && r.Throttle <= MaxPedal, "throttle %v", r.Throttle)
	assert.False(t, r.Brake > 0 && r.Throttle > 0, "both pedals pressed")
	assert.True(t, r.Longitude >= -180 && r.Longitude <= 180, "longitude %v", r.Longitude)
	assert.True(t, r.Latitude >= -90 && r.Latitude <= 90, "latitude %v", r.Latitude)
}

func TestSimulatedSensorLead(t *testing.T) {
	s := NewSimulatedSensor(rand.New(rand.NewSource(7)))
	assertValidReading(t, s.Reading())

	for i := 0; i < 1000; i++ {
		s.Update(500*time.Millisecond, 0, 0)
		assertValidReading(t, s.Reading())
	}
}

func TestSimulatedSensorFollows(t *testing.T) {
	s := NewSimulatedSensor(rand.New(rand.NewSource(7)))
	before := s.Reading()

	s.Update(time.Second, 50, 2)
	r := s.Reading()
	assert.InDelta(t, 52, r.Velocity, 1e-9)
	assertValidReading(t, r)
	// heading north west
	assert.True(t, r.Latitude > before.Latitude || r.Latitude == 90)

	s.Update(time.Second, 40, -1)
	r = s.Reading()
	assert.InDelta(t, 39, r.Velocity, 1e-9)
	assert.InDelta(t, -13, r.Acceleration, 1e-9)
	assert.InDelta(t, MaxPedal*13/MaxAcceleration, r.Brake, 1e-9)
	assert.Zero(t, r.Throttle)

	// clamped to the physical limits
	s.Update(time.Second, MaxVelocity, MaxAcceleration)
	assertValidReading(t, s.Reading())
	assert.Equal(t, MaxVelocity, s.Reading().Velocity)
}

func TestSimulatedSensorZeroDelta(t *testing.T) {
	s := NewSimulatedSensor(rand.New(rand.NewSource(7)))
	before := s.Reading()
	s.Update(0, 80, 3)
	assert.Equal(t, before, s.Reading())
}

func TestWrap(t *testing.T) {
	assert.Equal(t, -170.0, wrap(190, 180))
	assert.Equal(t, 170.0, wrap(-190, 180))
	assert.Equal(t, 10.0, wrap(10, 180))
}
