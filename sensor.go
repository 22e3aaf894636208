package vanet

import (
	"math"
	"math/rand"
	"time"
)

const (
	MaxVelocity     = 300.0
	MaxAcceleration = 15.0
	MaxPedal        = 100.0

	// maximum acceleration produced by a fully pressed pedal, m/s^2
	pedalAcceleration = 10.0
	brakingForce      = 20.0
	throttleForce     = 15.0
	// probability of a pedal change on each lead update
	pedalChangeRate = 0.15
	metresPerDegree = 111000.0
)

// Vehicle identifies a fleet member on the network.
type Vehicle struct {
	Name    string
	Address string
}

type Reading struct {
	Longitude    float64
	Latitude     float64
	Velocity     float64
	Acceleration float64
	Brake        float64
	Throttle     float64
}

// Sensor produces the values carried in outbound telemetry. Update with a
// zero incoming velocity drives the vehicle on its own (lead), otherwise the
// vehicle follows the incoming values.
type Sensor interface {
	Update(delta time.Duration, incomingVelocity, incomingAcceleration float64)
	Reading() Reading
}

// SimulatedSensor is a random walk over pedal inputs. Brake and throttle are
// never both non-zero.
type SimulatedSensor struct {
	rng     *rand.Rand
	reading Reading
}

func NewSimulatedSensor(rng *rand.Rand) *SimulatedSensor {
	s := &SimulatedSensor{rng: rng}
	s.reading.Longitude = rng.Float64()*360 - 180
	s.reading.Latitude = rng.Float64()*180 - 90

	pedal := rng.Float64()*200 - 100
	if pedal < 0 {
		s.reading.Brake = -pedal
		s.reading.Acceleration = -pedalAcceleration * s.reading.Brake / MaxPedal
	} else {
		s.reading.Throttle = pedal
		s.reading.Acceleration = pedalAcceleration * s.reading.Throttle / MaxPedal
	}
	s.reading.Velocity = 30 + rng.Float64()*60
	return s
}

func (s *SimulatedSensor) Reading() Reading {
	return s.reading
}

func (s *SimulatedSensor) Update(delta time.Duration, incomingVelocity, incomingAcceleration float64) {
	dt := delta.Seconds()
	if dt <= 0 {
		return
	}
	r := &s.reading
	if incomingVelocity == 0 {
		s.pedalChange()
	} else {
		prev := r.Velocity
		r.Velocity = clamp(incomingVelocity+incomingAcceleration*dt, 0, MaxVelocity)
		r.Acceleration = clamp((r.Velocity-prev)/dt, -MaxAcceleration, MaxAcceleration)
		r.Brake, r.Throttle = 0, 0
		if r.Acceleration > 0 {
			r.Throttle = MaxPedal * r.Acceleration / MaxAcceleration
		} else if r.Acceleration < 0 {
			r.Brake = MaxPedal * -r.Acceleration / MaxAcceleration
		}
	}

	// travel north west at 45 degrees
	moved := r.Velocity / 3.6 * dt
	step := math.Sqrt(2*moved*moved) / 2 / metresPerDegree
	r.Longitude = wrap(r.Longitude-step, 180)
	r.Latitude = clamp(r.Latitude+step, -90, 90)
}

func (s *SimulatedSensor) pedalChange() {
	if s.rng.Float64() >= pedalChangeRate {
		return
	}
	r := &s.reading
	value := s.rng.Float64() * MaxPedal
	brake := s.rng.Float64()*20 < 1
	// keep speed within a sensible band
	if r.Velocity > 95 {
		brake = true
	} else if r.Velocity < 30 {
		brake = false
	}
	if brake {
		r.Brake, r.Throttle = value, 0
		r.Velocity -= brakingForce * value / MaxPedal
		r.Acceleration = -pedalAcceleration * value / MaxPedal
	} else {
		r.Throttle, r.Brake = value, 0
		r.Velocity += throttleForce * value / MaxPedal
		r.Acceleration = pedalAcceleration * value / MaxPedal
	}
	r.Velocity = clamp(r.Velocity, 0, MaxVelocity)
}

func clamp(v, min, max float64) float64 {
	return math.Max(min, math.Min(max, v))
}

func wrap(v, limit float64) float64 {
	for v > limit {
		v -= 2 * limit
	}
	for v < -limit {
		v += 2 * limit
	}
	return v
}
