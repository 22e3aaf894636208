package codec

import (
	"bytes"
	"encoding/json"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jd3nn1s/vanet"
	"github.com/pkg/errors"
)

const (
	keySequence     = "SEQ"
	keySource       = "SRC"
	keyDestination  = "DST"
	keySourceName   = "ORG"
	keyDestName     = "VEH"
	keyChecksum     = "CHK"
	keyClock        = "CLK"
	keyGPS          = "GPS"
	keyBrake        = "BRK"
	keyThrottle     = "GAS"
	keyAcceleration = "ACC"
	keyVelocity     = "VEL"
	keyRange        = "RNG"

	// stands in for the checksum while it is being computed
	checksumSentinel = "0"
)

var frameKeys = []string{
	keySequence, keySource, keyDestination, keySourceName, keyDestName,
	keyChecksum, keyClock, keyGPS, keyBrake, keyThrottle, keyAcceleration,
	keyVelocity, keyRange,
}

// to allow testing
var now = time.Now

type Position struct {
	Longitude float64
	Latitude  float64
}

// Frame is one telemetry packet. SourceAddr/DestAddr name the logical
// endpoints, which may differ from the socket level next hop.
type Frame struct {
	Sequence   int
	SourceAddr string
	DestAddr   string
	SourceName string
	DestName   string
	Position   Position

	Velocity     float64
	Acceleration float64
	Brake        float64
	Throttle     float64

	Timestamp time.Time
	Range     float64
	Checksum  int
}

// NewFrame fills the sensor derived fields of a frame from a reading.
func NewFrame(seq int, src, dst vanet.Vehicle, r vanet.Reading, transmissionRange float64) *Frame {
	return &Frame{
		Sequence:   seq,
		SourceAddr: src.Address,
		DestAddr:   dst.Address,
		SourceName: src.Name,
		DestName:   dst.Name,
		Position: Position{
			Longitude: r.Longitude,
			Latitude:  r.Latitude,
		},
		Velocity:     r.Velocity,
		Acceleration: r.Acceleration,
		Brake:        r.Brake,
		Throttle:     r.Throttle,
		Range:        transmissionRange,
	}
}

// Encode stamps f with the current time and its checksum and returns the
// wire representation.
func Encode(f *Frame) []byte {
	f.Timestamp = now()
	values := map[string]string{
		keySequence:     strconv.Itoa(f.Sequence),
		keySource:       f.SourceAddr,
		keyDestination:  f.DestAddr,
		keySourceName:   f.SourceName,
		keyDestName:     f.DestName,
		keyChecksum:     checksumSentinel,
		keyClock:        formatClock(f.Timestamp),
		keyGPS:          formatGPS(f.Position),
		keyBrake:        formatFloat(f.Brake),
		keyThrottle:     formatFloat(f.Throttle),
		keyAcceleration: formatFloat(f.Acceleration),
		keyVelocity:     formatFloat(f.Velocity),
		keyRange:        formatFloat(f.Range),
	}
	text := render(values)
	f.Checksum = checksum(text)
	values[keyChecksum] = strconv.Itoa(f.Checksum)
	return []byte(render(values))
}

func render(values map[string]string) string {
	var sb strings.Builder
	for i, k := range frameKeys {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(values[k])
	}
	return sb.String()
}

func checksum(text string) int {
	sum := 0
	for _, r := range text {
		sum += int(r)
	}
	return sum
}

// Decoder turns datagrams into frames. The zero value accepts any checksum.
type Decoder struct {
	VerifyChecksum bool
}

func Decode(b []byte) (*Frame, error) {
	return Decoder{}.Decode(b)
}

func (d Decoder) Decode(b []byte) (*Frame, error) {
	values, err := parseLines(b)
	if err != nil {
		return nil, err
	}
	for _, k := range frameKeys {
		if _, ok := values[k]; !ok {
			return nil, malformed("missing field %s", k)
		}
	}

	f := &Frame{
		SourceName: values[keySourceName],
		DestName:   values[keyDestName],
	}
	if f.Sequence, err = strconv.Atoi(values[keySequence]); err != nil {
		return nil, malformed("bad sequence %q", values[keySequence])
	}
	if f.Sequence < 0 || f.Sequence > vanet.MaxSequence {
		return nil, malformed("sequence %d out of range", f.Sequence)
	}
	if f.SourceAddr, err = parseAddr(values[keySource]); err != nil {
		return nil, err
	}
	if f.DestAddr, err = parseAddr(values[keyDestination]); err != nil {
		return nil, err
	}
	if f.Checksum, err = strconv.Atoi(values[keyChecksum]); err != nil {
		return nil, malformed("bad checksum %q", values[keyChecksum])
	}
	if f.Timestamp, err = parseClock(values[keyClock]); err != nil {
		return nil, err
	}
	if f.Position, err = parseGPS(values[keyGPS]); err != nil {
		return nil, err
	}

	fields := []struct {
		key      string
		dst      *float64
		min, max float64
	}{
		{keyBrake, &f.Brake, 0, vanet.MaxPedal},
		{keyThrottle, &f.Throttle, 0, vanet.MaxPedal},
		{keyAcceleration, &f.Acceleration, -vanet.MaxAcceleration, vanet.MaxAcceleration},
		{keyVelocity, &f.Velocity, 0, vanet.MaxVelocity},
		{keyRange, &f.Range, 0, math.MaxFloat64},
	}
	for _, field := range fields {
		v, err := parseRanged(field.key, values[field.key], field.min, field.max)
		if err != nil {
			return nil, err
		}
		*field.dst = v
	}

	if d.VerifyChecksum {
		if err := VerifyChecksum(b); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// VerifyChecksum recomputes the checksum of an encoded frame and compares it
// with the CHK field.
func VerifyChecksum(b []byte) error {
	lines := strings.Split(string(b), "\n")
	claimed := -1
	for i, line := range lines {
		k, v, ok := strings.Cut(line, ": ")
		if !ok || k != keyChecksum {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return malformed("bad checksum %q", v)
		}
		claimed = n
		lines[i] = keyChecksum + ": " + checksumSentinel
	}
	if claimed < 0 {
		return malformed("missing field %s", keyChecksum)
	}
	if actual := checksum(strings.Join(lines, "\n")); actual != claimed {
		return malformed("checksum mismatch: frame says %d, computed %d", claimed, actual)
	}
	return nil
}

func parseLines(b []byte) (map[string]string, error) {
	values := make(map[string]string, len(frameKeys))
	for _, line := range bytes.Split(b, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		k, v, ok := strings.Cut(string(line), ":")
		if !ok {
			return nil, malformed("line without key: %q", line)
		}
		values[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return values, nil
}

// parseAddr only accepts dotted quad IPv4 host addresses.
func parseAddr(s string) (string, error) {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil || strings.Contains(s, ":") {
		return "", malformed("invalid address %q", s)
	}
	if ip.IsUnspecified() || ip.Equal(net.IPv4bcast) {
		return "", malformed("address %q is not a vehicle", s)
	}
	return s, nil
}

func parseRanged(key, s string, min, max float64) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, malformed("bad %s value %q", key, s)
	}
	// written to also reject NaN
	if !(v >= min && v <= max) {
		return 0, malformed("%s value %v outside [%v, %v]", key, v, min, max)
	}
	return v, nil
}

func parseGPS(s string) (Position, error) {
	var coords []float64
	if err := json.Unmarshal([]byte(s), &coords); err != nil || len(coords) != 2 {
		return Position{}, malformed("bad GPS value %q", s)
	}
	lon, lat := coords[0], coords[1]
	if !(lon >= -180 && lon <= 180) || !(lat >= -90 && lat <= 90) {
		return Position{}, malformed("GPS position [%v, %v] out of range", lon, lat)
	}
	return Position{Longitude: lon, Latitude: lat}, nil
}

func parseClock(s string) (time.Time, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}, malformed("bad clock value %q", s)
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)), nil
}

func formatClock(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', 6, 64)
}

func formatGPS(p Position) string {
	b, _ := json.Marshal([]float64{p.Longitude, p.Latitude})
	return string(b)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func malformed(format string, args ...interface{}) error {
	return errors.Wrapf(vanet.ErrMalformedFrame, format, args...)
}
