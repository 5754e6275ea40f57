// Package decode turns raw GATT characteristic values into measurements.
// Only the standard Bluetooth SIG layouts used by cycling sensors are
// covered; vendor streams are passed through as hex.
package decode

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// Func decodes one characteristic value
type Func func(data []byte) (any, error)

// ErrTruncated is returned when a value is shorter than its flags announce
var ErrTruncated = errors.New("value truncated")

func need(data []byte, n int, what string) error {
	if len(data) < n {
		return fmt.Errorf("%s: %w (have %d bytes, need %d)", what, ErrTruncated, len(data), n)
	}
	return nil
}

// Battery decodes Battery Level (0x2A19) into a percentage
func Battery(data []byte) (any, error) {
	if err := need(data, 1, "battery level"); err != nil {
		return nil, err
	}
	level := int(data[0])
	if level > 100 {
		return nil, fmt.Errorf("battery level %d out of range", level)
	}
	return level, nil
}

// HeartRate is a decoded Heart Rate Measurement (0x2A37)
type HeartRate struct {
	BPM            int       `json:"bpm"`
	SensorContact  *bool     `json:"sensor_contact,omitempty"`
	EnergyExpended *int      `json:"energy_expended,omitempty"` // kJ
	RRIntervals    []float64 `json:"rr_intervals,omitempty"`    // seconds
}

const (
	hrFlagUint16        = 1 << 0
	hrFlagContactStatus = 1 << 1
	hrFlagContactSupp   = 1 << 2
	hrFlagEnergy        = 1 << 3
	hrFlagRR            = 1 << 4
)

// HeartRateMeasurement decodes Heart Rate Measurement values
func HeartRateMeasurement(data []byte) (any, error) {
	if err := need(data, 2, "heart rate"); err != nil {
		return nil, err
	}
	flags := data[0]
	pos := 1

	var hr HeartRate
	if flags&hrFlagUint16 != 0 {
		if err := need(data, pos+2, "heart rate"); err != nil {
			return nil, err
		}
		hr.BPM = int(binary.LittleEndian.Uint16(data[pos:]))
		pos += 2
	} else {
		hr.BPM = int(data[pos])
		pos++
	}

	if flags&hrFlagContactSupp != 0 {
		contact := flags&hrFlagContactStatus != 0
		hr.SensorContact = &contact
	}

	if flags&hrFlagEnergy != 0 {
		if err := need(data, pos+2, "energy expended"); err != nil {
			return nil, err
		}
		energy := int(binary.LittleEndian.Uint16(data[pos:]))
		hr.EnergyExpended = &energy
		pos += 2
	}

	if flags&hrFlagRR != 0 {
		for ; pos+1 < len(data); pos += 2 {
			rr := binary.LittleEndian.Uint16(data[pos:])
			hr.RRIntervals = append(hr.RRIntervals, float64(rr)/1024)
		}
	}

	return hr, nil
}

// Power is a decoded Cycling Power Measurement (0x2A63)
type Power struct {
	Watts            int     `json:"watts"`
	PedalBalance     *int    `json:"pedal_balance,omitempty"` // percent
	CrankRevolutions *uint16 `json:"crank_revolutions,omitempty"`
	CrankEventTime   *uint16 `json:"crank_event_time,omitempty"` // 1/1024 s
}

const (
	cpFlagBalance     = 1 << 0
	cpFlagTorque      = 1 << 2
	cpFlagWheelRevs   = 1 << 4
	cpFlagCrankRevs   = 1 << 5
	cpWheelRevsLength = 6
)

// CyclingPowerMeasurement decodes Cycling Power Measurement values
func CyclingPowerMeasurement(data []byte) (any, error) {
	if err := need(data, 4, "cycling power"); err != nil {
		return nil, err
	}
	flags := binary.LittleEndian.Uint16(data)
	p := Power{Watts: int(int16(binary.LittleEndian.Uint16(data[2:])))}
	pos := 4

	if flags&cpFlagBalance != 0 {
		if err := need(data, pos+1, "pedal power balance"); err != nil {
			return nil, err
		}
		balance := int(data[pos]) / 2
		p.PedalBalance = &balance
		pos++
	}
	if flags&cpFlagTorque != 0 {
		pos += 2
	}
	if flags&cpFlagWheelRevs != 0 {
		pos += cpWheelRevsLength
	}
	if flags&cpFlagCrankRevs != 0 {
		if err := need(data, pos+4, "crank revolutions"); err != nil {
			return nil, err
		}
		revs := binary.LittleEndian.Uint16(data[pos:])
		at := binary.LittleEndian.Uint16(data[pos+2:])
		p.CrankRevolutions = &revs
		p.CrankEventTime = &at
	}

	return p, nil
}

// CSC is a decoded CSC Measurement (0x2A5B)
type CSC struct {
	WheelRevolutions *uint32 `json:"wheel_revolutions,omitempty"`
	WheelEventTime   *uint16 `json:"wheel_event_time,omitempty"` // 1/1024 s
	CrankRevolutions *uint16 `json:"crank_revolutions,omitempty"`
	CrankEventTime   *uint16 `json:"crank_event_time,omitempty"` // 1/1024 s
}

const (
	cscFlagWheel = 1 << 0
	cscFlagCrank = 1 << 1
)

// CSCMeasurement decodes CSC Measurement values
func CSCMeasurement(data []byte) (any, error) {
	if err := need(data, 1, "csc"); err != nil {
		return nil, err
	}
	flags := data[0]
	pos := 1

	var m CSC
	if flags&cscFlagWheel != 0 {
		if err := need(data, pos+6, "wheel revolutions"); err != nil {
			return nil, err
		}
		revs := binary.LittleEndian.Uint32(data[pos:])
		at := binary.LittleEndian.Uint16(data[pos+4:])
		m.WheelRevolutions = &revs
		m.WheelEventTime = &at
		pos += 6
	}
	if flags&cscFlagCrank != 0 {
		if err := need(data, pos+4, "crank revolutions"); err != nil {
			return nil, err
		}
		revs := binary.LittleEndian.Uint16(data[pos:])
		at := binary.LittleEndian.Uint16(data[pos+2:])
		m.CrankRevolutions = &revs
		m.CrankEventTime = &at
	}

	return m, nil
}

// Cadence returns crank rpm between two measurements. ok is false when
// either lacks crank data or no time has passed.
func Cadence(prev, cur CSC) (rpm float64, ok bool) {
	if prev.CrankRevolutions == nil || cur.CrankRevolutions == nil {
		return 0, false
	}
	// Both counters wrap at 16 bits
	revs := *cur.CrankRevolutions - *prev.CrankRevolutions
	ticks := *cur.CrankEventTime - *prev.CrankEventTime
	if ticks == 0 {
		return 0, false
	}
	return float64(revs) * 60 * 1024 / float64(ticks), true
}

// Raw renders a value as lowercase hex
func Raw(data []byte) (any, error) {
	return hex.EncodeToString(data), nil
}
