package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bfree-trainer/bfree/internal/decode"
	"github.com/bfree-trainer/bfree/internal/registry"
	"github.com/bfree-trainer/bfree/internal/store"
	"github.com/bfree-trainer/bfree/internal/testutils"
	"github.com/stretchr/testify/assert"
)

func line(at time.Time, role, text string) string {
	return fmt.Sprintf("%s %-26s %s", at.Format(timeFormat), role, text)
}

func TestUpdatePrinter(t *testing.T) {
	// GOAL: Verify store updates are rendered as one line per change with measurements throttled
	//
	// TEST SCENARIO: status, device, battery and measurement updates at 1/s → device and unknown battery skipped, second measurement within 1s dropped

	at := time.Date(2026, 3, 1, 10, 11, 12, 0, time.UTC)
	var buf bytes.Buffer
	p := newUpdatePrinter(&buf, 1, false)

	updates := make(chan store.Update, 16)
	for _, u := range []store.Update{
		{Key: store.StatusKey("heart_rate"), Value: registry.Status{State: "discovering", Message: "Searching for devices", Severity: registry.SeverityInfo}, Time: at},
		{Key: store.DeviceKey("heart_rate"), Value: "HRM-Pro", Time: at},
		{Key: store.BatteryKey("heart_rate"), Value: -1, Time: at},
		{Key: store.BatteryKey("heart_rate"), Value: 87, Time: at},
		{Key: store.StatusKey("heart_rate"), Value: registry.Status{State: "connected", Message: "Paired with HRM-Pro", Severity: registry.SeverityInfo}, Time: at},
		{Key: store.ValueKey("heart_rate"), Value: decode.HeartRate{BPM: 72}, Time: at},
		{Key: store.ValueKey("heart_rate"), Value: decode.HeartRate{BPM: 73}, Time: at.Add(100 * time.Millisecond)},
		{Key: store.ValueKey("smart_trainer"), Value: []byte{0xa4, 0x09, 0x4e}, Time: at},
		{Key: store.StatusKey("smart_trainer"), Value: registry.Status{State: "reconnecting", Message: "Connection lost, reconnecting to KICKR", Severity: registry.SeverityWarning}, Time: at.Add(time.Second)},
		{Key: store.ValueKey("heart_rate"), Value: decode.HeartRate{BPM: 74}, Time: at.Add(2 * time.Second)},
	} {
		updates <- u
	}
	close(updates)

	p.run(updates)

	expected := strings.Join([]string{
		line(at, "heart_rate", "Searching for devices"),
		line(at, "heart_rate", "battery 87%"),
		line(at, "heart_rate", "Paired with HRM-Pro"),
		line(at, "heart_rate", `{"bpm":72}`),
		line(at, "smart_trainer", "a4094e"),
		line(at.Add(time.Second), "smart_trainer", "Connection lost, reconnecting to KICKR"),
		line(at.Add(2*time.Second), "heart_rate", `{"bpm":74}`),
	}, "\n")
	testutils.NewTextAsserter(t).Assert(buf.String(), expected)
}

func TestUpdatePrinterCadence(t *testing.T) {
	// GOAL: Verify crank rate is computed from consecutive CSC readings, including throttled ones
	//
	// TEST SCENARIO: three CSC readings, the middle one throttled → first has no rpm, third shows rpm against the middle one

	csc := func(revs, ticks uint16) decode.CSC {
		return decode.CSC{CrankRevolutions: &revs, CrankEventTime: &ticks}
	}
	at := time.Date(2026, 3, 1, 10, 11, 12, 0, time.UTC)
	var buf bytes.Buffer
	p := newUpdatePrinter(&buf, 1, false)

	p.print(store.Update{Key: store.ValueKey("cycling_cadence"), Value: csc(10, 1024), Time: at})
	p.print(store.Update{Key: store.ValueKey("cycling_cadence"), Value: csc(11, 1792), Time: at.Add(500 * time.Millisecond)})
	p.print(store.Update{Key: store.ValueKey("cycling_cadence"), Value: csc(12, 2560), Time: at.Add(time.Second)})

	expected := strings.Join([]string{
		line(at, "cycling_cadence", `{"crank_revolutions":10,"crank_event_time":1024}`),
		line(at.Add(time.Second), "cycling_cadence", `{"crank_revolutions":12,"crank_event_time":2560} 80 rpm`),
	}, "\n")
	testutils.NewTextAsserter(t).Assert(buf.String(), expected)
}

func TestUpdatePrinterColors(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 11, 12, 0, time.UTC)
	var buf bytes.Buffer
	p := newUpdatePrinter(&buf, 1, true)

	p.print(store.Update{Key: store.StatusKey("cycling_power"), Value: registry.Status{State: "abandoned", Message: "Connection lost", Severity: registry.SeverityError}, Time: at})

	assert.Contains(t, buf.String(), "\x1b[", "errors MUST be colored on a terminal")
	assert.Contains(t, buf.String(), "Connection lost")
}

func TestFormatValue(t *testing.T) {
	contact := true
	ja := testutils.NewJSONAsserter(t).Strict()

	ja.Assert(formatValue(decode.HeartRate{BPM: 140, SensorContact: &contact, RRIntervals: []float64{0.5}}),
		`{"bpm":140,"sensor_contact":true,"rr_intervals":[0.5]}`)
	ja.Assert(formatValue(decode.Power{Watts: 250}), `{"watts":250}`)
	assert.Equal(t, "0a0b", formatValue([]byte{0x0a, 0x0b}))
	assert.Equal(t, "85", formatValue(85))
}
