package notify_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bfree-trainer/bfree/internal/device"
	"github.com/bfree-trainer/bfree/internal/notify"
	"github.com/bfree-trainer/bfree/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type MultiplexerTestSuite struct {
	testutils.PlatformSuite

	mux *notify.Multiplexer
	ch  *testutils.FakeChannel
}

func (s *MultiplexerTestSuite) SetupTest() {
	s.WithPeripheral(testutils.NewPeripheralBuilder("Kickr", "AA:BB:CC:DD:EE:01").
		WithService(device.ServiceCyclingPower).
		WithCharacteristic(device.CharacteristicCyclingPower, "read,notify", []byte{0x00, 0x00, 0x64, 0x00}).
		WithService(device.ServiceBattery).
		WithCharacteristic(device.CharacteristicBatteryLevel, "read", []byte{42}).
		WithService(device.ServiceHeartRate).
		WithCharacteristic(device.CharacteristicHeartRate, "notify", nil))
	s.PlatformSuite.SetupTest()

	s.mux = notify.New(s.Logger)
	handle := &device.Handle{Address: "AA:BB:CC:DD:EE:01"}
	ch, err := s.Platform.Open(context.Background(), handle)
	s.Require().NoError(err)
	s.ch = ch.(*testutils.FakeChannel)
}

func (s *MultiplexerTestSuite) TearDownTest() {
	_ = s.mux.UnsubscribeAll(s.ch)
	s.PlatformSuite.TearDownTest()
}

// recorder collects listener values
type recorder struct {
	mu     sync.Mutex
	values [][]byte
	got    chan []byte
}

func newRecorder() *recorder {
	return &recorder{got: make(chan []byte, 256)}
}

func (r *recorder) listen(value []byte) {
	r.mu.Lock()
	r.values = append(r.values, value)
	r.mu.Unlock()
	r.got <- value
}

func (r *recorder) snapshot() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.values...)
}

func (s *MultiplexerTestSuite) TestSubscribeDeliversInitialValueFirst() {
	// GOAL: Verify the current value is delivered before any pushed value
	//
	// TEST SCENARIO: subscribe readable+notify characteristic → push values → initial value first, then pushes in order

	rec := newRecorder()
	sub, err := s.mux.Subscribe(context.Background(), s.ch, "cycling_power", "cycling_power_measurement", rec.listen)
	s.Require().NoError(err, "MUST subscribe")
	s.Assert().False(sub.Static, "notifiable characteristic MUST NOT be static")
	s.Assert().Equal(device.ServiceCyclingPower, sub.Service, "service MUST be normalized")
	s.Assert().Equal(device.CharacteristicCyclingPower, sub.Characteristic, "characteristic MUST be normalized")

	for i := byte(1); i <= 5; i++ {
		s.Require().True(s.ch.Notify(device.ServiceCyclingPower, device.CharacteristicCyclingPower, []byte{0, 0, i, 0}))
	}

	s.Require().Eventually(func() bool { return sub.Delivered() == 6 }, s.Timeout, time.Millisecond)
	values := rec.snapshot()
	s.Assert().Equal([]byte{0x00, 0x00, 0x64, 0x00}, values[0], "initial read MUST be delivered first")
	for i := 1; i <= 5; i++ {
		s.Assert().Equal(byte(i), values[i][2], "pushed values MUST keep arrival order")
	}
}

func (s *MultiplexerTestSuite) TestSubscribeUnsupportedAndPartialCharacteristics() {
	// GOAL: Verify absent or partial characteristics are handled without failing the session
	//
	// TEST SCENARIO: absent → Unsupported error; read-only → static; notify-only → pushes only

	s.Run("absent service", func() {
		_, err := s.mux.Subscribe(context.Background(), s.ch, device.ServiceFitnessMachine, device.CharacteristicIndoorBikeData, func([]byte) {})

		s.Assert().ErrorIs(err, device.ErrUnsupported, "absent characteristic MUST be Unsupported")
		var notFound *device.NotFoundError
		s.Assert().ErrorAs(err, &notFound, "cause MUST be NotFoundError")
	})

	s.Run("read-only characteristic", func() {
		rec := newRecorder()
		sub, err := s.mux.Subscribe(context.Background(), s.ch, "battery_service", "battery_level", rec.listen)

		s.Require().NoError(err, "read-only characteristic MUST still subscribe")
		s.Assert().True(sub.Static, "read-only characteristic MUST be static")
		s.Assert().Equal([]byte{42}, testutils.Receive(s.T(), rec.got, s.Timeout), "initial value MUST be delivered")
	})

	s.Run("notify-only characteristic", func() {
		rec := newRecorder()
		sub, err := s.mux.Subscribe(context.Background(), s.ch, "heart_rate", "heart_rate_measurement", rec.listen)

		s.Require().NoError(err, "failed initial read MUST NOT prevent subscription")
		s.Assert().False(sub.Static)
		s.Require().True(s.ch.Notify(device.ServiceHeartRate, device.CharacteristicHeartRate, []byte{0x00, 72}))
		s.Assert().Equal([]byte{0x00, 72}, testutils.Receive(s.T(), rec.got, s.Timeout))
	})

	s.Assert().Len(s.mux.Active(s.ch), 2, "only supported characteristics MUST be active")
}

func (s *MultiplexerTestSuite) TestUnsubscribeAll() {
	// GOAL: Verify teardown removes every subscription and stops deliveries
	//
	// TEST SCENARIO: subscribe two characteristics → UnsubscribeAll → no handler registered → no further callbacks

	rec := newRecorder()
	_, err := s.mux.Subscribe(context.Background(), s.ch, device.ServiceCyclingPower, device.CharacteristicCyclingPower, rec.listen)
	s.Require().NoError(err)
	_, err = s.mux.Subscribe(context.Background(), s.ch, device.ServiceHeartRate, device.CharacteristicHeartRate, rec.listen)
	s.Require().NoError(err)
	s.Require().Equal(2, s.ch.SubscriptionCount())
	testutils.Receive(s.T(), rec.got, s.Timeout) // initial power value

	s.Require().NoError(s.mux.UnsubscribeAll(s.ch), "UnsubscribeAll MUST succeed")

	s.Assert().Zero(s.ch.SubscriptionCount(), "platform subscriptions MUST be removed")
	s.Assert().Empty(s.mux.Active(s.ch), "no subscription MUST remain active")
	delivered := len(rec.snapshot())
	s.Assert().False(s.ch.Notify(device.ServiceHeartRate, device.CharacteristicHeartRate, []byte{0, 60}))
	s.Assert().Equal(delivered, len(rec.snapshot()), "MUST NOT deliver after UnsubscribeAll")

	s.Run("idempotent", func() {
		s.Assert().NoError(s.mux.UnsubscribeAll(s.ch), "second UnsubscribeAll MUST be a no-op")
	})

	s.Run("closed channel", func() {
		_, err := s.mux.Subscribe(context.Background(), s.ch, device.ServiceHeartRate, device.CharacteristicHeartRate, rec.listen)
		s.Require().NoError(err)
		s.Require().NoError(s.ch.Close())

		s.Assert().NoError(s.mux.UnsubscribeAll(s.ch), "UnsubscribeAll MUST be safe on a closed channel")
	})
}

func (s *MultiplexerTestSuite) TestUnsubscribeAllWaitsForRunningListener() {
	// GOAL: Verify no listener runs after UnsubscribeAll returns
	//
	// TEST SCENARIO: listener blocked mid-delivery → UnsubscribeAll blocks → listener released → UnsubscribeAll returns after it

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished bool
	var mu sync.Mutex

	_, err := s.mux.Subscribe(context.Background(), s.ch, device.ServiceHeartRate, device.CharacteristicHeartRate, func([]byte) {
		close(entered)
		<-release
		mu.Lock()
		finished = true
		mu.Unlock()
	})
	s.Require().NoError(err)
	s.ch.Notify(device.ServiceHeartRate, device.CharacteristicHeartRate, []byte{0, 70})
	testutils.WaitClosed(s.T(), entered, s.Timeout)

	done := make(chan struct{})
	go func() {
		_ = s.mux.UnsubscribeAll(s.ch)
		close(done)
	}()

	select {
	case <-done:
		s.Fail("UnsubscribeAll MUST wait for the running listener")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	testutils.WaitClosed(s.T(), done, s.Timeout)
	mu.Lock()
	defer mu.Unlock()
	s.Assert().True(finished, "listener MUST have completed before UnsubscribeAll returned")
}

func (s *MultiplexerTestSuite) TestListenerPanicIsContained() {
	// GOAL: Verify a panicking listener loses only the value it panicked on
	//
	// TEST SCENARIO: listener panics on first value → 5 more pushes → all 5 delivered in order → UnsubscribeAll does not panic

	rec := newRecorder()
	var calls atomic.Int32
	sub, err := s.mux.Subscribe(context.Background(), s.ch, device.ServiceHeartRate, device.CharacteristicHeartRate, func(v []byte) {
		if calls.Add(1) == 1 {
			panic("decoder bug")
		}
		rec.listen(v)
	})
	s.Require().NoError(err)

	for bpm := byte(60); bpm <= 65; bpm++ {
		s.Require().True(s.ch.Notify(device.ServiceHeartRate, device.CharacteristicHeartRate, []byte{0, bpm}))
	}

	s.Require().Eventually(func() bool { return sub.Delivered() == 6 }, s.Timeout, time.Millisecond,
		"values after a panic MUST still be delivered")
	values := rec.snapshot()
	s.Require().Len(values, 5)
	for i, v := range values {
		s.Assert().Equal(byte(61+i), v[1], "delivery MUST continue in arrival order")
	}
	s.Assert().Equal(int32(6), calls.Load(), "each value MUST invoke the listener exactly once")

	s.Assert().NotPanics(func() { _ = s.mux.UnsubscribeAll(s.ch) })
}

func (s *MultiplexerTestSuite) TestSubscribeRejectsInvalidArguments() {
	_, err := s.mux.Subscribe(context.Background(), nil, device.ServiceHeartRate, device.CharacteristicHeartRate, func([]byte) {})
	s.Assert().ErrorIs(err, device.ErrNotConnected)

	_, err = s.mux.Subscribe(context.Background(), s.ch, device.ServiceHeartRate, device.CharacteristicHeartRate, nil)
	s.Assert().Error(err, "nil listener MUST be rejected")
}

func TestMultiplexerTestSuite(t *testing.T) {
	suite.Run(t, new(MultiplexerTestSuite))
}
