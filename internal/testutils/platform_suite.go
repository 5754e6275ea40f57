package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// PlatformSuite is a testify suite backed by a FakePlatform and a
// ManualSleeper, so no test waits on the radio or on the backoff clock.
//
// Custom peripherals are configured before calling the parent SetupTest:
//
//	func (s *SessionSuite) SetupTest() {
//	    s.WithPeripheral(testutils.PowerMeter("Stages", "AA:BB:CC:DD:EE:01"))
//	    s.PlatformSuite.SetupTest()
//	}
//
// Without configuration the platform holds a single heart-rate strap.
type PlatformSuite struct {
	suite.Suite

	Helper  *TestHelper
	Logger  *logrus.Logger
	Timeout time.Duration

	Platform *FakePlatform
	Sleeper  *ManualSleeper

	builders []*PeripheralBuilder
}

// SetupSuite initializes the helper and logger once
func (s *PlatformSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.Timeout = DefaultTimeout
}

// SetupTest builds a fresh platform from the configured peripherals
func (s *PlatformSuite) SetupTest() {
	if len(s.builders) == 0 {
		s.builders = append(s.builders, HeartRateMonitor("HRM-Pro", "AA:BB:CC:DD:EE:FF"))
	}

	peripherals := make([]*FakePeripheral, 0, len(s.builders))
	for _, b := range s.builders {
		peripherals = append(peripherals, b.Build())
	}

	s.Platform = NewFakePlatform(peripherals...)
	s.Sleeper = NewManualSleeper()
	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest drops the peripheral configuration
func (s *PlatformSuite) TearDownTest() {
	s.builders = nil
}

// WithPeripheral adds a peripheral to the next platform
func (s *PlatformSuite) WithPeripheral(b *PeripheralBuilder) *PlatformSuite {
	s.builders = append(s.builders, b)
	return s
}
