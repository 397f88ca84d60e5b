package engine

import (
	"time"

	"github.com/google/uuid"
)

// Clock is the Clock & Identifier source (component A): the engine's
// only path to wall-clock time and unique IDs, so that tests can
// substitute a fake and drive the timeout monitor / cleanup loop
// deterministically.
type Clock interface {
	Now() time.Time
	NewID() string
}

// SystemClock is the production Clock, backed by time.Now and
// google/uuid's random (v4) generator.
type SystemClock struct{}

func NewSystemClock() SystemClock { return SystemClock{} }

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) NewID() string { return uuid.NewString() }

// FakeClock is a manually advanced Clock for tests. Zero value starts
// at the zero time.Time (January 1, year 1 UTC), not the Unix epoch.
type FakeClock struct {
	now    time.Time
	nextID int
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (f *FakeClock) Now() time.Time { return f.now }

func (f *FakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *FakeClock) NewID() string {
	f.nextID++
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(f.nextID >> 8), byte(f.nextID)}).String()
}
