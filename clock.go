package sdspi

import (
	"time"

	"github.com/go-sdspi/sdspi/internal/engine"
)

// Clock is the monotonic time source the engine needs for its deadlines.
type Clock = engine.Clock

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
