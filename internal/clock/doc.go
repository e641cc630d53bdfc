// Package clock provides an injectable time source.
//
// Components that tick, wait or time out (the submission loop, relay
// subscriptions, the relay's idle purge) take a Clock instead of calling
// the time package directly. Production code passes Real(); tests pass a
// FakeClock and drive it with WaitForTimers and Advance:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	loop := submission.New(submission.Config{Clock: c, ...})
//	loop.Start(ctx)
//	c.WaitForTimers(1)             // the loop's ticker is registered
//	c.Advance(500 * time.Millisecond) // exactly one tick
package clock
