//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package clock abstracts the time source so that decisions can be evaluated at a fixed instant.
package clock

import "time"

// Clock yields the current instant.
type Clock interface {
	Now() time.Time
}

type system struct{}

func (system) Now() time.Time { return time.Now() }

// System returns the wall clock.
func System() Clock { return system{} }

// Fixed always returns the same instant.
type Fixed time.Time

// Now returns the fixed instant.
func (f Fixed) Now() time.Time { return time.Time(f) }

// At returns a Fixed clock for t.
func At(t time.Time) Clock { return Fixed(t) }
