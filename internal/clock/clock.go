// Package clock abstracts time for components that schedule or expire work.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}
