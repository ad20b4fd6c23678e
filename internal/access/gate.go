// Package access decides whether a caller may play or read a book.
package access

import "github.com/mikey-austin/summarist/pkg/summa"

// Allow reports whether the book may be played or read under the given
// subscription state.
func Allow(book summa.Book, status summa.SubscriptionStatus) bool {
	return !book.AccessRestricted() || status.IsSubscribed
}

// Decision is the outcome of a gate check.
type Decision int

const (
	// Granted lets the requested action proceed.
	Granted Decision = iota
	// Upgrade redirects the caller to the plan selection flow.
	Upgrade
)

// Decide returns Granted or Upgrade.
func Decide(book summa.Book, status summa.SubscriptionStatus) Decision {
	if Allow(book, status) {
		return Granted
	}
	return Upgrade
}

func (d Decision) String() string {
	if d == Granted {
		return "granted"
	}
	return "upgrade"
}
