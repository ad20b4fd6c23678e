package access

import (
	"testing"

	"github.com/mikey-austin/summarist/pkg/summa"
)

func TestAllow(t *testing.T) {
	restricted := summa.Book{ID: "1", SubscriptionRequired: true}
	open := summa.Book{ID: "2"}

	tests := []struct {
		book   summa.Book
		status summa.SubscriptionStatus
		want   bool
	}{
		{restricted, summa.SubscriptionStatus{IsSubscribed: false}, false},
		{restricted, summa.SubscriptionStatus{IsSubscribed: true, Plan: summa.PlanPremium}, true},
		{open, summa.SubscriptionStatus{IsSubscribed: false}, true},
		{open, summa.SubscriptionStatus{IsSubscribed: true}, true},
	}
	for _, test := range tests {
		if got := Allow(test.book, test.status); got != test.want {
			t.Fatalf("book %s subscribed=%v: got %v", test.book.ID, test.status.IsSubscribed, got)
		}
	}
}

func TestDecide(t *testing.T) {
	book := summa.Book{ID: "1", SubscriptionRequired: true}
	if d := Decide(book, summa.SubscriptionStatus{}); d != Upgrade || d.String() != "upgrade" {
		t.Fatalf("expected upgrade, got %v", d)
	}
	if d := Decide(book, summa.SubscriptionStatus{IsSubscribed: true}); d != Granted {
		t.Fatalf("expected granted, got %v", d)
	}
}
