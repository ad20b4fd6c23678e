package summa

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Segment names one of the catalog partitions served by the content API.
type Segment string

const (
	SegmentSelected    Segment = "selected"
	SegmentRecommended Segment = "recommended"
	SegmentSuggested   Segment = "suggested"
)

// Segments lists catalog partitions in merge precedence order.
var Segments = []Segment{SegmentSelected, SegmentRecommended, SegmentSuggested}

// Valid reports whether the segment is known.
func (s Segment) Valid() bool {
	switch s {
	case SegmentSelected, SegmentRecommended, SegmentSuggested:
		return true
	default:
		return false
	}
}

// Book is one catalog item as served by the content API.
type Book struct {
	ID                   string   `json:"id"`
	Author               string   `json:"author"`
	Title                string   `json:"title"`
	SubTitle             string   `json:"subTitle,omitempty"`
	ImageLink            string   `json:"imageLink,omitempty"`
	AudioLink            string   `json:"audioLink,omitempty"`
	TotalRating          int64    `json:"totalRating,omitempty"`
	AverageRating        float64  `json:"averageRating,omitempty"`
	KeyIdeas             int64    `json:"keyIdeas,omitempty"`
	Type                 string   `json:"type,omitempty"`
	Status               string   `json:"status,omitempty"`
	SubscriptionRequired bool     `json:"subscriptionRequired"`
	Summary              string   `json:"summary,omitempty"`
	Tags                 []string `json:"tags,omitempty"`
	BookDescription      string   `json:"bookDescription,omitempty"`
	AuthorDescription    string   `json:"authorDescription,omitempty"`
}

// AccessRestricted reports whether playing or reading requires a subscription.
func (b Book) AccessRestricted() bool {
	return b.SubscriptionRequired
}

// HasAudio reports whether the book references an audio resource.
func (b Book) HasAudio() bool {
	return strings.TrimSpace(b.AudioLink) != ""
}

// DecodeBook parses a single book record. An empty body, JSON null or a
// record without an id decodes to ok=false.
func DecodeBook(data []byte) (Book, bool, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return Book{}, false, nil
	}
	var book Book
	if err := json.Unmarshal(data, &book); err != nil {
		return Book{}, false, err
	}
	if strings.TrimSpace(book.ID) == "" {
		return Book{}, false, nil
	}
	return book, true, nil
}

// DecodeBooks parses a list of book records. A JSON null decodes to an empty list.
func DecodeBooks(data []byte) ([]Book, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, errors.New("empty body")
	}
	var books []Book
	if err := json.Unmarshal(data, &books); err != nil {
		return nil, err
	}
	if books == nil {
		books = []Book{}
	}
	return books, nil
}

// LibraryEntry is a persisted library document: the book snapshot plus the
// time it was saved or finished.
type LibraryEntry struct {
	Book
	SavedAt    *time.Time `json:"savedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Plan is a subscription plan type.
type Plan string

const (
	PlanNone        Plan = ""
	PlanPremium     Plan = "Premium"
	PlanPremiumPlus Plan = "Premium Plus"
)

// ParsePlan accepts a plan name or billing period.
func ParsePlan(value string) (Plan, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "premium", "monthly":
		return PlanPremium, nil
	case "premium plus", "premium-plus", "premiumplus", "yearly":
		return PlanPremiumPlus, nil
	default:
		return PlanNone, errors.New("plan must be premium|premium-plus (monthly|yearly)")
	}
}

// SubscriptionStatus is the subscription state held by the signed-in session.
type SubscriptionStatus struct {
	IsSubscribed bool `json:"isSubscribed"`
	Plan         Plan `json:"subscriptionType,omitempty"`
}

// Profile is the persisted user profile document.
type Profile struct {
	IsSubscribed     bool       `json:"isSubscribed"`
	SubscriptionType *string    `json:"subscriptionType"`
	SubscriptionDate *time.Time `json:"subscriptionDate,omitempty"`
	CancelledDate    *time.Time `json:"cancelledDate,omitempty"`
}

// Status converts a profile document to the in-session subscription state.
func (p Profile) Status() SubscriptionStatus {
	status := SubscriptionStatus{IsSubscribed: p.IsSubscribed}
	if p.IsSubscribed && p.SubscriptionType != nil {
		status.Plan = Plan(*p.SubscriptionType)
	}
	return status
}
