package catalog

import "github.com/mikey-austin/summarist/pkg/summa"

// ForYou is the home view: one featured book and two capped rows.
type ForYou struct {
	Selected    *summa.Book
	Recommended []summa.Book
	Suggested   []summa.Book
}

// ForYou builds the home view from the last good segment rows.
func (s *Store) ForYou() ForYou {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view := ForYou{
		Recommended: limit(s.rows[summa.SegmentRecommended], RowLimit),
		Suggested:   limit(s.rows[summa.SegmentSuggested], RowLimit),
	}
	if selected := s.rows[summa.SegmentSelected]; len(selected) > 0 {
		book := selected[0]
		view.Selected = &book
	}
	return view
}

func limit(books []summa.Book, n int) []summa.Book {
	if len(books) > n {
		books = books[:n]
	}
	return append([]summa.Book(nil), books...)
}
