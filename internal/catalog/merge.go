package catalog

import "github.com/mikey-austin/summarist/pkg/summa"

// Snapshot is an identity-keyed view of the catalog. Order records merge order.
type Snapshot struct {
	Version int64
	order   []string
	items   map[string]summa.Book
}

// Merge combines segments with first-seen-wins de-duplication by id.
func Merge(segments ...[]summa.Book) Snapshot {
	snap := Snapshot{items: make(map[string]summa.Book)}
	for _, books := range segments {
		for _, book := range books {
			if book.ID == "" {
				continue
			}
			if _, ok := snap.items[book.ID]; ok {
				continue
			}
			snap.items[book.ID] = book
			snap.order = append(snap.order, book.ID)
		}
	}
	return snap
}

// Get returns the book with id.
func (s Snapshot) Get(id string) (summa.Book, bool) {
	book, ok := s.items[id]
	return book, ok
}

// Len returns the number of books.
func (s Snapshot) Len() int {
	return len(s.order)
}

// Books returns the books in merge order.
func (s Snapshot) Books() []summa.Book {
	out := make([]summa.Book, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}

// IDs returns the ids in merge order.
func (s Snapshot) IDs() []string {
	return append([]string(nil), s.order...)
}
