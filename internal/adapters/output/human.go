package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"

	"github.com/mikey-austin/summarist/internal/core"
	"github.com/mikey-austin/summarist/internal/duration"
	"github.com/mikey-austin/summarist/pkg/summa"
)

// HumanPrinter prints human-readable output.
type HumanPrinter struct {
	Out io.Writer
}

// Print renders human output.
func (p HumanPrinter) Print(v any) error {
	out := writer(p.Out)
	switch data := v.(type) {
	case core.ForYouResult:
		return printForYou(out, data)
	case core.BookResult:
		return printBook(out, data.Book)
	case core.ReadResult:
		return printRead(out, data)
	case core.SearchResult:
		return printSearch(out, data)
	case core.LibraryResult:
		return printLibrary(out, data)
	case core.SaveResult:
		return printSave(out, data)
	case core.DurationResult:
		_, err := fmt.Fprintf(out, "%s\t%s (%s)\n", data.BookID, duration.Format(data.Duration), duration.FormatVerbose(data.Duration))
		return err
	case core.PlaybackResult:
		return printPlayback(out, data)
	case core.ProfileResult:
		return printProfile(out, data)
	default:
		_, err := fmt.Fprintln(out, "ok")
		return err
	}
}

func printForYou(out io.Writer, result core.ForYouResult) error {
	if result.Selected != nil {
		if _, err := fmt.Fprintln(out, pterm.Bold.Sprint("Selected just for you")); err != nil {
			return err
		}
		if err := printBook(out, *result.Selected); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out); err != nil {
			return err
		}
	}
	if err := printRow(out, "Recommended For You", result.Recommended); err != nil {
		return err
	}
	if err := printRow(out, "Suggested Books", result.Suggested); err != nil {
		return err
	}
	if len(result.Failed) > 0 {
		_, err := fmt.Fprintf(out, "warning: could not refresh %s\n", strings.Join(result.Failed, ", "))
		return err
	}
	return nil
}

func printRow(out io.Writer, title string, books []core.BookView) error {
	if _, err := fmt.Fprintln(out, pterm.Bold.Sprint(title)); err != nil {
		return err
	}
	if err := printBooks(out, books); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out)
	return err
}

func printBooks(out io.Writer, books []core.BookView) error {
	if len(books) == 0 {
		_, err := fmt.Fprintln(out, "(none)")
		return err
	}
	data := pterm.TableData{{"ID", "TITLE", "AUTHOR", "LENGTH", "RATING", "ACCESS"}}
	for _, view := range books {
		data = append(data, []string{
			view.Book.ID,
			title(view),
			view.Book.Author,
			duration.Format(view.Duration),
			rating(view.Book),
			view.Access,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(out).WithData(data).Render()
}

func printBook(out io.Writer, view core.BookView) error {
	book := view.Book
	lines := []string{
		fmt.Sprintf("%s\t%s", pterm.Bold.Sprint(book.Title), book.Author),
	}
	if book.SubTitle != "" {
		lines = append(lines, book.SubTitle)
	}
	lines = append(lines,
		fmt.Sprintf("id: %s", book.ID),
		fmt.Sprintf("length: %s", duration.FormatVerbose(view.Duration)),
		fmt.Sprintf("rating: %s", rating(book)),
	)
	if book.KeyIdeas > 0 {
		lines = append(lines, fmt.Sprintf("key ideas: %d", book.KeyIdeas))
	}
	if len(book.Tags) > 0 {
		lines = append(lines, fmt.Sprintf("tags: %s", strings.Join(book.Tags, ", ")))
	}
	lines = append(lines, fmt.Sprintf("access: %s", view.Access))
	if view.Saved {
		lines = append(lines, "in library")
	}
	if view.Finished {
		lines = append(lines, "finished")
	}
	if book.BookDescription != "" {
		lines = append(lines, "", pterm.Bold.Sprint("What's it about?"), book.BookDescription)
	}
	if book.AuthorDescription != "" {
		lines = append(lines, "", pterm.Bold.Sprint("About the author"), book.AuthorDescription)
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}

func printRead(out io.Writer, result core.ReadResult) error {
	book := result.Book.Book
	if _, err := fmt.Fprintf(out, "%s\t%s\n\n", pterm.Bold.Sprint(book.Title), book.Author); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out, result.Summary)
	return err
}

func printSearch(out io.Writer, result core.SearchResult) error {
	if len(result.Books) == 0 {
		_, err := fmt.Fprintf(out, "no results for %q\n", result.Query)
		return err
	}
	return printBooks(out, result.Books)
}

func printLibrary(out io.Writer, result core.LibraryResult) error {
	saved := fmt.Sprintf("Saved Books (%s)", humanize.Comma(int64(len(result.Saved))))
	if err := printRow(out, saved, result.Saved); err != nil {
		return err
	}
	finished := fmt.Sprintf("Finished (%s)", humanize.Comma(int64(len(result.Finished))))
	if _, err := fmt.Fprintln(out, pterm.Bold.Sprint(finished)); err != nil {
		return err
	}
	return printBooks(out, result.Finished)
}

func printSave(out io.Writer, result core.SaveResult) error {
	verb := "removed from library"
	if result.Saved {
		verb = "saved to library"
	}
	_, err := fmt.Fprintf(out, "%s %s\n", result.BookID, verb)
	return err
}

func printPlayback(out io.Writer, result core.PlaybackResult) error {
	state := result.State
	name := result.Title
	if name == "" {
		name = state.ActiveItemID
	}
	if name == "" {
		name = "-"
	}
	line := fmt.Sprintf("%s\t%s\t%s / %s", state.Status, name, duration.FormatClock(state.PositionSeconds), duration.FormatClock(state.TotalSeconds))
	if result.PlayerID != "" {
		line = result.PlayerID + "\t" + line
	}
	if _, err := fmt.Fprintln(out, line); err != nil {
		return err
	}
	if state.UpgradeRequired {
		if _, err := fmt.Fprintln(out, "subscription required: choose a plan with `summarist subscribe`"); err != nil {
			return err
		}
	}
	if state.Error != "" {
		_, err := fmt.Fprintf(out, "error: %s\n", state.Error)
		return err
	}
	return nil
}

func printProfile(out io.Writer, result core.ProfileResult) error {
	plan := "not subscribed"
	if result.Status.IsSubscribed {
		plan = string(result.Status.Plan)
		if plan == "" {
			plan = "subscribed"
		}
	}
	_, err := fmt.Fprintf(out, "%s\t%s\n", result.UserID, plan)
	return err
}

func title(view core.BookView) string {
	if view.Finished {
		return view.Book.Title + " ✓"
	}
	if view.Saved {
		return view.Book.Title + " *"
	}
	return view.Book.Title
}

func rating(book summa.Book) string {
	if book.TotalRating == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f (%s)", book.AverageRating, humanize.Comma(book.TotalRating))
}
