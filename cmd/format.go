package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/lepinkainen/bookstock/internal/library"
	"gopkg.in/yaml.v3"
)

var ebookLabels = map[library.SourceID]string{
	library.SourceEduEbook:          "edu",
	library.SourceCountyEbook:       "county",
	library.SourceMetroEbook:        "metro",
	library.SourceSubscriptionEbook: "sub",
}

// stockSummary renders the API block on one line. A source with no data
// shows "-", a source whose last fetch failed shows "!".
func stockSummary(api library.APIBlock) string {
	parts := make([]string, 0, len(library.AvailabilitySources))

	switch {
	case api.PaperStock != nil:
		ps := api.PaperStock
		parts = append(parts,
			fmt.Sprintf("primary %d/%d", ps.Primary.Available, ps.Primary.Total),
			fmt.Sprintf("secondary %d/%d", ps.Secondary.Available, ps.Secondary.Total))
	case api.Errors[library.SourcePaperStock] != "":
		parts = append(parts, "paper !")
	default:
		parts = append(parts, "paper -")
	}

	for _, id := range library.AvailabilitySources[1:] {
		label := ebookLabels[id]
		summary := *api.Ebook(id)
		switch {
		case summary != nil:
			parts = append(parts, fmt.Sprintf("%s %d/%d", label, summary.Available, summary.Total))
		case api.Errors[id] != "":
			parts = append(parts, label+" !")
		default:
			parts = append(parts, label+" -")
		}
	}

	return strings.Join(parts, "  ")
}

func formatRating(rating int) string {
	if rating == 0 {
		return ""
	}
	return strings.Repeat("*", rating)
}

// writeBookTable prints books as aligned columns.
func writeBookTable(w io.Writer, books []library.Book) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tSTATUS\tRATING\tSTOCK")
	for _, b := range books {
		title := b.Catalog.Title
		if b.User.Favorite {
			title = "♥ " + title
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			b.ID,
			truncate(title, 40),
			truncate(b.Catalog.Author, 24),
			b.User.ReadStatus,
			formatRating(b.User.Rating),
			stockSummary(b.API),
		)
	}
	return tw.Flush()
}

// writeCatalogTable prints catalog search hits, marking those already in the
// library.
func writeCatalogTable(w io.Writer, hits []library.SearchHit) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ISBN\tTITLE\tAUTHOR\tPUBLISHER\tLIBRARY")
	for _, h := range hits {
		inLibrary := ""
		if h.Book != nil {
			inLibrary = fmt.Sprintf("#%d", h.Book.ID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			h.Item.ISBN13,
			truncate(h.Item.Title, 40),
			truncate(h.Item.Author, 24),
			h.Item.Publisher,
			inLibrary,
		)
	}
	return tw.Flush()
}

// writeDocument prints v as indented JSON or as YAML. The YAML form keeps the
// JSON field names and order.
func writeDocument(w io.Writer, v any, format string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode: %w", err)
	}

	switch format {
	case "", "json":
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return fmt.Errorf("failed to convert to yaml: %w", err)
		}
		blockStyle(&node)
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(&node); err != nil {
			return fmt.Errorf("failed to write yaml: %w", err)
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format %q", format)
}

// blockStyle drops the flow and quoting styles the JSON source carried.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}
