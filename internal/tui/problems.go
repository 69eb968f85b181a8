package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/sistemas-dev/sistemas/internal/catalog"
)

// RenderProblems writes the catalog as styled cards, brand header first.
func RenderProblems(w io.Writer, cat *catalog.Catalog, width int) error {
	if width <= 0 {
		width = 80
	}
	brand := cat.Brand

	var b strings.Builder
	b.WriteString(Title.Render(brand.Name))
	if brand.Subtitle != "" {
		b.WriteString("  " + Muted.Render(brand.Subtitle))
	}
	b.WriteString("\n\n")

	card := Card.Width(width - 2)
	for i, p := range cat.List() {
		head := fmt.Sprintf("%d. %s  %s", i+1, Title.Render(p.Title), DifficultyStyle(p.Difficulty).Render(string(p.Difficulty)))
		body := []string{head, Body.Render(p.Description)}
		if len(p.Tags) > 0 {
			body = append(body, Tag.Render("#"+strings.Join(p.Tags, " #")))
		}
		body = append(body, Muted.Render("id: "+p.ID))
		b.WriteString(card.Render(strings.Join(body, "\n")))
		b.WriteString("\n")
	}

	if brand.Quote != "" {
		b.WriteString("\n" + Muted.Render(brand.Quote) + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
