package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/mmeshcher/filedrop/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Link описывает ссылку на скачивание одного файла.
type Link struct {
	Name       string
	URL        string
	FileNumber int
	TotalFiles int
}

// LinksData содержит данные письма со ссылками.
type LinksData struct {
	CustomerName string
	OrderNumber  string
	ComboName    string
	Part         int
	Total        int
	Links        []Link
	MaxDownloads int
	ExpiresDays  int
}

func (d *LinksData) fillDefaults() {
	if d.MaxDownloads == 0 {
		d.MaxDownloads = model.MaxDownloads
	}
	if d.ExpiresDays == 0 {
		d.ExpiresDays = int(model.TokenTTL.Hours() / 24)
	}
}

// RenderDownloadLinks собирает письмо со всеми ссылками в одной таблице.
func RenderDownloadLinks(d LinksData) (subject, html string, err error) {
	d.fillDefaults()

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "download_links.html", d); err != nil {
		return "", "", fmt.Errorf("render download links: %w", err)
	}

	subject = "Your download links"
	if d.OrderNumber != "" {
		subject = fmt.Sprintf("Your download links for order %s", d.OrderNumber)
	}
	return subject, buf.String(), nil
}

// RenderComboPart собирает письмо "Part i of M" для набора из нескольких файлов.
func RenderComboPart(d LinksData) (subject, html string, err error) {
	if d.Part < 1 || d.Total < d.Part {
		return "", "", fmt.Errorf("invalid combo part %d of %d", d.Part, d.Total)
	}
	d.fillDefaults()

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "combo_part.html", d); err != nil {
		return "", "", fmt.Errorf("render combo part: %w", err)
	}

	return fmt.Sprintf("%s: Part %d of %d", d.ComboName, d.Part, d.Total), buf.String(), nil
}
