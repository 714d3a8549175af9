package reports

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/compliscope/compliscope/internal/models"
)

// Page geometry in millimetres for A4 portrait.
const (
	pageHeight   = 297.0
	marginLeft   = 15.0
	marginTop    = 15.0
	marginBottom = 20.0
	contentWidth = 180.0
	lineHeight   = 6.0
	rowHeight    = 7.0

	// PageThreshold is the lowest y position content may reach before a new
	// page is started.
	PageThreshold = pageHeight - marginBottom

	// MaxImageHeight is the tallest image that fits below a continuation
	// header on a fresh page.
	MaxImageHeight = PageThreshold - marginTop - lineHeight - 2 - 4
)

const continuedSuffix = " (continued)"

type rgb struct{ r, g, b int }

var (
	textColor    = rgb{33, 37, 41}
	mutedColor   = rgb{108, 117, 125}
	negativeRed  = rgb{220, 53, 69}
	headerFill   = rgb{52, 58, 64}
	stripeFill   = rgb{248, 249, 250}
	sectionFill  = rgb{240, 240, 240}
	defaultBrand = rgb{66, 133, 244}
)

// Cell is one table cell. Negative cells render in red.
type Cell struct {
	Text     string
	Negative bool
}

// Document wraps a gofpdf document and owns pagination. Automatic page breaks
// are off: every writer asks EnsureSpace first.
type Document struct {
	pdf   *gofpdf.Fpdf
	tr    func(string) string
	brand rgb

	// headings records every section and continuation header per page (1-based).
	headings map[int][]string
	written  []string
}

func NewDocument(branding *models.Branding) *Document {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(marginLeft, marginTop, marginLeft)
	pdf.SetAutoPageBreak(false, marginBottom)

	d := &Document{
		pdf:      pdf,
		tr:       pdf.UnicodeTranslatorFromDescriptor(""),
		brand:    defaultBrand,
		headings: make(map[int][]string),
	}
	if branding != nil {
		if c, ok := parseHexColor(branding.PrimaryColor); ok {
			d.brand = c
		}
	}

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Arial", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	return d
}

// AddPage starts a page and returns the top content position.
func (d *Document) AddPage() float64 {
	d.pdf.AddPage()
	return marginTop
}

// PageCount returns the number of pages started so far.
func (d *Document) PageCount() int {
	return d.pdf.PageCount()
}

// Headings returns the headers written on page (1-based).
func (d *Document) Headings(page int) []string {
	return d.headings[page]
}

// Written returns every paragraph, bullet and note in the order written.
func (d *Document) Written() []string {
	return d.written
}

// EnsureSpace starts a new page when needed more millimetres do not fit below
// y. The new page opens with a "<section> (continued)" sub-header. It returns
// the position to continue writing at.
func (d *Document) EnsureSpace(y, needed float64, section string) float64 {
	if y+needed <= PageThreshold {
		return y
	}
	y = d.AddPage()

	d.pdf.SetFont("Arial", "I", 10)
	d.setText(mutedColor)
	label := section + continuedSuffix
	d.pdf.SetXY(marginLeft, y)
	d.pdf.CellFormat(0, lineHeight, d.tr(label), "", 1, "L", false, 0, "")
	d.record(label)
	return y + lineHeight + 2
}

func (d *Document) record(heading string) {
	page := d.pdf.PageNo()
	d.headings[page] = append(d.headings[page], heading)
}

// Title writes the large document title in the brand colour.
func (d *Document) Title(y float64, title, subtitle string) float64 {
	d.pdf.SetXY(marginLeft, y)
	d.pdf.SetFont("Arial", "B", 20)
	d.setText(d.brand)
	d.pdf.CellFormat(0, 15, d.tr(title), "", 1, "C", false, 0, "")
	d.record(title)
	y += 15

	if subtitle != "" {
		d.pdf.SetXY(marginLeft, y)
		d.pdf.SetFont("Arial", "", 10)
		d.setText(mutedColor)
		d.pdf.CellFormat(0, 8, d.tr(subtitle), "", 1, "C", false, 0, "")
		y += 8
	}
	return y + 6
}

// Section writes a shaded section header, keeping room for at least one line
// of content beneath it.
func (d *Document) Section(y float64, title string) float64 {
	y = d.EnsureSpace(y, 10+5+rowHeight, title)
	d.pdf.SetXY(marginLeft, y)
	d.pdf.SetFont("Arial", "B", 14)
	d.setText(textColor)
	d.setFill(sectionFill)
	d.pdf.CellFormat(0, 10, d.tr(title), "", 1, "L", true, 0, "")
	d.record(title)
	return y + 15
}

// Paragraph writes wrapped text line by line so that long text can continue
// onto following pages.
func (d *Document) Paragraph(y float64, section, text string) float64 {
	return d.wrapped(y, section, "", text, textColor)
}

// Bullet writes one wrapped list item prefixed with marker.
func (d *Document) Bullet(y float64, section, marker, text string) float64 {
	return d.wrapped(y, section, marker, text, textColor)
}

// Muted writes a single wrapped line in the muted colour.
func (d *Document) Muted(y float64, section, text string) float64 {
	return d.wrapped(y, section, "", text, mutedColor)
}

func (d *Document) wrapped(y float64, section, marker, text string, c rgb) float64 {
	d.pdf.SetFont("Arial", "", 10)
	indent := 0.0
	if marker != "" {
		indent = 6
	}

	d.written = append(d.written, text)
	lines := d.pdf.SplitLines([]byte(d.tr(text)), contentWidth-indent)
	for i, line := range lines {
		y = d.EnsureSpace(y, lineHeight, section)
		d.pdf.SetFont("Arial", "", 10)
		d.setText(c)
		d.pdf.SetXY(marginLeft, y)
		if marker != "" {
			label := ""
			if i == 0 {
				label = marker
			}
			d.pdf.CellFormat(indent, lineHeight, d.tr(label), "", 0, "L", false, 0, "")
		}
		d.pdf.CellFormat(contentWidth-indent, lineHeight, string(line), "", 1, "L", false, 0, "")
		y += lineHeight
	}
	return y + 2
}

// Table writes a header row and rows with alternating shading. The header is
// repeated after a page break.
func (d *Document) Table(y float64, section string, headers []string, widths []float64, rows [][]Cell) float64 {
	y = d.EnsureSpace(y, 2*rowHeight, section)
	d.tableHeader(y, headers, widths)
	y += rowHeight

	for i, row := range rows {
		next := d.EnsureSpace(y, rowHeight, section)
		if next != y {
			d.tableHeader(next, headers, widths)
			next += rowHeight
		}
		y = next

		if i%2 == 1 {
			d.setFill(stripeFill)
		} else {
			d.pdf.SetFillColor(255, 255, 255)
		}
		d.pdf.SetFont("Arial", "", 9)
		d.pdf.SetXY(marginLeft, y)
		for j, cell := range row {
			if cell.Negative {
				d.setText(negativeRed)
			} else {
				d.setText(textColor)
			}
			text := truncateToWidth(d.pdf, d.tr(cell.Text), widths[j]-2)
			d.pdf.CellFormat(widths[j], rowHeight, text, "1", 0, "L", true, 0, "")
		}
		y += rowHeight
	}
	return y + 5
}

func (d *Document) tableHeader(y float64, headers []string, widths []float64) {
	d.pdf.SetXY(marginLeft, y)
	d.pdf.SetFont("Arial", "B", 9)
	d.setFill(headerFill)
	d.pdf.SetTextColor(255, 255, 255)
	for i, h := range headers {
		d.pdf.CellFormat(widths[i], rowHeight, d.tr(h), "1", 0, "C", true, 0, "")
	}
}

// Image embeds a PNG at width x height millimetres. Images taller than
// MaxImageHeight are scaled down, keeping their aspect ratio. Embedding
// failures are cleared from the document and returned so the caller can
// substitute a placeholder.
func (d *Document) Image(y float64, section, name string, png []byte, width, height float64) (float64, error) {
	if height > MaxImageHeight {
		width = width * MaxImageHeight / height
		height = MaxImageHeight
	}
	y = d.EnsureSpace(y, height+4, section)

	opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	d.pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(png))
	if d.pdf.Ok() {
		d.pdf.ImageOptions(name, marginLeft+(contentWidth-width)/2, y, width, height, false, opts, 0, "")
	}
	if err := d.pdf.Error(); err != nil {
		d.pdf.ClearError()
		return y, err
	}
	return y + height + 4, nil
}

// Output renders the document.
func (d *Document) Output() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func (d *Document) setText(c rgb) {
	d.pdf.SetTextColor(c.r, c.g, c.b)
}

func (d *Document) setFill(c rgb) {
	d.pdf.SetFillColor(c.r, c.g, c.b)
}

func truncateToWidth(pdf *gofpdf.Fpdf, s string, width float64) string {
	if pdf.GetStringWidth(s) <= width {
		return s
	}
	for len(s) > 0 && pdf.GetStringWidth(s+"...") > width {
		s = s[:len(s)-1]
	}
	return s + "..."
}

func parseHexColor(s string) (rgb, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return rgb{}, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return rgb{}, false
	}
	return rgb{int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)}, true
}
