package convert

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"

	"github.com/sadontsev/flibusta-sub001/internal/cover"
	apperr "github.com/sadontsev/flibusta-sub001/internal/errors"
	"github.com/sadontsev/flibusta-sub001/internal/fb2"
	"github.com/sadontsev/flibusta-sub001/internal/logger"
)

// bookNamespace seeds deterministic EPUB identifiers.
var bookNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:book-archive:book"))

// tagMap is the FB2 element to XHTML element substitution. Elements not
// listed are unwrapped; elements mapped to "" are dropped with their content.
var tagMap = map[string]string{
	"section":       "div",
	"title":         "h2",
	"subtitle":      "h3",
	"p":             "p",
	"emphasis":      "em",
	"strong":        "strong",
	"cite":          "blockquote",
	"epigraph":      "blockquote",
	"poem":          "div",
	"stanza":        "div",
	"v":             "p",
	"text-author":   "p",
	"sub":           "sub",
	"sup":           "sup",
	"code":          "code",
	"strikethrough": "del",
	"empty-line":    "br",
	"binary":        "",
	"stylesheet":    "",
	"description":   "",
}

// voidTags render self-closed.
var voidTags = map[string]bool{"br": true}

// Builtin converts FB2 to EPUB without external tools. Its output is a
// readable package, not a faithful rendering.
type Builtin struct {
	logger *slog.Logger
}

// NewBuiltin creates the built-in converter.
func NewBuiltin(log *slog.Logger) *Builtin {
	return &Builtin{logger: logger.OrDiscard(log)}
}

// Supports reports whether the pair can be converted in-process.
func (b *Builtin) Supports(source, target string) bool {
	return strings.EqualFold(source, "fb2") && strings.EqualFold(target, "epub")
}

// Convert builds an EPUB from an FB2 document.
func (b *Builtin) Convert(_ context.Context, job Job) ([]byte, error) {
	if !b.Supports(job.Source, job.Target) {
		return nil, apperr.UnsupportedConversion(job.Source, job.Target)
	}

	book := b.render(job)
	data, err := book.pack()
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeInternal, "build epub for book %d", job.BookID)
	}

	b.logger.Info("built epub in-process",
		slog.Int64("book_id", job.BookID),
		slog.Int("bytes", len(data)),
		slog.Bool("cover", book.coverExt != ""))
	return data, nil
}

type navPoint struct {
	id    string
	label string
}

type epubBook struct {
	id          string
	desc        fb2.Description
	body        string
	nav         []navPoint
	cover       []byte
	coverExt    string
	placeholder bool
}

func (b *Builtin) render(job Job) *epubBook {
	book := &epubBook{
		id: "urn:uuid:" + uuid.NewSHA1(bookNamespace, []byte(strconv.FormatInt(job.BookID, 10))).String(),
	}

	if img := cover.FromFB2(job.Input); img != nil {
		if ext := cover.DetectImageType(img); ext != "" {
			book.cover, book.coverExt = img, ext
		}
	}

	doc, err := fb2.Parse(job.Input)
	if err != nil {
		b.logger.Debug("fb2 parse failed, writing placeholder",
			slog.Int64("book_id", job.BookID), slog.Any("error", err))
		book.placeholder = true
	} else {
		book.desc = fb2.Describe(doc)
		var sb strings.Builder
		for i, body := range doc.ChildrenNamed("body") {
			book.nav = renderBody(&sb, body, i, book.nav)
		}
		book.body = sb.String()
		book.placeholder = strings.TrimSpace(book.body) == ""
	}

	if book.desc.Title == "" {
		book.desc.Title = fmt.Sprintf("Book %d", job.BookID)
	}
	if book.desc.Language == "" {
		book.desc.Language = "und"
	}
	if book.placeholder {
		book.body = "<p>(no content)</p>\n"
	}
	return book
}

// renderBody writes one <body> and records a navigation point for every
// top-level section with a title.
func renderBody(sb *strings.Builder, body *fb2.Node, index int, nav []navPoint) []navPoint {
	for i, n := range body.Children {
		if n.Name == "section" {
			id := fmt.Sprintf("s%d-%d", index, i)
			if label := n.Child("title").Text(); label != "" {
				nav = append(nav, navPoint{id: id, label: label})
			}
			sb.WriteString(`<div class="section" id="` + id + `">`)
			for _, c := range n.Children {
				renderNode(sb, c)
			}
			sb.WriteString("</div>\n")
			continue
		}
		renderNode(sb, n)
	}
	return nav
}

func renderNode(sb *strings.Builder, n *fb2.Node) {
	if n.IsText() {
		sb.WriteString(html.EscapeString(n.Data))
		return
	}

	if n.Name == "title" {
		renderTitle(sb, n)
		return
	}

	tag, known := tagMap[n.Name]
	switch {
	case known && tag == "":
		return
	case voidTags[tag]:
		sb.WriteString("<" + tag + "/>")
		return
	case !known:
		for _, c := range n.Children {
			renderNode(sb, c)
		}
		return
	}

	sb.WriteString("<" + tag + ">")
	for _, c := range n.Children {
		renderNode(sb, c)
	}
	sb.WriteString("</" + tag + ">")
}

// renderTitle writes a title as one heading, its paragraphs flattened into
// lines.
func renderTitle(sb *strings.Builder, n *fb2.Node) {
	sb.WriteString("<h2>")
	first := true
	for _, c := range n.Children {
		switch {
		case c.IsText():
			if strings.TrimSpace(c.Data) != "" {
				sb.WriteString(html.EscapeString(c.Data))
			}
		case c.Name == "p":
			if !first {
				sb.WriteString("<br/>")
			}
			first = false
			for _, inl := range c.Children {
				renderNode(sb, inl)
			}
		}
	}
	sb.WriteString("</h2>")
}

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`

func (e *epubBook) pack() ([]byte, error) {
	opf, err := e.opf()
	if err != nil {
		return nil, err
	}
	ncx, err := e.ncx()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	// mimetype must be first and stored.
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, "application/epub+zip"); err != nil {
		return nil, err
	}

	files := []struct {
		name string
		data []byte
	}{
		{"META-INF/container.xml", []byte(containerXML)},
		{"OEBPS/content.opf", opf},
		{"OEBPS/toc.ncx", ncx},
		{"OEBPS/index.xhtml", e.xhtml()},
	}
	if e.coverExt != "" {
		files = append(files, struct {
			name string
			data []byte
		}{"OEBPS/cover." + e.coverExt, e.cover})
	}

	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *epubBook) xhtml() []byte {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString("<!DOCTYPE html>\n")
	b.WriteString(`<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="` + html.EscapeString(e.desc.Language) + `">` + "\n")
	b.WriteString("<head><title>" + html.EscapeString(e.desc.Title) + "</title></head>\n<body>\n")
	if e.coverExt != "" {
		b.WriteString(`<div class="cover"><img src="cover.` + e.coverExt + `" alt="cover"/></div>` + "\n")
	}
	b.WriteString("<h1>" + html.EscapeString(e.desc.Title) + "</h1>\n")
	if len(e.desc.Authors) > 0 {
		b.WriteString(`<p class="author">` + html.EscapeString(strings.Join(e.desc.Authors, ", ")) + "</p>\n")
	}
	b.WriteString(e.body)
	b.WriteString("</body>\n</html>\n")
	return []byte(b.String())
}

type opfMeta struct {
	Name    string `xml:"name,attr"`
	Content string `xml:"content,attr"`
}

type opfCreator struct {
	Role string `xml:"opf:role,attr"`
	Name string `xml:",chardata"`
}

type opfItem struct {
	ID        string `xml:"id,attr"`
	Href      string `xml:"href,attr"`
	MediaType string `xml:"media-type,attr"`
}

type opfOut struct {
	XMLName  xml.Name `xml:"package"`
	Xmlns    string   `xml:"xmlns,attr"`
	Version  string   `xml:"version,attr"`
	UniqueID string   `xml:"unique-identifier,attr"`
	Metadata struct {
		DC          string       `xml:"xmlns:dc,attr"`
		OPF         string       `xml:"xmlns:opf,attr"`
		Identifier  opfID        `xml:"dc:identifier"`
		Title       string       `xml:"dc:title"`
		Creators    []opfCreator `xml:"dc:creator"`
		Language    string       `xml:"dc:language"`
		Date        string       `xml:"dc:date,omitempty"`
		Description string       `xml:"dc:description,omitempty"`
		Metas       []opfMeta    `xml:"meta"`
	} `xml:"metadata"`
	Manifest []opfItem `xml:"manifest>item"`
	Spine    struct {
		Toc     string `xml:"toc,attr"`
		ItemRef struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

type opfID struct {
	ID    string `xml:"id,attr"`
	Value string `xml:",chardata"`
}

func (e *epubBook) opf() ([]byte, error) {
	var p opfOut
	p.Xmlns = "http://www.idpf.org/2007/opf"
	p.Version = "2.0"
	p.UniqueID = "bookid"
	p.Metadata.DC = "http://purl.org/dc/elements/1.1/"
	p.Metadata.OPF = "http://www.idpf.org/2007/opf"
	p.Metadata.Identifier = opfID{ID: "bookid", Value: e.id}
	p.Metadata.Title = e.desc.Title
	for _, a := range e.desc.Authors {
		p.Metadata.Creators = append(p.Metadata.Creators, opfCreator{Role: "aut", Name: a})
	}
	p.Metadata.Language = e.desc.Language
	p.Metadata.Date = e.desc.Date
	p.Metadata.Description = e.desc.Annotation
	if len(e.desc.Sequences) > 0 {
		s := e.desc.Sequences[0]
		p.Metadata.Metas = append(p.Metadata.Metas, opfMeta{Name: "calibre:series", Content: s.Name})
		if s.Number > 0 {
			p.Metadata.Metas = append(p.Metadata.Metas,
				opfMeta{Name: "calibre:series_index", Content: strconv.FormatFloat(s.Number, 'f', -1, 64)})
		}
	}

	p.Manifest = []opfItem{
		{ID: "ncx", Href: "toc.ncx", MediaType: "application/x-dtbncx+xml"},
		{ID: "content", Href: "index.xhtml", MediaType: "application/xhtml+xml"},
	}
	if e.coverExt != "" {
		p.Metadata.Metas = append(p.Metadata.Metas, opfMeta{Name: "cover", Content: "cover-image"})
		p.Manifest = append(p.Manifest, opfItem{
			ID: "cover-image", Href: "cover." + e.coverExt, MediaType: cover.ContentType(e.coverExt),
		})
	}
	p.Spine.Toc = "ncx"
	p.Spine.ItemRef.IDRef = "content"

	return marshalXML(p)
}

type ncxOut struct {
	XMLName xml.Name `xml:"ncx"`
	Xmlns   string   `xml:"xmlns,attr"`
	Version string   `xml:"version,attr"`
	Head    struct {
		Meta []opfMeta `xml:"meta"`
	} `xml:"head"`
	DocTitle struct {
		Text string `xml:"text"`
	} `xml:"docTitle"`
	NavPoints []ncxNavPoint `xml:"navMap>navPoint"`
}

type ncxNavPoint struct {
	ID        string `xml:"id,attr"`
	PlayOrder int    `xml:"playOrder,attr"`
	Label     struct {
		Text string `xml:"text"`
	} `xml:"navLabel"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
}

func (e *epubBook) ncx() ([]byte, error) {
	var n ncxOut
	n.Xmlns = "http://www.daisy.org/z3986/2005/ncx/"
	n.Version = "2005-1"
	n.Head.Meta = []opfMeta{{Name: "dtb:uid", Content: e.id}, {Name: "dtb:depth", Content: "1"}}
	n.DocTitle.Text = e.desc.Title

	points := e.nav
	if len(points) == 0 {
		points = []navPoint{{label: e.desc.Title}}
	}
	for i, pt := range points {
		np := ncxNavPoint{ID: fmt.Sprintf("nav%d", i+1), PlayOrder: i + 1}
		np.Label.Text = pt.label
		np.Content.Src = "index.xhtml"
		if pt.id != "" {
			np.Content.Src += "#" + pt.id
		}
		n.NavPoints = append(n.NavPoints, np)
	}
	return marshalXML(n)
}

func marshalXML(v any) ([]byte, error) {
	out, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}
