package cover

import (
	"bytes"
	"encoding/xml"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

const (
	containerPath = "META-INF/container.xml"
	maxEPUBEntry  = 32 << 20
)

type containerXML struct {
	RootFiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfPackage struct {
	Metas []struct {
		Name    string `xml:"name,attr"`
		Content string `xml:"content,attr"`
	} `xml:"metadata>meta"`
	Items []struct {
		ID         string `xml:"id,attr"`
		Href       string `xml:"href,attr"`
		MediaType  string `xml:"media-type,attr"`
		Properties string `xml:"properties,attr"`
	} `xml:"manifest>item"`
	References []struct {
		Type string `xml:"type,attr"`
		Href string `xml:"href,attr"`
	} `xml:"guide>reference"`
}

// epubPackage is an opened package with its OPF, if one was found.
type epubPackage struct {
	zr      *zip.Reader
	opfPath string
	opf     *opfPackage
}

// FromEPUB finds a cover in an EPUB package.
func FromEPUB(data []byte) []byte {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil
	}
	p := &epubPackage{zr: zr}
	p.loadOPF()

	return First(data,
		p.fromHref(p.metaCoverHref),
		p.fromHref(p.guideCoverHref),
		p.fromHref(p.coverImageHref),
		p.byFilename,
		p.largestImage,
	)
}

func (p *epubPackage) loadOPF() {
	opfPath := ""
	if f := p.file(containerPath); f != nil {
		var c containerXML
		if raw := readEntry(f); raw != nil && unmarshalXML(raw, &c) == nil {
			for _, rf := range c.RootFiles {
				if fp := strings.TrimSpace(rf.FullPath); fp != "" {
					opfPath = fp
					break
				}
			}
		}
	}
	if opfPath == "" {
		for _, f := range p.zr.File {
			if strings.HasSuffix(strings.ToLower(f.Name), ".opf") {
				opfPath = f.Name
				break
			}
		}
	}
	if opfPath == "" {
		return
	}

	f := p.file(opfPath)
	if f == nil {
		return
	}
	raw := readEntry(f)
	if raw == nil {
		return
	}
	var pkg opfPackage
	if err := unmarshalXML(raw, &pkg); err != nil {
		return
	}
	p.opfPath = f.Name
	p.opf = &pkg
}

func (p *epubPackage) metaCoverHref() string {
	if p.opf == nil {
		return ""
	}
	id := ""
	for _, m := range p.opf.Metas {
		if strings.EqualFold(m.Name, "cover") && m.Content != "" {
			id = m.Content
			break
		}
	}
	if id == "" {
		return ""
	}
	for _, it := range p.opf.Items {
		if it.ID == id {
			return it.Href
		}
	}
	// Some packages put the href itself in the meta.
	if hasImageExt(id) {
		return id
	}
	return ""
}

func (p *epubPackage) guideCoverHref() string {
	if p.opf == nil {
		return ""
	}
	for _, r := range p.opf.References {
		if strings.EqualFold(r.Type, "cover") && r.Href != "" {
			return r.Href
		}
	}
	return ""
}

func (p *epubPackage) coverImageHref() string {
	if p.opf == nil {
		return ""
	}
	for _, it := range p.opf.Items {
		for _, prop := range strings.Fields(it.Properties) {
			if prop == "cover-image" {
				return it.Href
			}
		}
	}
	return ""
}

// fromHref resolves an OPF-relative href and loads the image it names, or
// the first image of the XHTML page it names.
func (p *epubPackage) fromHref(href func() string) Strategy {
	return func([]byte) []byte {
		h := href()
		if h == "" {
			return nil
		}
		target := resolveRelative(p.opfPath, h)
		f := p.file(target)
		if f == nil {
			return nil
		}
		raw := readEntry(f)
		if raw == nil {
			return nil
		}
		if DetectImageType(raw) != "" || hasImageExt(f.Name) {
			return raw
		}
		if isPage(f.Name) {
			if src := firstImageInPage(raw); src != "" {
				if img := p.file(resolveRelative(f.Name, src)); img != nil {
					return readEntry(img)
				}
			}
		}
		return nil
	}
}

func (p *epubPackage) byFilename([]byte) []byte {
	var loose *zip.File
	for _, f := range p.zr.File {
		if !hasImageExt(f.Name) {
			continue
		}
		base := strings.ToLower(path.Base(f.Name))
		if strings.TrimSuffix(base, path.Ext(base)) == "cover" {
			return readEntry(f)
		}
		if loose == nil && strings.Contains(strings.ToLower(f.Name), "cover") {
			loose = f
		}
	}
	if loose != nil {
		return readEntry(loose)
	}
	return nil
}

func (p *epubPackage) largestImage([]byte) []byte {
	var best *zip.File
	for _, f := range p.zr.File {
		if !hasImageExt(f.Name) {
			continue
		}
		if best == nil || f.UncompressedSize64 > best.UncompressedSize64 {
			best = f
		}
	}
	if best == nil {
		return nil
	}
	return readEntry(best)
}

// file finds an entry by exact name, then case-insensitively.
func (p *epubPackage) file(name string) *zip.File {
	if name == "" {
		return nil
	}
	for _, f := range p.zr.File {
		if f.Name == name {
			return f
		}
	}
	for _, f := range p.zr.File {
		if strings.EqualFold(f.Name, name) {
			return f
		}
	}
	return nil
}

func readEntry(f *zip.File) []byte {
	if f.UncompressedSize64 > maxEPUBEntry {
		return nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxEPUBEntry+1))
	if err != nil || len(data) == 0 || len(data) > maxEPUBEntry {
		return nil
	}
	return data
}

// resolveRelative resolves href against the directory of base, rejecting
// paths that escape the package root.
func resolveRelative(base, href string) string {
	href = strings.TrimSpace(href)
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	if href == "" || strings.HasPrefix(href, "/") || strings.Contains(href, "://") {
		return ""
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	joined := path.Clean(path.Join(path.Dir(base), href))
	if joined == ".." || strings.HasPrefix(joined, "../") {
		return ""
	}
	return joined
}

func isPage(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".xhtml", ".html", ".htm", ".xml":
		return true
	}
	return false
}

// firstImageInPage returns the src of the first <img>, or the href of the
// first SVG <image>.
func firstImageInPage(data []byte) string {
	z := html.NewTokenizer(bytes.NewReader(data))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			a := atom.Lookup(name)
			if !hasAttr || (a != atom.Img && a != atom.Image) {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				k := string(key)
				if a == atom.Img && k == "src" && len(val) > 0 {
					return string(val)
				}
				if a == atom.Image && (k == "href" || k == "xlink:href") && len(val) > 0 {
					return string(val)
				}
				if !more {
					break
				}
			}
		}
	}
}

// unmarshalXML decodes package XML in any declared charset.
func unmarshalXML(data []byte, v any) error {
	dec := xml.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false
	return dec.Decode(v)
}
