package fb2

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Sequence is a series the book belongs to.
type Sequence struct {
	Name   string
	Number float64
}

// Description is the bibliographic part of a document.
type Description struct {
	Title      string
	Authors    []string
	Language   string
	Date       string
	Annotation string
	Sequences  []Sequence
}

// Describe reads title-info from a parsed document.
func Describe(doc *Node) Description {
	info := doc.Find("description", "title-info")

	d := Description{
		Title:      clean(info.Child("book-title").Text()),
		Language:   strings.ToLower(info.Child("lang").Text()),
		Annotation: clean(info.Child("annotation").Text()),
	}

	for _, a := range info.ChildrenNamed("author") {
		if name := authorName(a); name != "" {
			d.Authors = append(d.Authors, name)
		}
	}

	if date := info.Child("date"); date != nil {
		d.Date = strings.TrimSpace(date.Attr("value"))
		if d.Date == "" {
			d.Date = date.Text()
		}
	}

	for _, s := range info.ChildrenNamed("sequence") {
		name := clean(s.Attr("name"))
		if name == "" {
			continue
		}
		num, _ := strconv.ParseFloat(strings.TrimSpace(s.Attr("number")), 64)
		d.Sequences = append(d.Sequences, Sequence{Name: name, Number: num})
	}
	return d
}

func authorName(a *Node) string {
	var parts []string
	for _, field := range []string{"first-name", "middle-name", "last-name"} {
		if v := clean(a.Child(field).Text()); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return clean(a.Child("nickname").Text())
	}
	return strings.Join(parts, " ")
}

func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
