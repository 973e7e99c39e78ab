package fb2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

const sample = `<?xml version="1.0" encoding="utf-8"?>
<FictionBook xmlns="http://www.gribuser.ru/xml/fictionbook/2.0" xmlns:l="http://www.w3.org/1999/xlink">
 <description>
  <title-info>
   <author><first-name>Лев</first-name><middle-name>Николаевич</middle-name><last-name>Толстой</last-name></author>
   <author><nickname>anon</nickname></author>
   <author></author>
   <book-title>Война и мир</book-title>
   <annotation><p>Роман-эпопея.</p><p>Том 1.</p></annotation>
   <date value="1869-01-01">1869</date>
   <lang>RU</lang>
   <sequence name="Война и мир" number="1"/>
   <sequence name=""/>
   <coverpage><image l:href="#cover.jpg"/></coverpage>
  </title-info>
 </description>
 <body><section><title><p>Часть 1</p></title><p>Text&nbsp;here</p></section></body>
</FictionBook>`

func TestParseAndDescribe(t *testing.T) {
	doc, err := Parse([]byte(sample))
	require.NoError(t, err)

	d := Describe(doc)
	assert.Equal(t, "Война и мир", d.Title)
	assert.Equal(t, []string{"Лев Николаевич Толстой", "anon"}, d.Authors)
	assert.Equal(t, "ru", d.Language)
	assert.Equal(t, "1869-01-01", d.Date)
	assert.Equal(t, "Роман-эпопея. Том 1.", d.Annotation)
	require.Len(t, d.Sequences, 1)
	assert.Equal(t, Sequence{Name: "Война и мир", Number: 1}, d.Sequences[0])

	img := doc.Find("description", "title-info", "coverpage", "image")
	require.NotNil(t, img)
	assert.Equal(t, "#cover.jpg", img.Attr("href"))

	body := doc.Child("body")
	assert.Equal(t, "Часть 1 Text\u00a0here", body.Text())
}

func TestNodeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"inline markup joins words", `<p>Hel<emphasis>lo</emphasis>, <strong>world</strong></p>`, "Hello, world"},
		{"blocks are separated", `<section><p>one</p><p>two</p></section>`, "one two"},
		{"whitespace collapses", "<p>  a\n\t b  </p>", "a b"},
		{"nbsp survives", "<p>a\u00a0\u00a0b</p>", "a\u00a0\u00a0b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse([]byte("<FictionBook><body>" + tt.in + "</body></FictionBook>"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, doc.Child("body").Text())
		})
	}
}

func TestParse_Windows1251(t *testing.T) {
	doc := `<?xml version="1.0" encoding="windows-1251"?>
<FictionBook><description><title-info><book-title>Привет</book-title></title-info></description></FictionBook>`
	encoded, err := charmap.Windows1251.NewEncoder().String(doc)
	require.NoError(t, err)

	root, err := Parse([]byte(encoded))
	require.NoError(t, err)
	assert.Equal(t, "Привет", Describe(root).Title)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte(`<html><body/></html>`))
	assert.Error(t, err)

	_, err = Parse([]byte("\x00\x01garbage<<<"))
	assert.Error(t, err)
}

func TestNilNodeAccessors(t *testing.T) {
	var n *Node
	assert.Nil(t, n.Child("x"))
	assert.Nil(t, n.ChildrenNamed("x"))
	assert.Nil(t, n.Find("a", "b"))
	assert.Empty(t, n.Attr("x"))
	assert.Empty(t, n.Text())
	assert.False(t, n.IsText())

	assert.Equal(t, Description{}, Describe(nil))
}
