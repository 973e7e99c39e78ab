package cover

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 5), B: 120, A: 255}) //nolint:gosec // test pattern
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

type zipFile struct {
	name string
	data []byte
}

func epubBytes(t *testing.T, files ...zipFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.name)
		require.NoError(t, err)
		_, err = w.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const testContainer = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`

func fb2Doc(binaries string) []byte {
	return []byte(`<?xml version="1.0" encoding="utf-8"?>
<FictionBook xmlns="http://www.gribuser.ru/xml/fictionbook/2.0" xmlns:l="http://www.w3.org/1999/xlink">
<description><title-info><book-title>T</book-title></title-info></description>
<body><section><p>text</p></section></body>
` + binaries + `
</FictionBook>`)
}

func b64(data []byte) string {
	enc := base64.StdEncoding.EncodeToString(data)
	// Wrap like real documents do.
	var out bytes.Buffer
	for len(enc) > 60 {
		out.WriteString(enc[:60])
		out.WriteString("\n  ")
		enc = enc[60:]
	}
	out.WriteString(enc)
	return out.String()
}

func TestFromFB2(t *testing.T) {
	coverImg := pngBytes(t, 8, 8)
	other := jpegBytes(t, 4, 4)

	t.Run("coverpage href wins", func(t *testing.T) {
		doc := bytes.Replace(fb2Doc(`<binary id="cover.jpg" content-type="image/jpeg">`+b64(other)+`</binary>
<binary id="front" content-type="image/png">`+b64(coverImg)+`</binary>`),
			[]byte("<book-title>T</book-title>"),
			[]byte(`<book-title>T</book-title><coverpage><image l:href="#front"/></coverpage>`), 1)
		assert.Equal(t, coverImg, FromFB2(doc))
		assert.Equal(t, "front", coverpageRef(doc))
	})

	t.Run("coverpage href matches case-insensitively", func(t *testing.T) {
		doc := bytes.Replace(fb2Doc(`<binary id="pic.jpg" content-type="image/jpeg">`+b64(other)+`</binary>
<binary id="Front.PNG" content-type="image/png">`+b64(coverImg)+`</binary>`),
			[]byte("<book-title>T</book-title>"),
			[]byte(`<book-title>T</book-title><coverpage><image xlink:href='#front.png'/></coverpage>`), 1)
		assert.Equal(t, coverImg, FromFB2(doc))
	})

	t.Run("dangling coverpage href falls through", func(t *testing.T) {
		doc := bytes.Replace(fb2Doc(`<binary id="cover.png" content-type="image/png">`+b64(coverImg)+`</binary>`),
			[]byte("<book-title>T</book-title>"),
			[]byte(`<book-title>T</book-title><coverpage><image l:href="#missing"/></coverpage>`), 1)
		assert.Equal(t, coverImg, FromFB2(doc))
	})

	t.Run("cover id wins", func(t *testing.T) {
		doc := fb2Doc(`<binary id="pic1.jpg" content-type="image/jpeg">` + b64(other) + `</binary>
<binary id="cover.png" content-type="image/png">` + b64(coverImg) + `</binary>`)
		assert.Equal(t, coverImg, FromFB2(doc))
	})

	t.Run("any image content type", func(t *testing.T) {
		doc := fb2Doc(`<binary id="b1" content-type="image/jpeg">` + b64(other) + `</binary>`)
		assert.Equal(t, other, FromFB2(doc))
	})

	t.Run("image extension in id", func(t *testing.T) {
		doc := fb2Doc(`<binary id="illustration.png" content-type="application/octet-stream">` + b64(coverImg) + `</binary>`)
		assert.Equal(t, coverImg, FromFB2(doc))
	})

	t.Run("broken cover block falls through", func(t *testing.T) {
		doc := fb2Doc(`<binary id="cover.jpg" content-type="image/jpeg">!!!not base64!!!</binary>
<binary id="img2" content-type="image/jpeg">` + b64(other) + `</binary>`)
		assert.Equal(t, other, FromFB2(doc))
	})

	t.Run("single quoted attributes", func(t *testing.T) {
		doc := fb2Doc(`<binary content-type='image/png' id='Cover'>` + b64(coverImg) + `</binary>`)
		assert.Equal(t, coverImg, FromFB2(doc))
	})

	t.Run("no binaries", func(t *testing.T) {
		assert.Nil(t, FromFB2(fb2Doc("")))
	})

	t.Run("non image binary only", func(t *testing.T) {
		doc := fb2Doc(`<binary id="font" content-type="font/ttf">` + b64([]byte("ttf data")) + `</binary>`)
		assert.Nil(t, FromFB2(doc))
	})

	t.Run("garbage input", func(t *testing.T) {
		assert.Nil(t, FromFB2([]byte{0x00, 0xff, '<', 'b'}))
		assert.Nil(t, FromFB2(nil))
	})
}

func TestFromEPUB(t *testing.T) {
	metaImg := pngBytes(t, 10, 10)
	guideImg := pngBytes(t, 12, 12)
	propImg := pngBytes(t, 14, 14)

	opf := func(metadata, manifest, guide string) []byte {
		return []byte(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">` + metadata + `</metadata>
  <manifest>` + manifest + `</manifest>
  <guide>` + guide + `</guide>
</package>`)
	}

	t.Run("meta cover beats guide", func(t *testing.T) {
		data := epubBytes(t,
			zipFile{"mimetype", []byte("application/epub+zip")},
			zipFile{"META-INF/container.xml", []byte(testContainer)},
			zipFile{"OEBPS/content.opf", opf(
				`<meta name="cover" content="cover-img"/>`,
				`<item id="cover-img" href="images/front.png" media-type="image/png"/>
				 <item id="g" href="images/guide.png" media-type="image/png"/>`,
				`<reference type="cover" href="images/guide.png"/>`)},
			zipFile{"OEBPS/images/front.png", metaImg},
			zipFile{"OEBPS/images/guide.png", guideImg},
		)
		assert.Equal(t, metaImg, FromEPUB(data))
	})

	t.Run("guide page img is followed", func(t *testing.T) {
		page := `<?xml version="1.0"?><html xmlns="http://www.w3.org/1999/xhtml"><body>
<div><img alt="" src="../images/guide.png"/></div></body></html>`
		data := epubBytes(t,
			zipFile{"META-INF/container.xml", []byte(testContainer)},
			zipFile{"OEBPS/content.opf", opf(``, `<item id="p" href="text/cover.xhtml" media-type="application/xhtml+xml"/>`,
				`<reference type="cover" href="text/cover.xhtml#top"/>`)},
			zipFile{"OEBPS/text/cover.xhtml", []byte(page)},
			zipFile{"OEBPS/images/guide.png", guideImg},
		)
		assert.Equal(t, guideImg, FromEPUB(data))
	})

	t.Run("svg image in page", func(t *testing.T) {
		page := `<html><body><svg xmlns:xlink="http://www.w3.org/1999/xlink"><image xlink:href="front.png"/></svg></body></html>`
		data := epubBytes(t,
			zipFile{"META-INF/container.xml", []byte(testContainer)},
			zipFile{"OEBPS/content.opf", opf(``, ``, `<reference type="cover" href="titlepage.xhtml"/>`)},
			zipFile{"OEBPS/titlepage.xhtml", []byte(page)},
			zipFile{"OEBPS/front.png", metaImg},
		)
		assert.Equal(t, metaImg, FromEPUB(data))
	})

	t.Run("cover-image property", func(t *testing.T) {
		data := epubBytes(t,
			zipFile{"META-INF/container.xml", []byte(testContainer)},
			zipFile{"OEBPS/content.opf", opf(``,
				`<item id="x" href="img/p.png" media-type="image/png" properties="cover-image"/>`, ``)},
			zipFile{"OEBPS/img/p.png", propImg},
		)
		assert.Equal(t, propImg, FromEPUB(data))
	})

	t.Run("opf without container", func(t *testing.T) {
		data := epubBytes(t,
			zipFile{"book/package.opf", opf(`<meta name="cover" content="c"/>`,
				`<item id="c" href="c.png" media-type="image/png"/>`, ``)},
			zipFile{"book/c.png", propImg},
		)
		assert.Equal(t, propImg, FromEPUB(data))
	})

	t.Run("filename heuristic", func(t *testing.T) {
		data := epubBytes(t,
			zipFile{"OEBPS/images/large.png", pngBytes(t, 40, 40)},
			zipFile{"OEBPS/images/Cover.JPG", jpegBytes(t, 3, 3)},
		)
		got := FromEPUB(data)
		require.NotNil(t, got)
		assert.Equal(t, "jpg", DetectImageType(got))
	})

	t.Run("largest image", func(t *testing.T) {
		small := pngBytes(t, 2, 2)
		large := pngBytes(t, 30, 30)
		data := epubBytes(t,
			zipFile{"a.png", small},
			zipFile{"b.png", large},
		)
		assert.Equal(t, large, FromEPUB(data))
	})

	t.Run("escaping href is rejected", func(t *testing.T) {
		data := epubBytes(t,
			zipFile{"META-INF/container.xml", []byte(testContainer)},
			zipFile{"OEBPS/content.opf", opf(`<meta name="cover" content="c"/>`,
				`<item id="c" href="../../etc/passwd" media-type="image/png"/>`, ``)},
		)
		assert.Nil(t, FromEPUB(data))
	})

	t.Run("no images", func(t *testing.T) {
		data := epubBytes(t, zipFile{"mimetype", []byte("application/epub+zip")})
		assert.Nil(t, FromEPUB(data))
	})

	t.Run("not a zip", func(t *testing.T) {
		assert.Nil(t, FromEPUB([]byte("definitely not a zip")))
	})
}

func TestResolveRelative(t *testing.T) {
	tests := []struct {
		base, href, want string
	}{
		{"OEBPS/content.opf", "images/c.jpg", "OEBPS/images/c.jpg"},
		{"OEBPS/text/p.xhtml", "../images/c.jpg", "OEBPS/images/c.jpg"},
		{"content.opf", "c%20d.png", "c d.png"},
		{"OEBPS/content.opf", "p.xhtml#frag", "OEBPS/p.xhtml"},
		{"OEBPS/content.opf", "../../x.png", ""},
		{"OEBPS/content.opf", "/abs.png", ""},
		{"OEBPS/content.opf", "http://example.com/x.png", ""},
		{"OEBPS/content.opf", "", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveRelative(tt.base, tt.href), "%s + %s", tt.base, tt.href)
	}
}

func TestDetectImageType(t *testing.T) {
	assert.Equal(t, "png", DetectImageType(pngBytes(t, 1, 1)))
	assert.Equal(t, "jpg", DetectImageType(jpegBytes(t, 1, 1)))
	assert.Equal(t, "gif", DetectImageType([]byte("GIF89a\x01\x00\x01\x00\x00\x00\x00")))
	assert.Equal(t, "webp", DetectImageType([]byte("RIFF\x1a\x00\x00\x00WEBPVP8 ")))
	assert.Empty(t, DetectImageType([]byte("<html></html>")))
	assert.Empty(t, DetectImageType(nil))
}

func TestKindFromName(t *testing.T) {
	assert.Equal(t, KindFB2, KindFromName("123.FB2"))
	assert.Equal(t, KindEPUB, KindFromName("dir/123.epub"))
	assert.Equal(t, KindUnknown, KindFromName("123.pdf"))
	assert.Nil(t, Extract(KindUnknown, []byte("x")))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", ContentType("jpg"))
	assert.Equal(t, "image/webp", ContentType("webp"))
	assert.Equal(t, "application/octet-stream", ContentType("bmp"))
}

func TestBlurHash(t *testing.T) {
	hash, err := BlurHash(pngBytes(t, 200, 100))
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	_, err = BlurHash([]byte("nope"))
	assert.Error(t, err)
}

func TestDimensions(t *testing.T) {
	w, h, err := Dimensions(pngBytes(t, 7, 3))
	require.NoError(t, err)
	assert.Equal(t, 7, w)
	assert.Equal(t, 3, h)

	_, _, err = Dimensions([]byte("nope"))
	assert.Error(t, err)
}
