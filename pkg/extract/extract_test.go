package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	ct, err := zw.Create(contentTypesPath)
	if err != nil {
		t.Fatalf("create content types: %v", err)
	}
	_, _ = ct.Write([]byte(`<?xml version="1.0"?><Types><Override PartName="/word/document.xml" ContentType="` + docxMainContentType + `"/></Types>`))

	doc, err := zw.Create(docxDocumentXMLPath)
	if err != nil {
		t.Fatalf("create document.xml: %v", err)
	}
	_, _ = doc.Write([]byte(documentXML))

	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestText_PlainPassthrough(t *testing.T) {
	got, err := Text("notes.txt", []byte("plain body"))
	if err != nil {
		t.Fatalf("Text failed: %v", err)
	}
	if got != "plain body" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestText_InvalidUTF8Replaced(t *testing.T) {
	got, err := Text("raw.md", []byte{'h', 'i', 0xff, '!'})
	if err != nil {
		t.Fatalf("Text failed: %v", err)
	}
	if !strings.Contains(got, "hi") || !strings.Contains(got, "�") {
		t.Fatalf("invalid bytes not replaced: %q", got)
	}
}

func TestText_DocxAttributedRuns(t *testing.T) {
	docx := buildDocx(t, `<w:document><w:body>`+
		`<w:p w:rsidR="00AB12"><w:r><w:t>First run</w:t></w:r></w:p>`+
		`<w:p><w:r><w:t xml:space="preserve">second run</w:t></w:r></w:p>`+
		`</w:body></w:document>`)

	got, err := Text("report.docx", docx)
	if err != nil {
		t.Fatalf("Text failed: %v", err)
	}
	if got != "First run second run" {
		t.Fatalf("unexpected docx text %q", got)
	}
}

func TestText_DocxNotAZip(t *testing.T) {
	if _, err := Text("broken.docx", []byte("definitely not a zip")); err == nil {
		t.Fatal("expected error for non-zip docx")
	}
}

func TestText_HTMLStripped(t *testing.T) {
	html := `<html><head><style>p{color:red}</style><script>alert(1)</script></head>` +
		`<body><h1>Title</h1><p>First &amp; second.</p><p>Third.</p></body></html>`

	got, err := Text("page.html", []byte(html))
	if err != nil {
		t.Fatalf("Text failed: %v", err)
	}
	if strings.Contains(got, "<") || strings.Contains(got, "alert") || strings.Contains(got, "color") {
		t.Fatalf("markup leaked into text: %q", got)
	}
	for _, want := range []string{"Title", "First & second.", "Third."} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in %q", want, got)
		}
	}
}

func TestText_UnsupportedFormat(t *testing.T) {
	_, err := Text("binary.exe", []byte{0x4d, 0x5a})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestSupported(t *testing.T) {
	for _, name := range []string{"a.pdf", "b.DOCX", "c.md", "d.htm", "e.tsv"} {
		if !Supported(name) {
			t.Fatalf("expected %s supported", name)
		}
	}
	if Supported("f.exe") {
		t.Fatal("exe should not be supported")
	}
}
