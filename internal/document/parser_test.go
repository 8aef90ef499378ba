package document

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTempFile(t *testing.T, content, ext string) string {
	tmpFile, err := os.CreateTemp(t.TempDir(), "contract-test-*"+ext)
	require.NoError(t, err)
	_, err = tmpFile.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())
	return tmpFile.Name()
}

// createTempPDF 每个参数生成一页
func createTempPDF(t *testing.T, pages ...string) string {
	tmpFile, err := os.CreateTemp(t.TempDir(), "contract-test-*.pdf")
	require.NoError(t, err)
	defer tmpFile.Close()

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	for _, text := range pages {
		pdf.AddPage()
		pdf.MultiCell(0, 10, text, "", "", false)
	}
	require.NoError(t, pdf.Output(tmpFile))
	return tmpFile.Name()
}

func TestPlainTextParser(t *testing.T) {
	t.Run("single page", func(t *testing.T) {
		content := "Hello, this is a plain text contract.\nSecond line."
		file := createTempFile(t, content, ".txt")

		pages, err := NewPlainTextParser().Parse(file)
		require.NoError(t, err)
		require.Len(t, pages, 1)
		assert.Equal(t, 1, pages[0].Number)
		assert.Equal(t, content, pages[0].Text)
	})

	t.Run("page markers", func(t *testing.T) {
		content := "--- Page 1 ---\nRecitals\n--- Page 2 ---\nTerms\n--- Page 3 ---\nGoverning Law: Delaware"
		pages, err := NewPlainTextParser().ParseReader(strings.NewReader(content), "c.txt")
		require.NoError(t, err)
		require.Len(t, pages, 3)
		assert.Equal(t, 3, pages[2].Number)
		assert.Contains(t, pages[2].Text, "Delaware")
	})

	t.Run("form feeds", func(t *testing.T) {
		pages, err := NewPlainTextParser().ParseReader(bytes.NewReader([]byte("one\ftwo\fthree")), "c.txt")
		require.NoError(t, err)
		require.Len(t, pages, 3)
		assert.Equal(t, "two", pages[1].Text)
		assert.Equal(t, 2, pages[1].Number)
	})
}

func TestMarkdownParser(t *testing.T) {
	content := "# Master Services Agreement\n\nThis is a **markdown** contract.\n\n## Payment\n\n- Item 1\n- Item 2"
	file := createTempFile(t, content, ".md")

	pages, err := NewMarkdownParser().Parse(file)
	require.NoError(t, err)
	require.Len(t, pages, 1)

	text := pages[0].Text
	assert.Contains(t, text, "markdown contract")
	assert.Contains(t, text, "Item 1")
	assert.Contains(t, text, "# Master Services Agreement")
	assert.Contains(t, text, "## Payment")
	assert.NotContains(t, text, "<")

	// 标题被识别为章节
	assert.Equal(t, "Payment", LastHeaderIn(text))

	readerPages, err := NewMarkdownParser().ParseReader(strings.NewReader(content), "c.md")
	require.NoError(t, err)
	assert.Equal(t, pages, readerPages)
}

func TestPDFParser(t *testing.T) {
	file := createTempPDF(t, "This is a PDF test.\nSecond line.", "Governing Law: State of Delaware")

	pages, err := NewPDFParser().Parse(file)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].Number)
	assert.Contains(t, pages[0].Text, "PDF test")
	assert.Equal(t, 2, pages[1].Number)
	assert.Contains(t, pages[1].Text, "Delaware")

	f, err := os.Open(file)
	require.NoError(t, err)
	defer f.Close()
	readerPages, err := NewPDFParser().ParseReader(f, "c.pdf")
	require.NoError(t, err)
	assert.Equal(t, pages, readerPages)
}

func TestTextFromContentStream(t *testing.T) {
	stream := []byte("BT /F1 12 Tf 10 20 Td (Hello \\(world\\)) Tj T* [(Gov) -300 (erning) 20 ( Law)] TJ ET % comment\nBT <44656c6177617265> Tj ET")
	text := textFromContentStream(stream)
	assert.Contains(t, text, "Hello (world)")
	assert.Contains(t, text, "Gov erning Law")
	assert.Contains(t, text, "Delaware")
}

func TestParserFactory(t *testing.T) {
	txtFile := createTempFile(t, "plain text", ".txt")
	mdFile := createTempFile(t, "# Markdown", ".md")
	pdfFile := createTempPDF(t, "PDF content")

	tests := []struct {
		file     string
		expected string
	}{
		{txtFile, "plain text"},
		{mdFile, "Markdown"},
		{pdfFile, "PDF content"},
	}

	for _, tt := range tests {
		parser, err := ParserFactory(tt.file)
		require.NoError(t, err, "ParserFactory failed for %s", tt.file)
		pages, err := parser.Parse(tt.file)
		require.NoError(t, err)
		require.NotEmpty(t, pages)
		assert.Contains(t, pages[0].Text, tt.expected)
	}

	_, err := ParserFactory("contract.docx")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestLoadDocument(t *testing.T) {
	file := createTempFile(t, "--- Page 1 ---\nAgreement\n--- Page 2 ---\nTerms", ".txt")

	doc, err := LoadDocument(file, "")
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.Len(t, doc.Pages, 2)

	again, err := LoadDocument(file, "")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, again.ID, "same content should produce same id")

	named, err := LoadDocument(file, "custom")
	require.NoError(t, err)
	assert.Equal(t, "custom", named.ID)
}

func TestLoadReader(t *testing.T) {
	doc, err := LoadReader(strings.NewReader("--- Page 1 ---\nAgreement\n--- Page 2 ---\nTerms"), "uploads/contract.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "contract.txt", doc.Name)
	assert.Len(t, doc.Pages, 2)

	file := createTempFile(t, "--- Page 1 ---\nAgreement\n--- Page 2 ---\nTerms", ".txt")
	fromFile, err := LoadDocument(file, "")
	require.NoError(t, err)
	assert.Equal(t, fromFile.ID, doc.ID)

	_, err = LoadReader(strings.NewReader("x"), "contract.docx", "")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}
