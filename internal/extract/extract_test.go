package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVision struct {
	text     string
	err      error
	gotMIME  string
	gotBytes []byte
}

func (f *fakeVision) ReadImage(_ context.Context, mimeType string, data []byte) (string, error) {
	f.gotMIME = mimeType
	f.gotBytes = data
	return f.text, f.err
}

func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		mime     string
		wantKind Kind
		wantMIME string
	}{
		{"pdf by mime", "x.bin", "application/pdf", KindPDF, MIMEPDF},
		{"docx by mime", "policy", MIMEDOCX, KindDOCX, MIMEDOCX},
		{"text with charset param", "a.txt", "text/plain; charset=utf-8", KindText, MIMEText},
		{"png by mime", "scan", "image/png", KindImage, "image/png"},
		{"jpeg mime uppercase", "scan", "IMAGE/JPEG", KindImage, "image/jpeg"},
		{"pdf by extension", "Policy.PDF", "", KindPDF, MIMEPDF},
		{"docx by extension with octet-stream", "handbook.docx", "application/octet-stream", KindDOCX, MIMEDOCX},
		{"jpg by extension", "receipt.jpg", "", KindImage, "image/jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, mt, err := Detect(tt.file, tt.mime)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantMIME, mt)
		})
	}
}

func TestDetect_Unsupported(t *testing.T) {
	for _, in := range [][2]string{
		{"sheet.xlsx", "application/vnd.ms-excel"},
		{"notes.md", ""},
		{"archive.zip", "application/zip"},
		{"a.txt", "text/html"},
	} {
		_, _, err := Detect(in[0], in[1])
		assert.ErrorIs(t, err, ErrUnsupportedType, "input %v", in)
	}
}

func TestExtract_PlainText(t *testing.T) {
	e := New(nil)
	got, err := e.Extract(context.Background(), KindText, MIMEText, []byte("Travel Policy\r\n\r\n\r\n\r\nEconomy class only.   \r\n"))
	require.NoError(t, err)
	assert.Equal(t, "Travel Policy\n\nEconomy class only.", got)
}

func TestExtract_PlainTextLegacyEncoding(t *testing.T) {
	e := New(nil)
	// "Café" in ISO-8859-1 is not valid UTF-8.
	got, err := e.Extract(context.Background(), KindText, "text/plain; charset=iso-8859-1", []byte{'C', 'a', 'f', 0xe9})
	require.NoError(t, err)
	assert.Equal(t, "Café", got)
}

func TestExtract_PlainTextBOM(t *testing.T) {
	e := New(nil)
	got, err := e.Extract(context.Background(), KindText, MIMEText, append([]byte{0xef, 0xbb, 0xbf}, "Meals"...))
	require.NoError(t, err)
	assert.Equal(t, "Meals", got)
}

func TestExtract_DOCX(t *testing.T) {
	data := buildDOCX(t,
		`<w:p><w:r><w:t>SECTION 1: Travel</w:t></w:r></w:p>`+
			`<w:p><w:r><w:t xml:space="preserve">Economy </w:t></w:r><w:r><w:t>only.</w:t></w:r></w:p>`)
	got, err := New(nil).Extract(context.Background(), KindDOCX, MIMEDOCX, data)
	require.NoError(t, err)
	assert.Equal(t, "SECTION 1: Travel\nEconomy only.", got)
}

func TestExtract_DOCXNotZip(t *testing.T) {
	_, err := New(nil).Extract(context.Background(), KindDOCX, MIMEDOCX, []byte("plain bytes"))
	assert.Error(t, err)
}

func TestExtract_MalformedPDF(t *testing.T) {
	_, err := New(nil).Extract(context.Background(), KindPDF, MIMEPDF, []byte("%PDF-1.4 truncated"))
	assert.Error(t, err)
}

func TestExtract_Image(t *testing.T) {
	v := &fakeVision{text: "Taj Hotels\nTotal: 5,400.00 INR"}
	got, err := New(v).Extract(context.Background(), KindImage, "image/png", []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	assert.Equal(t, "Taj Hotels\nTotal: 5,400.00 INR", got)
	assert.Equal(t, "image/png", v.gotMIME)
	assert.Len(t, v.gotBytes, 4)
}

func TestExtract_ImageWithoutVision(t *testing.T) {
	_, err := New(nil).Extract(context.Background(), KindImage, "image/png", []byte{1})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestExtract_VisionError(t *testing.T) {
	v := &fakeVision{err: errors.New("quota exceeded")}
	_, err := New(v).Extract(context.Background(), KindImage, "image/jpeg", []byte{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestExtract_EmptyText(t *testing.T) {
	_, err := New(&fakeVision{text: "  \n "}).Extract(context.Background(), KindImage, "image/png", []byte{1})
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = New(nil).Extract(context.Background(), KindText, MIMEText, []byte("   "))
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestExtract_UnknownKind(t *testing.T) {
	_, err := New(nil).Extract(context.Background(), Kind("xlsx"), "", []byte("x"))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}
