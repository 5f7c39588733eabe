// Package pdfutil 在 Tika 不可用时提供本地的 PDF 文本抽取。
package pdfutil

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// ErrNotPDF 表示内容不是 PDF。
var ErrNotPDF = errors.New("content is not a pdf")

// ExtractText 逐页读取纯文本，maxPages <= 0 表示不限制页数。
func ExtractText(data []byte, maxPages int) (string, error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return "", ErrNotPDF
	}
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("new pdf reader: %w", err)
	}
	total := doc.NumPage()
	if maxPages > 0 && total > maxPages {
		total = maxPages
	}
	var builder strings.Builder
	for page := 1; page <= total; page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", page, err)
		}
		builder.WriteString(strings.TrimSpace(content))
		builder.WriteString("\n")
	}
	return strings.TrimSpace(builder.String()), nil
}
