// Package extract 把二进制文档解析为线性文本。
// 目前只支持 PDF；页与页之间以空行分隔，供下游 Prompt 拼装。
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedFormat 表示字节流不是可解析的文档格式。
var ErrUnsupportedFormat = errors.New("unsupported document format")

// ErrCorruptDocument 表示解析开始后无法完成。
var ErrCorruptDocument = errors.New("document is corrupt")

var pdfMagic = []byte("%PDF-")

// Text 把 PDF 字节解析为单个线性字符串。无副作用，不落盘。
func Text(data []byte) (text string, err error) {
	if !bytes.HasPrefix(data, pdfMagic) {
		return "", fmt.Errorf("%w: missing PDF header", ErrUnsupportedFormat)
	}

	// 解析库对畸形文档会 panic，统一归为损坏。
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: parser panic: %v", ErrCorruptDocument, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", ErrCorruptDocument, i, err)
		}
		content = strings.TrimSpace(content)
		if content != "" {
			pages = append(pages, content)
		}
	}

	return strings.Join(pages, "\n\n"), nil
}
