package parser

import (
	"io"
	"strings"
)

// TextParser handles plain text and Markdown files. Both already carry
// their headings inline, so the only work is newline normalisation.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (string, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s := string(src)
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s, nil
}
