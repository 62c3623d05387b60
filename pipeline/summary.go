package pipeline

import (
	"fmt"
	"io"
	"strconv"

	"github.com/mattn/go-runewidth"
)

// Summary counts what a run generated.
type Summary struct {
	Functions int
	Records   int
	Enums     int
	Typedefs  int
	Constants int
	Skipped   int
	Externs   int
}

func (s Summary) rows() [][2]string {
	return [][2]string{
		{"Functions", strconv.Itoa(s.Functions)},
		{"Records", strconv.Itoa(s.Records)},
		{"Enums", strconv.Itoa(s.Enums)},
		{"Typedefs", strconv.Itoa(s.Typedefs)},
		{"Constants", strconv.Itoa(s.Constants)},
		{"Skipped declarations", strconv.Itoa(s.Skipped)},
		{"C# imports", strconv.Itoa(s.Externs)},
	}
}

// Print writes the summary as a two column table.
func (s Summary) Print(w io.Writer) error {
	rows := s.rows()
	labelWidth, valueWidth := 0, 0
	for _, r := range rows {
		labelWidth = max(labelWidth, runewidth.StringWidth(r[0]))
		valueWidth = max(valueWidth, runewidth.StringWidth(r[1]))
	}
	for _, r := range rows {
		_, err := fmt.Fprintf(w, "%s  %s\n",
			runewidth.FillRight(r[0], labelWidth),
			runewidth.FillLeft(r[1], valueWidth))
		if err != nil {
			return err
		}
	}
	return nil
}
