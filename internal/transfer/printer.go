package transfer

import (
	"bufio"
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5"
)

// Printer shows a received file to the user.
type Printer interface {
	Print(fsys billy.Filesystem, path string) error
}

// TextPrinter writes the file line by line between a header and a footer.
type TextPrinter struct {
	W io.Writer
}

// Print implements Printer.
func (p TextPrinter) Print(fsys billy.Filesystem, path string) error {
	f, err := fsys.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file for printing: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(p.W)
	fmt.Fprint(bw, "\n=== File Content ===\n")
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		bw.Write(sc.Bytes())
		bw.WriteByte('\n')
	}
	fmt.Fprint(bw, "=== End of File ===\n\n")
	if err := sc.Err(); err != nil {
		_ = bw.Flush()
		return fmt.Errorf("failed to read file for printing: %w", err)
	}
	return bw.Flush()
}
