package executor

import (
	"bufio"
	"io"
	"regexp"
	"strings"
)

// ansiRegex strips terminal control sequences before lines go on the wire.
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07|\x1b[()][A-B0-2]`)

func stripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// streamPipe turns line-buffered pipe output into log events. Used when the
// subprocess runs without a terminal; there is no cursor movement to honor,
// so every line is an append.
func streamPipe(r io.Reader, emit func(LogEvent)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		emit(NewLogEvent(stripANSI(scanner.Text()), false))
	}
}

// streamTerminal turns raw terminal output into log events. A bare carriage
// return means the process is redrawing the current line (spinners, progress
// bars), which becomes a Replace event so clients can overwrite in place
// instead of scrolling.
func streamTerminal(r io.Reader, emit func(LogEvent)) {
	buf := make([]byte, 4096)
	var line strings.Builder
	replaceNext := false

	flush := func() {
		emit(NewLogEvent(stripANSI(line.String()), replaceNext))
		line.Reset()
		replaceNext = false
	}

	for {
		n, err := r.Read(buf)
		for i := 0; i < n; i++ {
			switch c := buf[i]; c {
			case '\n':
				// A \r\n split across reads already flushed at the \r.
				if replaceNext && line.Len() == 0 {
					replaceNext = false
					continue
				}
				flush()
			case '\r':
				// \r\n is an ordinary newline; a lone \r starts a redraw.
				if i+1 < n && buf[i+1] == '\n' {
					flush()
					i++
				} else {
					// Back-to-back \r from a fast spinner drew nothing in
					// between; keep the one pending replace.
					if line.Len() > 0 || !replaceNext {
						flush()
					}
					replaceNext = true
				}
			default:
				line.WriteByte(c)
			}
		}
		if err != nil {
			if line.Len() > 0 {
				flush()
			}
			return
		}
	}
}
