package server

import (
	"fmt"
	"net/http"
	"strings"
)

// sseWriter emits Server-Sent Event frames over an http.ResponseWriter,
// flushing after every frame so the client renders tokens as they arrive.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// writeData emits chunk as a default-event data frame. Each newline in chunk
// is prefixed with "data: " so multi-line chunks never break the SSE frame
// boundary.
func (s *sseWriter) writeData(chunk string) {
	var buf strings.Builder
	for _, line := range strings.Split(strings.TrimRight(chunk, "\n"), "\n") {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	fmt.Fprint(s.w, buf.String())
	s.flusher.Flush()
}

// writeEvent emits a named event with a single data line.
func (s *sseWriter) writeEvent(event, data string) {
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	s.flusher.Flush()
}
