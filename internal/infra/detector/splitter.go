package detector

import "bytes"

// LineSplitter cuts a byte stream delivered in arbitrary chunks into
// newline-terminated lines. Bytes after the last newline are held until the
// next chunk or Flush.
type LineSplitter struct {
	pending []byte
}

// Feed appends chunk and returns every line completed by it, without the
// trailing newline (and without a trailing '\r').
func (s *LineSplitter) Feed(chunk []byte) [][]byte {
	var lines [][]byte
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			s.pending = append(s.pending, chunk...)
			break
		}
		line := chunk[:i]
		if len(s.pending) > 0 {
			line = append(s.pending, line...)
			s.pending = nil
		} else {
			line = append([]byte(nil), line...)
		}
		lines = append(lines, bytes.TrimSuffix(line, []byte{'\r'}))
		chunk = chunk[i+1:]
	}
	return lines
}

// Flush returns the unterminated tail, or nil if it is blank.
func (s *LineSplitter) Flush() []byte {
	tail := s.pending
	s.pending = nil
	if len(bytes.TrimSpace(tail)) == 0 {
		return nil
	}
	return tail
}
