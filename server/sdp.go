package server

import (
	"bytes"
)

// stripVideoSections removes every video media section from a session
// description before the media plane sees it. The media stack negotiates
// audio only and hard-rejects offers that still carry video. This is a
// text transform, not codec negotiation.
func stripVideoSections(sdp []byte) []byte {
	if !bytes.Contains(sdp, []byte("m=video")) {
		return sdp
	}

	lines := bytes.Split(sdp, []byte("\r\n"))
	sep := []byte("\r\n")
	if len(lines) == 1 {
		lines = bytes.Split(sdp, []byte("\n"))
		sep = []byte("\n")
	}

	out := make([][]byte, 0, len(lines))
	skipping := false
	for _, line := range lines {
		if bytes.HasPrefix(line, []byte("m=")) {
			skipping = bytes.HasPrefix(line, []byte("m=video"))
		}
		if skipping {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, sep)
}
