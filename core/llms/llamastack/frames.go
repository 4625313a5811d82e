package llamastack

import (
	"bytes"
	"context"
	"log/slog"
)

const chunkPrefix = "data:"

// FrameDecoder splits raw stream chunks into event payloads. Chunks can be cut
// anywhere, including between the `\r` and `\n` of a line terminator or in
// the middle of a multi-byte character; the incomplete tail is carried over to
// the next chunk.
type FrameDecoder struct {
	carry []byte
}

// Feed adds a chunk and returns the payloads of all lines it completed, in
// order.
func (d *FrameDecoder) Feed(chunk []byte) []string {
	d.carry = append(d.carry, chunk...)

	var payloads []string
	consumed := 0
	for {
		end := bytes.IndexByte(d.carry[consumed:], '\n')
		if end < 0 {
			break
		}
		line := d.carry[consumed : consumed+end]
		consumed += end + 1
		if payload, ok := parseFrame(line); ok {
			payloads = append(payloads, payload)
		}
	}

	if consumed > 0 {
		d.carry = append([]byte(nil), d.carry[consumed:]...)
	}
	return payloads
}

// Flush treats any carried over bytes as the final line of the stream.
func (d *FrameDecoder) Flush() []string {
	line := d.carry
	d.carry = nil
	if payload, ok := parseFrame(line); ok {
		return []string{payload}
	}
	return nil
}

// Pending returns the number of carried over bytes.
func (d *FrameDecoder) Pending() int {
	return len(d.carry)
}

func parseFrame(line []byte) (string, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return "", false
	}

	payload, ok := bytes.CutPrefix(line, []byte(chunkPrefix))
	if !ok {
		logger.Log(context.Background(), slog.LevelDebug, "skipping non-data line", slog.String("line", string(line)))
		return "", false
	}

	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return "", false
	}
	return string(payload), true
}
