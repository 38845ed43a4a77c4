package linktest

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/arloliu/go-linktest/wire"
)

// frameReader performs the two-phase frame decode over a Transport.
//
// Phase one reads the 4-byte length prefix and validates it against the
// codec's sane bounds, so a corrupted length can never force an unbounded
// read. Phase two reads exactly the declared body plus the checksum trailer,
// applying the inter-character timeout per read call: the timer restarts
// after each chunk of data, bounding mid-frame stalls without penalizing
// slow links.
//
// Not goroutine-safe. The receive loop is the only reader of the transport
// during a session.
type frameReader struct {
	t      Transport
	reader *bufio.Reader
	cfg    *Config
	lenBuf [wire.LengthPrefixSize]byte
}

func newFrameReader(t Transport, cfg *Config) *frameReader {
	return &frameReader{
		t:      t,
		reader: bufio.NewReader(t),
		cfg:    cfg,
	}
}

// readFrame reads one frame from the transport.
//
// pollTimeout applies to the wait for the length prefix; once the prefix
// has arrived the body is read under the inter-character timeout. A
// checksum mismatch returns the decoded frame together with
// wire.ErrChecksumMismatch so the caller can classify it.
func (fr *frameReader) readFrame(pollTimeout time.Duration) (*wire.Frame, error) {
	if err := fr.readFull(fr.lenBuf[:], pollTimeout); err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint32(fr.lenBuf[:])
	if err := wire.ValidateLength(length); err != nil {
		return nil, err
	}

	body := make([]byte, length+4)
	if err := fr.readFull(body, fr.cfg.interCharTimeout); err != nil {
		return nil, fmt.Errorf("linktest: reading frame body: %w", err)
	}

	return wire.ParseFrame(length, body)
}

// readFull reads exactly len(buf) bytes, resetting the deadline before each
// read call so the timeout bounds inter-chunk gaps rather than total time.
func (fr *frameReader) readFull(buf []byte, timeout time.Duration) error {
	for read := 0; read < len(buf); {
		if err := fr.t.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}

		n, err := fr.reader.Read(buf[read:])
		read += n

		if err != nil {
			return err
		}
	}

	return nil
}

// drainUntilSilence reads and discards bytes until the line is quiet for
// one inter-character timeout. After a malformed frame the declared length
// is untrustworthy, so the receiver resynchronizes by waiting out the rest
// of the sender's transmission instead of guessing the next frame boundary.
func (fr *frameReader) drainUntilSilence() int {
	buf := make([]byte, 256)
	drained := 0

	for {
		_ = fr.t.SetReadDeadline(time.Now().Add(fr.cfg.interCharTimeout))

		n, err := fr.reader.Read(buf)
		drained += n

		if err != nil {
			return drained
		}
	}
}
