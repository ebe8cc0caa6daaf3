package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// ErrHTTPGet is returned by FrameReader.ReadFrame when the very first bytes
// on a virgin connection spell an HTTP GET request. Browsers and monitoring
// probes poke game ports often enough that answering them politely beats
// logging a malformed-frame error.
var ErrHTTPGet = errors.New("http probe")

// FrameReader turns a raw byte stream into discrete packets: it reads the
// VarInt length prefix, bounds it, and undoes compression once the
// compression phase of the connection has begun. The source reader is
// expected to already be decrypted (see crypto.StreamReader); FrameReader
// itself never reads ahead of the current frame, which keeps the mid-stream
// cipher transition safe.
type FrameReader struct {
	src        io.Reader
	max        int
	compressed bool

	// pending holds bytes consumed during HTTP probe detection that
	// turned out to belong to a real frame.
	pending []byte
	started bool
	one     [1]byte
}

// NewFrameReader creates a FrameReader with the given maximum frame size.
func NewFrameReader(src io.Reader, maxFrameSize int) *FrameReader {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &FrameReader{src: src, max: maxFrameSize}
}

// EnableCompression switches the reader into compressed-frame mode. Called
// once, after the server has sent SetCompression.
func (fr *FrameReader) EnableCompression() {
	fr.compressed = true
}

// ReadByte reads a single byte, draining pushed-back probe bytes first.
func (fr *FrameReader) ReadByte() (byte, error) {
	if len(fr.pending) > 0 {
		b := fr.pending[0]
		fr.pending = fr.pending[1:]
		return b, nil
	}
	if _, err := io.ReadFull(fr.src, fr.one[:]); err != nil {
		return 0, err
	}
	return fr.one[0], nil
}

func (fr *FrameReader) readFull(buf []byte) error {
	n := copy(buf, fr.pending)
	fr.pending = fr.pending[n:]
	if n == len(buf) {
		return nil
	}
	_, err := io.ReadFull(fr.src, buf[n:])
	return err
}

// detectProbe sniffs the first bytes of the connection for "GET ". Bytes
// that don't match are pushed back and parsed as a frame.
func (fr *FrameReader) detectProbe() error {
	var head [4]byte
	if _, err := io.ReadFull(fr.src, head[:1]); err != nil {
		return err
	}
	if head[0] != 'G' {
		fr.pending = append(fr.pending, head[0])
		return nil
	}
	if _, err := io.ReadFull(fr.src, head[1:]); err != nil {
		return err
	}
	if bytes.Equal(head[:], []byte("GET ")) {
		return ErrHTTPGet
	}
	fr.pending = append(fr.pending, head[:]...)
	return nil
}

// ReadFrame reads one complete frame and returns the packet it contains.
func (fr *FrameReader) ReadFrame() (*Packet, error) {
	if !fr.started {
		fr.started = true
		if err := fr.detectProbe(); err != nil {
			return nil, err
		}
	}

	length, err := ReadVarInt(fr)
	if err != nil {
		return nil, err
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: frame length %d", ErrProtocol, length)
	}
	if int(length) > fr.max {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, fr.max)
	}

	body := make([]byte, length)
	if err := fr.readFull(body); err != nil {
		return nil, fmt.Errorf("failed to read frame body (%d bytes): %w", length, err)
	}

	plain := body
	if fr.compressed {
		plain, err = fr.inflate(body)
		if err != nil {
			return nil, err
		}
	}

	r := bytes.NewReader(plain)
	id, err := ReadVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse packet id: %w", err)
	}
	return &Packet{ID: id, Payload: plain[len(plain)-r.Len():]}, nil
}

// inflate undoes the compressed inner frame layout: VarInt(dataLength)
// followed by either plain data (dataLength == 0) or a zlib stream that
// must inflate to exactly dataLength bytes.
func (fr *FrameReader) inflate(body []byte) ([]byte, error) {
	r := bytes.NewReader(body)
	dataLen, err := ReadVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse data length: %w", err)
	}
	rest := body[len(body)-r.Len():]

	if dataLen == 0 {
		return rest, nil
	}
	if dataLen < 0 || int(dataLen) > fr.max {
		return nil, fmt.Errorf("%w: declared data length %d (max %d)", ErrFrameTooLarge, dataLen, fr.max)
	}

	zr, err := zlib.NewReader(bytes.NewReader(rest))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompression, err)
	}
	defer zr.Close()

	plain := make([]byte, dataLen)
	if _, err := io.ReadFull(zr, plain); err != nil {
		return nil, fmt.Errorf("%w: stream shorter than declared %d bytes: %v", ErrCompression, dataLen, err)
	}
	// The stream must end exactly at dataLen bytes.
	var extra [1]byte
	if n, _ := zr.Read(extra[:]); n != 0 {
		return nil, fmt.Errorf("%w: stream longer than declared %d bytes", ErrCompression, dataLen)
	}
	return plain, nil
}

// FrameWriter is the inverse of FrameReader: it frames packet bodies with a
// VarInt length prefix and, once compression is enabled with threshold T,
// compresses every body of T or more bytes. Bodies below the threshold are
// sent inside the compressed layout with data length 0. The destination
// writer applies encryption when active (see crypto.StreamWriter).
type FrameWriter struct {
	dst       io.Writer
	threshold int // negative = compression disabled

	scratch bytes.Buffer
	zw      *zlib.Writer
}

// NewFrameWriter creates a FrameWriter with compression disabled.
func NewFrameWriter(dst io.Writer) *FrameWriter {
	return &FrameWriter{dst: dst, threshold: -1}
}

// EnableCompression sets the compression threshold. Called once, right
// after SetCompression has been written uncompressed.
func (fw *FrameWriter) EnableCompression(threshold int) {
	if threshold < 0 {
		threshold = 0
	}
	fw.threshold = threshold
}

// WritePacket frames and writes one packet body (VarInt id + fields, as
// produced by PacketBuilder.Bytes). The frame goes out in a single Write so
// a mid-frame cipher activation can never split it.
func (fw *FrameWriter) WritePacket(body []byte) error {
	var frame []byte

	if fw.threshold < 0 {
		frame = AppendVarInt(make([]byte, 0, VarIntLen(int32(len(body)))+len(body)), int32(len(body)))
		frame = append(frame, body...)
	} else {
		inner, err := fw.compressedInner(body)
		if err != nil {
			return err
		}
		frame = AppendVarInt(make([]byte, 0, VarIntLen(int32(len(inner)))+len(inner)), int32(len(inner)))
		frame = append(frame, inner...)
	}

	if _, err := fw.dst.Write(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

// compressedInner builds the inner frame for the compressed layout.
// Bodies at or above the threshold are always compressed, even when the
// deflate output ends up larger than the input; the receiver only trusts
// the declared data length.
func (fw *FrameWriter) compressedInner(body []byte) ([]byte, error) {
	if len(body) < fw.threshold {
		inner := AppendVarInt(make([]byte, 0, 1+len(body)), 0)
		return append(inner, body...), nil
	}

	fw.scratch.Reset()
	if fw.zw == nil {
		fw.zw = zlib.NewWriter(&fw.scratch)
	} else {
		fw.zw.Reset(&fw.scratch)
	}
	if _, err := fw.zw.Write(body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompression, err)
	}
	if err := fw.zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompression, err)
	}

	inner := AppendVarInt(make([]byte, 0, VarIntLen(int32(len(body)))+fw.scratch.Len()), int32(len(body)))
	return append(inner, fw.scratch.Bytes()...), nil
}
