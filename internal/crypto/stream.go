package crypto

import (
	"errors"
	"io"
)

// ErrCipherActive is returned when a stream's cipher is activated twice.
// The shared secret is established exactly once per connection; a second
// activation is always an engine bug, never a recoverable condition.
var ErrCipherActive = errors.New("cipher already active")

// StreamReader wraps the raw byte source of a connection. Before Activate
// it passes bytes through unchanged; afterwards every byte read from the
// underlying reader is decrypted. The transition is not retroactive: the
// protocol is lock-step around the encryption handshake, so no ciphertext
// can arrive before the cipher is installed.
type StreamReader struct {
	src    io.Reader
	cipher *CFB8
}

// NewStreamReader wraps src in pass-through mode.
func NewStreamReader(src io.Reader) *StreamReader {
	return &StreamReader{src: src}
}

// Activate installs the read-direction cipher. One-shot.
func (s *StreamReader) Activate(c *CFB8) error {
	if s.cipher != nil {
		return ErrCipherActive
	}
	s.cipher = c
	return nil
}

// Active reports whether the cipher has been installed.
func (s *StreamReader) Active() bool {
	return s.cipher != nil
}

func (s *StreamReader) Read(p []byte) (int, error) {
	n, err := s.src.Read(p)
	if n > 0 && s.cipher != nil {
		s.cipher.XORKeyStream(p[:n], p[:n])
	}
	return n, err
}

// StreamWriter is the write-direction twin of StreamReader. The two
// directions hold independent cipher instances even though they share key
// material, because each side's cipher state advances per byte it
// processes.
type StreamWriter struct {
	dst    io.Writer
	cipher *CFB8
	buf    []byte
}

// NewStreamWriter wraps dst in pass-through mode.
func NewStreamWriter(dst io.Writer) *StreamWriter {
	return &StreamWriter{dst: dst}
}

// Activate installs the write-direction cipher. One-shot.
func (s *StreamWriter) Activate(c *CFB8) error {
	if s.cipher != nil {
		return ErrCipherActive
	}
	s.cipher = c
	return nil
}

// Active reports whether the cipher has been installed.
func (s *StreamWriter) Active() bool {
	return s.cipher != nil
}

func (s *StreamWriter) Write(p []byte) (int, error) {
	if s.cipher == nil {
		return s.dst.Write(p)
	}
	if cap(s.buf) < len(p) {
		s.buf = make([]byte, len(p))
	}
	out := s.buf[:len(p)]
	s.cipher.XORKeyStream(out, p)
	n, err := s.dst.Write(out)
	return n, err
}
