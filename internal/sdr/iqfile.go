package sdr

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// IQFormat selects the on-disk sample encoding.
type IQFormat int

const (
	// FormatCF32 is interleaved little-endian float32 I/Q.
	FormatCF32 IQFormat = iota
	// FormatU8 is interleaved unsigned 8-bit I/Q centred on 127.5.
	FormatU8
)

func (f IQFormat) String() string {
	switch f {
	case FormatCF32:
		return "cf32"
	case FormatU8:
		return "u8"
	default:
		return fmt.Sprintf("IQFormat(%d)", int(f))
	}
}

func (f IQFormat) sampleSize() int {
	if f == FormatU8 {
		return 2
	}
	return 8
}

// ParseIQFormat converts a format name to an IQFormat.
func ParseIQFormat(s string) (IQFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cf32", "fc32", "":
		return FormatCF32, nil
	case "u8", "cu8":
		return FormatU8, nil
	default:
		return 0, fmt.Errorf("%w: iq format %q", ErrInvalidConfig, s)
	}
}

// IQFileSource reads recorded baseband from r in blocks of blockSize
// samples. The final block may be short; after it RX returns io.EOF.
type IQFileSource struct {
	r      io.Reader
	closer io.Closer
	format IQFormat
	buf    []byte
}

// NewIQFileSource wraps r. If r is an io.Closer, Close closes it.
func NewIQFileSource(r io.Reader, format IQFormat, blockSize int) (*IQFileSource, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil reader", ErrInvalidConfig)
	}
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: block size %d", ErrInvalidConfig, blockSize)
	}
	if format != FormatCF32 && format != FormatU8 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, format)
	}
	s := &IQFileSource{r: r, format: format, buf: make([]byte, blockSize*format.sampleSize())}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s, nil
}

func (s *IQFileSource) RX(ctx context.Context) ([]complex64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := io.ReadFull(s.r, s.buf)
	switch {
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		// partial trailing block; drop any torn sample
	case err != nil:
		return nil, err
	}
	size := s.format.sampleSize()
	out := make([]complex64, n/size)
	if len(out) == 0 {
		return nil, io.EOF
	}
	for i := range out {
		b := s.buf[i*size : (i+1)*size]
		if s.format == FormatU8 {
			out[i] = complex((float32(b[0])-127.5)/128, (float32(b[1])-127.5)/128)
			continue
		}
		out[i] = complex(
			math.Float32frombits(binary.LittleEndian.Uint32(b[0:4])),
			math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])))
	}
	return out, nil
}

func (s *IQFileSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// WriteCF32 encodes samples in the FormatCF32 layout.
func WriteCF32(w io.Writer, samples []complex64) error {
	buf := make([]byte, 8*len(samples))
	for i, x := range samples {
		binary.LittleEndian.PutUint32(buf[8*i:], math.Float32bits(real(x)))
		binary.LittleEndian.PutUint32(buf[8*i+4:], math.Float32bits(imag(x)))
	}
	_, err := w.Write(buf)
	return err
}
