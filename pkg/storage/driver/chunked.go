package driver

import (
	"context"
	"io"
)

// RangeFunc opens length bytes of an object starting at offset.
type RangeFunc func(ctx context.Context, offset, length int64) (io.ReadCloser, error)

// ChunkedReader streams an object of known size as consecutive ranged reads
// of partSize bytes. Only one range is open at a time.
type ChunkedReader struct {
	ctx      context.Context
	fetch    RangeFunc
	size     int64
	partSize int64

	offset  int64
	current io.ReadCloser
	inRange int64
	closed  bool
}

func NewChunkedReader(ctx context.Context, size, partSize int64, fetch RangeFunc) *ChunkedReader {
	if partSize <= 0 {
		partSize = size
	}
	return &ChunkedReader{
		ctx:      ctx,
		fetch:    fetch,
		size:     size,
		partSize: partSize,
	}
}

func (r *ChunkedReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, io.ErrClosedPipe
	}

	for {
		if r.current == nil {
			if r.offset >= r.size {
				return 0, io.EOF
			}
			if err := r.ctx.Err(); err != nil {
				return 0, err
			}

			length := r.partSize
			if r.offset+length > r.size {
				length = r.size - r.offset
			}
			rc, err := r.fetch(r.ctx, r.offset, length)
			if err != nil {
				return 0, err
			}
			r.current = rc
		}

		n, err := r.current.Read(p)
		r.offset += int64(n)
		r.inRange += int64(n)
		if err == io.EOF {
			r.current.Close()
			r.current = nil
			if r.inRange == 0 {
				return n, io.ErrUnexpectedEOF
			}
			r.inRange = 0
			err = nil
			if n == 0 {
				continue
			}
		}
		return n, err
	}
}

func (r *ChunkedReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.current != nil {
		return r.current.Close()
	}
	return nil
}
