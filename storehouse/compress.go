package storehouse

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

// ZstdReader streams the zstd-decompressed contents of r from its current
// cursor. Closing the returned reader releases the decoder but not r.
func ZstdReader(r *Reader) (io.ReadCloser, error) {
	if r.Closed() {
		return nil, ErrClosed
	}
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}

// ZstdCompress returns a writer that zstd-compresses into w, for producing
// objects ZstdReader can consume.
func ZstdCompress(w io.Writer) (io.WriteCloser, error) {
	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return nil, err
	}
	return encoder, nil
}
