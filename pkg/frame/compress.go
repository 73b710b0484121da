package frame

import "github.com/golang/snappy"

// Compressor transforms whole frame bodies when the Compress header
// flag is negotiated during STARTUP.
type Compressor interface {
	// Name is the value advertised in the STARTUP COMPRESSION option.
	Name() string
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// SnappyCompressor implements the snappy compression scheme, the one
// scheme defined for protocol versions 1 and 2.
type SnappyCompressor struct{}

func (s SnappyCompressor) Name() string {
	return "snappy"
}

func (s SnappyCompressor) Encode(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (s SnappyCompressor) Decode(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}
