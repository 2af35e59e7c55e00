package pipeline

import "fmt"

// Chunk represents a single region of a capture stream.
//
// Number respresents how many chunks into the stream this chunk is
// Offset is the index of the first byte of the stream that is included in Data
// Size is the length of the Data slice
// Hash is filled in once the chunk has been stored, and holds whatever the
// 	destination uses to identify the stored bytes (an ETag or md5 sum)
// Data is owned by the chunk and must not be modified once it has been sent
type Chunk struct {
	Number uint
	Offset uint
	Size   uint
	Hash   string
	Data   []byte
}

// String describes the chunk without its data.
func (c Chunk) String() string {
	return fmt.Sprintf("chunk %d [offset %d size %d]", c.Number, c.Offset, c.Size)
}

// Split divides data into sequential regions of at most chunkSize bytes.
// Boundaries fall on multiples of chunkSize and the last region may be
// shorter. A chunkSize of zero passes data through whole. Empty data
// yields no regions. The regions share data's backing array.
func Split(data []byte, chunkSize uint) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if chunkSize == 0 || uint(len(data)) <= chunkSize {
		return [][]byte{data}
	}
	regions := make([][]byte, 0, (uint(len(data))+chunkSize-1)/chunkSize)
	for start := uint(0); start < uint(len(data)); start += chunkSize {
		regions = append(regions, data[start:min(start+chunkSize, uint(len(data)))])
	}
	return regions
}
