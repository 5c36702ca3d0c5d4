package dataset

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/openfluke/latentlens/nn"
)

// idxImages is the magic number of an unsigned-byte, rank-3 IDX file.
const idxImages = 0x00000803

// idxCandidates are tried in order when LoadIDX is given a directory.
var idxCandidates = []string{
	"train-images-idx3-ubyte",
	"train-images-idx3-ubyte.gz",
	"train-images.idx3-ubyte",
	"t10k-images-idx3-ubyte",
	"t10k-images-idx3-ubyte.gz",
}

// LoadIDX reads MNIST-style image files, gzip compressed or not. path may
// name the file or a directory holding one of the standard file names.
func LoadIDX(path string, limit int) (*Batch, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		found := ""
		for _, name := range idxCandidates {
			if _, err := os.Stat(filepath.Join(path, name)); err == nil {
				found = filepath.Join(path, name)
				break
			}
		}
		if found == "" {
			return nil, fmt.Errorf("no idx image file in %s: %w", path, os.ErrNotExist)
		}
		path = found
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readIDX(bufio.NewReader(f), limit)
}

func readIDX(br *bufio.Reader, limit int) (*Batch, error) {
	var r io.Reader = br
	if head, err := br.Peek(2); err == nil && bytes.Equal(head, []byte{0x1f, 0x8b}) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var hdr struct {
		Magic, Count, Rows, Cols uint32
	}
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("idx header: %v: %w", err, ErrFormat)
	}
	if hdr.Magic != idxImages {
		return nil, fmt.Errorf("idx magic %#08x: %w", hdr.Magic, ErrFormat)
	}
	n := int(hdr.Count)
	if limit > 0 && limit < n {
		n = limit
	}
	shape := nn.Shape{C: 1, H: int(hdr.Rows), W: int(hdr.Cols)}
	raw := make([]byte, n*shape.Size())
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("idx pixels: %v: %w", err, ErrFormat)
	}
	data := make([]float32, len(raw))
	for i, v := range raw {
		data[i] = float32(v) / 255
	}
	return &Batch{N: n, Shape: shape, Data: data}, nil
}
