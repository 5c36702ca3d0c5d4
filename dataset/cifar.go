package dataset

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/openfluke/latentlens/nn"
)

const (
	cifarSide   = 32
	cifarRecord = 1 + 3*cifarSide*cifarSide
)

// LoadCIFAR10 reads the CIFAR-10 binary release: records of one label byte
// followed by 3072 channel-major pixels. path may name a .bin file or a
// directory of data_batch_*.bin files. Only labels in classes are kept when
// classes is non-empty.
func LoadCIFAR10(path string, classes []int, limit int) (*Batch, error) {
	files := []string{path}
	if fi, err := os.Stat(path); err != nil {
		return nil, err
	} else if fi.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "data_batch_*.bin"))
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no data_batch_*.bin in %s: %w", path, os.ErrNotExist)
		}
		sort.Strings(files)
	}

	keep := map[int]bool{}
	for _, c := range classes {
		keep[c] = true
	}

	b := &Batch{Shape: nn.Shape{C: 3, H: cifarSide, W: cifarSide}, Labels: []int{}}
	rec := make([]byte, cifarRecord)
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		for limit <= 0 || b.N < limit {
			if _, err = io.ReadFull(f, rec); err != nil {
				break
			}
			label := int(rec[0])
			if len(keep) > 0 && !keep[label] {
				continue
			}
			for _, v := range rec[1:] {
				b.Data = append(b.Data, float32(v)/255)
			}
			b.Labels = append(b.Labels, label)
			b.N++
		}
		f.Close()
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("%s: %v: %w", name, err, ErrFormat)
		}
		if limit > 0 && b.N >= limit {
			break
		}
	}
	return b, nil
}
