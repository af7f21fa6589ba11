package labelbank

import (
	"bufio"
	"fmt"
	"math"
	"os"

	"github.com/latchvision/latchvision/pkg/calibration"
)

// On-disk shard layout. No mmap library is present anywhere in this
// project's reference corpus (no golang.org/x/sys/unix mmap call, no
// third-party mmap package), so Open reads the file fully into a
// process-owned, read-only []byte arena with os.ReadFile rather than
// mapping it — functionally equivalent for shard sizes in the tens of
// thousands of rows, and still a single read-only allocation shared by
// every query against the shard.
//
// Layout:
//
//	magic      [4]byte  "LVSB"
//	version    uint32
//	dim        uint32
//	rowCount   uint32
//	labelCount uint32
//	labels     labelCount * (uint16 len, bytes)
//	labelIDs   rowCount * int32
//	vectors    rowCount*dim * float32
//	calib      see writeCalibration/readCalibration
//	structHash [32]byte (sha256 raw digest, matches Shard.hash hex-decoded)
const (
	shardMagic   = "LVSB"
	shardVersion = 1
)

// Save persists the shard to path in the binary layout documented above.
func Save(s *Shard, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("labelbank: create shard file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(shardMagic); err != nil {
		return err
	}
	if err := writeU32(w, shardVersion); err != nil {
		return err
	}
	if err := writeU32(w, uint32(s.dim)); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(s.labelIDs))); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(s.labels))); err != nil {
		return err
	}
	for _, label := range s.labels {
		if err := writeU16(w, uint16(len(label))); err != nil {
			return err
		}
		if _, err := w.WriteString(label); err != nil {
			return err
		}
	}
	for _, id := range s.labelIDs {
		if err := writeU32(w, uint32(id)); err != nil {
			return err
		}
	}
	for _, v := range s.vectors {
		if err := writeU32(w, math.Float32bits(v)); err != nil {
			return err
		}
	}
	if err := writeCalibration(w, s.calib, s.labels); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%s", hexToRaw(s.hash)); err != nil {
		return err
	}
	return w.Flush()
}

// Open reads a shard file into memory and validates its magic and row
// count. It returns ErrEmptyShard for a zero-row shard and an error for
// a bad magic, a truncated file or a read failure. The stored structural
// hash is taken as written; it is not recomputed from the loaded rows.
func Open(path string) (*Shard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("labelbank: open shard: %w", err)
	}
	r := newReader(data)

	magic, err := r.readN(4)
	if err != nil || string(magic) != shardMagic {
		return nil, fmt.Errorf("labelbank: bad shard magic")
	}
	if _, err := r.readU32(); err != nil { // version, unused for now
		return nil, err
	}
	dim, err := r.readU32()
	if err != nil {
		return nil, err
	}
	rowCount, err := r.readU32()
	if err != nil {
		return nil, err
	}
	if rowCount == 0 {
		return nil, ErrEmptyShard
	}
	labelCount, err := r.readU32()
	if err != nil {
		return nil, err
	}

	labels := make([]string, labelCount)
	for i := range labels {
		n, err := r.readU16()
		if err != nil {
			return nil, err
		}
		b, err := r.readN(int(n))
		if err != nil {
			return nil, err
		}
		labels[i] = string(b)
	}

	labelIDs := make([]int32, rowCount)
	for i := range labelIDs {
		v, err := r.readU32()
		if err != nil {
			return nil, err
		}
		labelIDs[i] = int32(v)
	}

	vectors := make([]float32, uint64(rowCount)*uint64(dim))
	for i := range vectors {
		v, err := r.readU32()
		if err != nil {
			return nil, err
		}
		vectors[i] = math.Float32frombits(v)
	}

	calib, err := readCalibration(r, labels)
	if err != nil {
		return nil, err
	}

	hashBytes, err := r.readN(32)
	if err != nil {
		return nil, err
	}

	s := &Shard{
		dim:      int(dim),
		vectors:  vectors,
		labelIDs: labelIDs,
		labels:   labels,
		calib:    calib,
		hash:     fmt.Sprintf("%x", hashBytes),
	}
	return s, nil
}

func writeCalibration(w *bufio.Writer, t *calibration.Table, labels []string) error {
	if err := writeF64(w, t.Temperature); err != nil {
		return err
	}
	if err := writeF64(w, t.DefaultThreshold()); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(labels))); err != nil {
		return err
	}
	for _, label := range labels {
		if err := writeF64(w, t.Threshold(label)); err != nil {
			return err
		}
	}
	return nil
}

func readCalibration(r *reader, labels []string) (*calibration.Table, error) {
	temperature, err := r.readF64()
	if err != nil {
		return nil, err
	}
	defaultTau, err := r.readF64()
	if err != nil {
		return nil, err
	}
	n, err := r.readU32()
	if err != nil {
		return nil, err
	}
	stats := make([]calibration.LabelStats, 0, n)
	for i := uint32(0); i < n; i++ {
		tau, err := r.readF64()
		if err != nil {
			return nil, err
		}
		label := ""
		if int(i) < len(labels) {
			label = labels[i]
		}
		stats = append(stats, calibration.LabelStats{Label: label, AcceptThresh: tau})
	}
	return calibration.NewTable(stats, temperature, defaultTau), nil
}
