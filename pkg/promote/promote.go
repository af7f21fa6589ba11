package promote

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/latchvision/latchvision/internal/errs"
	"github.com/latchvision/latchvision/pkg/vector"
)

// Medoid is one int8-quantized representative vector for a class.
type Medoid struct {
	Label    string
	Ordinal  int // 1-based, ≤3
	Quant    vector.Int8Vector
	Sequence uint64
	Digest   string // hex blake2b-256 over Quant.Payload
}

// Result is the outcome of promoting one class.
type Result struct {
	Label   string
	Medoids []Medoid
	Skipped bool
	Reason  string // set when Skipped
}

// DequantCosineErrorBound is the maximum allowed mean cosine error
// between a unit vector and its quantize/dequantize round trip
// (spec.md §8 round-trip law).
const DequantCosineErrorBound = 5e-3

// Promote runs deterministic herding for one class and quantizes the
// chosen medoids. embeddings must already be L2-normalized; sequences
// is the ledger sequence each embedding was accepted at, used for
// herding tie-breaks.
func Promote(label string, embeddings [][]float32, sequences []uint64, cap int, lambda float64) (Result, error) {
	if len(embeddings) == 0 {
		return Result{Label: label, Skipped: true, Reason: "empty class"}, nil
	}
	if len(embeddings) != len(sequences) {
		return Result{}, fmt.Errorf("promote: embeddings/sequences length mismatch")
	}

	indices := selectMedoids(embeddings, sequences, cap, lambda)
	medoids := make([]Medoid, 0, len(indices))
	for ord, idx := range indices {
		q := vector.Quantize(embeddings[idx])
		digest := blake2bDigest(quantPayloadBytes(q))
		medoids = append(medoids, Medoid{
			Label:    label,
			Ordinal:  ord + 1,
			Quant:    q,
			Sequence: sequences[idx],
			Digest:   digest,
		})
	}
	return Result{Label: label, Medoids: medoids}, nil
}

func quantPayloadBytes(q vector.Int8Vector) []byte {
	b := make([]byte, len(q.Payload))
	for i, v := range q.Payload {
		b[i] = byte(v)
	}
	return b
}

func blake2bDigest(payload []byte) string {
	sum := blake2b.Sum256(payload)
	return fmt.Sprintf("%x", sum)
}

// On-disk class medoid file: a sequence of medoid blocks, one per
// ordinal, each laid out per spec.md §6:
//
//	dim      uint32
//	ordinal  uint8
//	scale    float32
//	zero     int8
//	payload  dim * int8
//	digest   32 bytes (blake2b-256 of payload)
//
// followed immediately by the next block. A class has ≤3 blocks.

// SaveClassFile atomically replaces the medoid file for a class via
// write-temp + rename (spec.md §4.5 step 5), grounded on this
// codebase's pattern of never leaving a half-written artifact visible
// to readers.
func SaveClassFile(path string, medoids []Medoid) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".medoid-*.tmp")
	if err != nil {
		return fmt.Errorf("promote: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	for _, m := range medoids {
		if err := writeMedoidBlock(w, m); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("promote: rename into place: %w", err)
	}
	return nil
}

func writeMedoidBlock(w *bufio.Writer, m Medoid) error {
	dim := len(m.Quant.Payload)
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(dim))
	if _, err := w.Write(u32[:]); err != nil {
		return err
	}
	if err := w.WriteByte(byte(m.Ordinal)); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(u32[:], math.Float32bits(m.Quant.Scale))
	if _, err := w.Write(u32[:]); err != nil {
		return err
	}
	if err := w.WriteByte(byte(m.Quant.Zero)); err != nil {
		return err
	}
	payload := quantPayloadBytes(m.Quant)
	if _, err := w.Write(payload); err != nil {
		return err
	}
	digestBytes, err := hexDecode32(m.Digest)
	if err != nil {
		return err
	}
	_, err = w.Write(digestBytes)
	return err
}

// LoadClassFile reads every medoid block from a class medoid file.
func LoadClassFile(path string) ([]Medoid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("promote: read medoid file: %w", err)
	}
	var medoids []Medoid
	pos := 0
	for pos < len(data) {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("promote: truncated medoid block header")
		}
		dim := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if pos+1 > len(data) {
			return nil, fmt.Errorf("promote: truncated medoid ordinal")
		}
		ordinal := int(data[pos])
		pos++
		if pos+4 > len(data) {
			return nil, fmt.Errorf("promote: truncated medoid scale")
		}
		scale := math.Float32frombits(binary.LittleEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if pos+1 > len(data) {
			return nil, fmt.Errorf("promote: truncated medoid zero point")
		}
		zero := int8(data[pos])
		pos++
		if pos+dim > len(data) {
			return nil, fmt.Errorf("promote: truncated medoid payload")
		}
		payload := make([]int8, dim)
		for i := 0; i < dim; i++ {
			payload[i] = int8(data[pos+i])
		}
		pos += dim
		if pos+32 > len(data) {
			return nil, fmt.Errorf("promote: truncated medoid digest")
		}
		digest := fmt.Sprintf("%x", data[pos:pos+32])
		pos += 32

		q := vector.Int8Vector{Payload: payload, Scale: scale, Zero: zero}
		wantDigest := blake2bDigest(quantPayloadBytes(q))
		if wantDigest != digest {
			return nil, errs.Data("medoid digest mismatch", fmt.Errorf("ordinal %d", ordinal))
		}
		medoids = append(medoids, Medoid{Ordinal: ordinal, Quant: q, Digest: digest})
	}
	return medoids, nil
}

func hexDecode32(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("promote: decode digest: %w", err)
	}
	return b, nil
}

// LedgerRecord is one entry in the append-only promotion ledger
// (spec.md §4.5 step 6) — distinct from and not hash-chained with the
// Evidence Ledger, since it records an offline, non-concurrent write.
type LedgerRecord struct {
	Label     string    `json:"label"`
	Sequences []uint64  `json:"sequences"`
	Digest    string    `json:"digest"`
	Timestamp time.Time `json:"timestamp"`
}

// AppendPromotionLedger appends rec as one JSON line to path.
func AppendPromotionLedger(path string, rec LedgerRecord) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("promote: open promotion ledger: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("promote: encode promotion record: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("promote: write promotion record: %w", err)
	}
	return f.Sync()
}
