package index

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"go.etcd.io/bbolt"

	"kb/internal/domain"
)

const (
	// Index file header (v1):
	//   0..7   magic "KBFLATIP"
	//   8..11  format version (uint32)
	//   12..15 metric, 1 = inner product (uint32)
	//   16..23 dim (uint64)
	//   24..31 count (uint64)
	// followed by count*dim little-endian float32 values, row-major.
	headerSize    = 32
	formatVersion = 1
	metricIP      = 1
)

var fileMagic = [8]byte{'K', 'B', 'F', 'L', 'A', 'T', 'I', 'P'}

var (
	bucketMetadata = []byte("metadata")
	bucketInfo     = []byte("info")
	keyCount       = []byte("count")
)

func writeIndexFile(path string, f *flatIndex) error {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)

	var header [headerSize]byte
	copy(header[:8], fileMagic[:])
	binary.LittleEndian.PutUint32(header[8:12], formatVersion)
	binary.LittleEndian.PutUint32(header[12:16], metricIP)
	binary.LittleEndian.PutUint64(header[16:24], uint64(f.dim))
	binary.LittleEndian.PutUint64(header[24:32], uint64(f.count()))
	if _, err := w.Write(header[:]); err != nil {
		_ = file.Close()
		return err
	}

	var buf [4]byte
	for _, v := range f.data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := w.Write(buf[:]); err != nil {
			_ = file.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func readIndexFile(path string) (*flatIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < headerSize {
		return nil, fmt.Errorf("index file too small for header: %d < %d", len(data), headerSize)
	}
	var mg [8]byte
	copy(mg[:], data[:8])
	if mg != fileMagic {
		return nil, errors.New("invalid index file header (magic mismatch)")
	}
	if v := binary.LittleEndian.Uint32(data[8:12]); v != formatVersion {
		return nil, fmt.Errorf("unsupported index format version %d", v)
	}
	if m := binary.LittleEndian.Uint32(data[12:16]); m != metricIP {
		return nil, fmt.Errorf("unsupported index metric %d", m)
	}
	dim := binary.LittleEndian.Uint64(data[16:24])
	count := binary.LittleEndian.Uint64(data[24:32])
	if dim == 0 || dim > math.MaxInt32 {
		return nil, fmt.Errorf("invalid index file header (dim=%d)", dim)
	}
	body := data[headerSize:]
	// compare without multiplying header fields so a forged count cannot wrap
	rowBytes := 4 * dim
	n := uint64(len(body))
	if n%rowBytes != 0 || count != n/rowBytes {
		return nil, fmt.Errorf("index body is %d bytes, header declares %d vectors of dimension %d", len(body), count, dim)
	}

	f := newFlatIndex(int(dim))
	f.data = make([]float32, n/4)
	for i := range f.data {
		f.data[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:]))
	}
	return f, nil
}

// writeMetaFile stores metadata[i] under the big-endian key i, so a cursor
// walk returns entries in insertion order.
func writeMetaFile(path string, metadata []domain.Metadata) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	db, err := bbolt.Open(path, 0o644, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucket(bucketMetadata)
		if err != nil {
			return err
		}
		for i, md := range metadata {
			data, err := sonic.Marshal(md)
			if err != nil {
				return fmt.Errorf("encode metadata %d: %w", i, err)
			}
			if err := b.Put(ordinalKey(uint64(i)), data); err != nil {
				return err
			}
		}
		info, err := tx.CreateBucket(bucketInfo)
		if err != nil {
			return err
		}
		return info.Put(keyCount, ordinalKey(uint64(len(metadata))))
	})
	if err != nil {
		_ = db.Close()
		return err
	}
	return db.Close()
}

func readMetaFile(path string) ([]domain.Metadata, error) {
	db, err := bbolt.Open(path, 0o444, &bbolt.Options{Timeout: 5 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var out []domain.Metadata
	err = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		info := tx.Bucket(bucketInfo)
		if b == nil || info == nil {
			return errors.New("metadata file has no metadata bucket")
		}
		raw := info.Get(keyCount)
		if len(raw) != 8 {
			return errors.New("metadata file has no entry count")
		}
		count := binary.BigEndian.Uint64(raw)
		out = make([]domain.Metadata, 0, count)

		c := b.Cursor()
		next := uint64(0)
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(k) != 8 || binary.BigEndian.Uint64(k) != next {
				return fmt.Errorf("metadata ordinal gap at position %d", next)
			}
			var md domain.Metadata
			if err := sonic.Unmarshal(v, &md); err != nil {
				return fmt.Errorf("decode metadata %d: %w", next, err)
			}
			out = append(out, md)
			next++
		}
		if next != count {
			return fmt.Errorf("metadata file holds %d entries, header declares %d", next, count)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// canonical returns md in the exact shape it has after a save/load cycle.
func canonical(md domain.Metadata) (domain.Metadata, error) {
	data, err := sonic.Marshal(md)
	if err != nil {
		return nil, err
	}
	var out domain.Metadata
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = domain.Metadata{}
	}
	return out, nil
}

func ordinalKey(i uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], i)
	return k[:]
}
