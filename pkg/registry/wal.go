package registry

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"strconv"
)

const walFileName = "sessions.wal"

// Op names the lifecycle event carried by a log record.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpClose  Op = "close"
)

// record is one WAL entry. It carries the full post-state of the session so
// folding the same record twice yields the same index.
type record struct {
	Seq     uint64  `json:"seq"`
	Op      Op      `json:"op"`
	Session Session `json:"session"`
}

var errCorruptRecord = errors.New("corrupt log record")

// logFile is the subset of *os.File the writer needs.
type logFile interface {
	io.Writer
	Sync() error
	Truncate(size int64) error
	Seek(offset int64, whence int) (int64, error)
	Close() error
}

// encodeRecord renders "<crc32 hex> <json>\n".
func encodeRecord(rec record) ([]byte, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	line := make([]byte, 0, len(payload)+10)
	line = fmt.Appendf(line, "%08x ", crc32.ChecksumIEEE(payload))
	line = append(line, payload...)
	line = append(line, '\n')
	return line, nil
}

func decodeRecord(line []byte) (record, error) {
	line = bytes.TrimSuffix(line, []byte("\n"))
	sum, payload, ok := bytes.Cut(line, []byte(" "))
	if !ok || len(sum) != 8 {
		return record{}, errCorruptRecord
	}

	want, err := strconv.ParseUint(string(sum), 16, 32)
	if err != nil {
		return record{}, errCorruptRecord
	}
	if crc32.ChecksumIEEE(payload) != uint32(want) {
		return record{}, fmt.Errorf("%w: checksum mismatch", errCorruptRecord)
	}

	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return record{}, fmt.Errorf("%w: %v", errCorruptRecord, err)
	}
	if err := rec.Session.Validate(); err != nil {
		return record{}, fmt.Errorf("%w: %v", errCorruptRecord, err)
	}
	return rec, nil
}

// replayResult describes what readLog found.
type replayResult struct {
	records  []record
	validEnd int64 // byte offset just past the last intact record
	torn     bool  // trailing bytes after validEnd were discarded
}

// readLog reads every intact record from f. An undecodable line counts as
// the torn tail of an unfinished write only when no intact record follows
// it; otherwise committed records would be lost and readLog fails with
// ErrDurability instead.
func readLog(f *os.File) (replayResult, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return replayResult{}, err
	}

	var (
		res    replayResult
		offset int64
	)
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			res.torn = len(line) > 0
			break
		}
		if err != nil {
			return replayResult{}, err
		}

		rec, decodeErr := decodeRecord(line)
		if decodeErr != nil {
			if err := checkTail(reader, offset+int64(len(line))); err != nil {
				return replayResult{}, fmt.Errorf("%w: record at byte %d: %w", ErrDurability, offset, err)
			}
			res.torn = true
			break
		}

		offset += int64(len(line))
		res.records = append(res.records, rec)
		res.validEnd = offset
	}

	return res, nil
}

// checkTail scans what follows a corrupt line and fails if any of it still
// decodes.
func checkTail(reader *bufio.Reader, offset int64) error {
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if _, decodeErr := decodeRecord(line); decodeErr == nil {
				return fmt.Errorf("%w: intact record follows at byte %d", errCorruptRecord, offset)
			}
			offset += int64(len(line))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// apply folds rec into idx. Records at or below the index sequence are
// already reflected and skipped.
func (idx *index) apply(rec record) {
	if rec.Seq <= idx.seq {
		return
	}
	idx.put(rec.Session)
	idx.seq = rec.Seq
}
