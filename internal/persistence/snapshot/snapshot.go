// Package snapshot is the durable storage gateway: an opaque blob the engine
// hands its state to on a fixed interval and after queue mutations. Files
// are zstd-compressed with a JSON header line followed by a gob body.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

type Header struct {
	Version     int    `json:"version"`
	ZoneID      string `json:"zone_id"`
	SavedAtUnix int64  `json:"saved_at_unix"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Playback PlaybackV1 `json:"playback"`
	Bans     []BanV1    `json:"bans"`
	Cells    []CellV1   `json:"cells"`
	Echoes   []EchoV1   `json:"echoes"`
}

type PlaybackV1 struct {
	Current    *QueueItemV1 `json:"current,omitempty"`
	Queue      []QueueItemV1 `json:"queue"`
	TimeMS     int64        `json:"time_ms"`
	NextItemID int          `json:"next_item_id"`
}

type QueueItemV1 struct {
	ItemID     int      `json:"item_id"`
	Title      string   `json:"title"`
	DurationMS int64    `json:"duration_ms"`
	Sources    []string `json:"sources"`
	UserID     string   `json:"user_id,omitempty"`
	Origin     string   `json:"origin,omitempty"`
	Banger     bool     `json:"banger,omitempty"`
}

type BanV1 struct {
	NetID  string `json:"net_id"`
	Bannee string `json:"bannee"`
	Banner string `json:"banner"`
	Reason string `json:"reason,omitempty"`
	Date   string `json:"date"`
}

type CellV1 struct {
	Coord [3]int `json:"coord"`
	Value uint8  `json:"value"`
}

type EchoV1 struct {
	Position [3]int   `json:"position"`
	Text     string   `json:"text"`
	Name     string   `json:"name,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return err
	}

	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = f.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = f.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line is informational; the gob body repeats it.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// FileStore persists snapshots to a single path, overwriting atomically.
type FileStore struct {
	Path string
}

func (s *FileStore) Load() (SnapshotV1, bool, error) {
	snap, err := ReadSnapshot(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return SnapshotV1{}, false, nil
		}
		return SnapshotV1{}, false, err
	}
	return snap, true, nil
}

func (s *FileStore) Save(snap SnapshotV1) error {
	return WriteSnapshot(s.Path, snap)
}
