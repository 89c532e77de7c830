package buffer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/extremofile"
	"github.com/temoto/telerelay/log2"
)

type fileStorage interface {
	Read() ([]byte, error)
	io.Writer
}

// fileBuffer keeps whole table in memory and writes full snapshot on every change.
// Suitable for small backlogs on flash storage, write is atomic with backup copy.
// Snapshot size never shrinks, shorter JSON is padded with spaces.
type fileBuffer struct {
	sync.Mutex
	log     *log2.Log
	storage fileStorage
	closed  bool
	t       fileTable
	// size of largest snapshot written, storage overwrites in place without truncate
	size int
}

type fileTable struct {
	Next     int64         `json:"next"`
	Messages []fileMessage `json:"messages"`
}

type fileMessage struct {
	ID         int64     `json:"id"`
	Payload    string    `json:"payload"`
	InsertedAt time.Time `json:"timestamp"`
}

func OpenFile(log *log2.Log, dir string) (Buffer, error) {
	b := &fileBuffer{
		log: log,
		storage: extremofile.New(extremofile.Config{
			Dir:        dir,
			FilePrefix: TableName + ".",
			DirPerm:    0755,
			FilePerm:   0644,
		}),
		t: fileTable{Next: 1},
	}
	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *fileBuffer) load() error {
	tbegin := time.Now()
	data, err := b.storage.Read()
	b.log.Debugf("buffer file read duration=%v", time.Since(tbegin))
	if data == nil {
		return unavailable(err, "file load")
	}
	if err != nil {
		b.log.Errorf("buffer file ignore non-critical storage err=%v", err)
	}
	var t fileTable
	if err = json.Unmarshal(data, &t); err != nil {
		return unavailable(err, "file load")
	}
	if t.Next < 1 {
		t.Next = 1
	}
	b.t = t
	b.size = len(data)
	return nil
}

func (b *fileBuffer) store(t fileTable) error {
	data, err := json.Marshal(t)
	if err != nil {
		return errors.Trace(err)
	}
	// never shrink: shorter write would leave stale tail and fail checksum on read
	if pad := b.size - len(data); pad > 0 {
		data = append(data, bytes.Repeat([]byte{' '}, pad)...)
	}
	tbegin := time.Now()
	_, err = b.storage.Write(data)
	b.log.Debugf("buffer file write duration=%v", time.Since(tbegin))
	if extremofile.IsCritical(err) {
		return err
	}
	b.size = len(data)
	if err != nil {
		b.log.Errorf("buffer file non-critical storage err=%v", err)
	}
	return nil
}

func (b *fileBuffer) EnsureSchema(ctx context.Context) error {
	b.Lock()
	defer b.Unlock()
	if b.closed {
		return unavailable(ErrClosed, "file")
	}
	return unavailable(b.store(b.t), "file ensure schema")
}

func (b *fileBuffer) Insert(ctx context.Context, payload []byte) (int64, error) {
	b.Lock()
	defer b.Unlock()
	if b.closed {
		return 0, unavailable(ErrClosed, "file insert")
	}
	id := b.t.Next
	t := fileTable{
		Next:     id + 1,
		Messages: append(b.t.Messages[:len(b.t.Messages):len(b.t.Messages)], fileMessage{ID: id, Payload: string(payload), InsertedAt: time.Now()}),
	}
	if err := b.store(t); err != nil {
		return 0, unavailable(err, "file insert")
	}
	b.t = t
	return id, nil
}

func (b *fileBuffer) List(ctx context.Context) ([]Message, error) {
	b.Lock()
	defer b.Unlock()
	if b.closed {
		return nil, unavailable(ErrClosed, "file list")
	}
	ms := make([]Message, 0, len(b.t.Messages))
	for _, fm := range b.t.Messages {
		ms = append(ms, Message{ID: fm.ID, Payload: []byte(fm.Payload), InsertedAt: fm.InsertedAt})
	}
	return ms, nil
}

func (b *fileBuffer) DeleteMany(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	b.Lock()
	defer b.Unlock()
	if b.closed {
		return unavailable(ErrClosed, "file delete")
	}
	del := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		del[id] = struct{}{}
	}
	t := fileTable{Next: b.t.Next, Messages: make([]fileMessage, 0, len(b.t.Messages))}
	for _, fm := range b.t.Messages {
		if _, ok := del[fm.ID]; !ok {
			t.Messages = append(t.Messages, fm)
		}
	}
	if len(t.Messages) == len(b.t.Messages) {
		return nil
	}
	if err := b.store(t); err != nil {
		return unavailable(err, "file delete")
	}
	b.t = t
	return nil
}

func (b *fileBuffer) Close() error {
	b.Lock()
	b.closed = true
	b.Unlock()
	return nil
}
