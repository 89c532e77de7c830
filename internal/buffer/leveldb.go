package buffer

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/temoto/telerelay/log2"
)

// key = prefix + big endian id, iteration order is insertion order
// value = big endian unix nanoseconds inserted + payload
// keyLastID holds highest id ever inserted, outside of message range.
var (
	keyPrefix = [4]byte{'f', 'm', 's', '1'}
	keyLimit  = [4]byte{'f', 'm', 's', '2'}
	keyLastID = []byte("fmsN")
)

const (
	keyLen    = len(keyPrefix) + 8
	valueHead = 8
)

var ErrClosed = errors.New("buffer is closed")

type levelBuffer struct {
	log      *log2.Log
	db       *leveldb.DB
	rangeAll *util.Range
	wopt     opt.WriteOptions

	mu     sync.Mutex
	closed bool
	next   int64
}

func OpenLeveldb(log *log2.Log, path string) (Buffer, error) {
	o := &opt.Options{
		BlockCacheCapacity: -1,
		DisableBlockCache:  true,
		NoWriteMerge:       true,
		Strict:             opt.StrictJournalChecksum | opt.StrictBlockChecksum,
		WriteBuffer:        4 << 10,
	}
	var db *leveldb.DB
	var err error
	if path == OnlyForTesting {
		db, err = leveldb.Open(storage.NewMemStorage(), o)
	} else {
		db, err = leveldb.RecoverFile(path, o)
	}
	if err != nil {
		return nil, unavailable(err, "leveldb open")
	}
	b := &levelBuffer{
		log:      log,
		db:       db,
		rangeAll: &util.Range{Start: keyPrefix[:], Limit: keyLimit[:]},
		wopt:     opt.WriteOptions{NoWriteMerge: true, Sync: true},
	}
	if err = b.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debugf("buffer leveldb path=%q next=%d", path, b.next)
	return b, nil
}

// load next id from last message key or saved last id, whichever is greater.
// Ids of deleted newest rows are not reused.
func (b *levelBuffer) load() error {
	iter := b.db.NewIterator(b.rangeAll, nil)
	defer iter.Release()
	if iter.Last() {
		id, err := unkey(iter.Key())
		if err != nil {
			return unavailable(err, "leveldb load")
		}
		b.next = id
	}
	if err := iter.Error(); err != nil {
		return unavailable(err, "leveldb load")
	}
	v, err := b.db.Get(keyLastID, nil)
	switch {
	case err == leveldb.ErrNotFound:
	case err != nil:
		return unavailable(err, "leveldb load last id")
	case len(v) != 8:
		return unavailable(errors.NotValidf("last id value=%x", v), "leveldb load")
	default:
		if last := int64(binary.BigEndian.Uint64(v)); last > b.next {
			b.next = last
		}
	}
	b.next++
	return nil
}

// EnsureSchema leveldb is schemaless, checks store is open.
func (b *levelBuffer) EnsureSchema(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return unavailable(ErrClosed, "leveldb")
	}
	return nil
}

func (b *levelBuffer) Insert(ctx context.Context, payload []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable(err, "leveldb insert")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, unavailable(ErrClosed, "leveldb insert")
	}
	id := b.next
	v := make([]byte, valueHead+len(payload))
	binary.BigEndian.PutUint64(v, uint64(time.Now().UnixNano()))
	copy(v[valueHead:], payload)
	last := make([]byte, 8)
	binary.BigEndian.PutUint64(last, uint64(id))
	batch := new(leveldb.Batch)
	batch.Put(key(id), v)
	batch.Put(keyLastID, last)
	if err := b.db.Write(batch, &b.wopt); err != nil {
		return 0, unavailable(err, "leveldb insert")
	}
	b.next++
	return id, nil
}

func (b *levelBuffer) List(ctx context.Context) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err, "leveldb list")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, unavailable(ErrClosed, "leveldb list")
	}
	var ms []Message
	iter := b.db.NewIterator(b.rangeAll, nil)
	defer iter.Release()
	for iter.Next() {
		id, err := unkey(iter.Key())
		if err != nil {
			b.log.Errorf("buffer leveldb skip key=%x err=%v", iter.Key(), err)
			continue
		}
		v := iter.Value()
		m := Message{ID: id}
		if len(v) >= valueHead {
			m.InsertedAt = time.Unix(0, int64(binary.BigEndian.Uint64(v)))
			m.Payload = append([]byte(nil), v[valueHead:]...)
		}
		ms = append(ms, m)
	}
	return ms, unavailable(iter.Error(), "leveldb list")
}

func (b *levelBuffer) DeleteMany(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return unavailable(err, "leveldb delete")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return unavailable(ErrClosed, "leveldb delete")
	}
	batch := new(leveldb.Batch)
	for _, id := range ids {
		batch.Delete(key(id))
	}
	return unavailable(b.db.Write(batch, &b.wopt), "leveldb delete")
}

func (b *levelBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return errors.Annotate(b.db.Close(), "leveldb close")
}

func key(id int64) []byte {
	k := make([]byte, keyLen)
	copy(k, keyPrefix[:])
	binary.BigEndian.PutUint64(k[len(keyPrefix):], uint64(id))
	return k
}

func unkey(k []byte) (int64, error) {
	if len(k) != keyLen || string(k[:len(keyPrefix)]) != string(keyPrefix[:]) {
		return 0, errors.NotValidf("key=%x", k)
	}
	return int64(binary.BigEndian.Uint64(k[len(keyPrefix):])), nil
}
