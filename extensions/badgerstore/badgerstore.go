// Package badgerstore persists client QoS flows in BadgerDB so a retained
// session survives a process restart.
package badgerstore

import (
	"errors"
	"fmt"
	"strconv"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vitalvas/mqttclient"
)

// Options configures the store.
type Options struct {
	// Dir holds the database files. Required unless InMemory is set.
	Dir string

	// InMemory keeps everything in memory, for tests.
	InMemory bool

	// Logger receives badger's warnings and errors. Defaults to no output.
	Logger mqttclient.Logger
}

// Store is a mqttclient.FlowStore backed by BadgerDB.
type Store struct {
	db *badger.DB
}

var _ mqttclient.FlowStore = (*Store)(nil)

// record is the stored form of mqttclient.FlowRecord.
type record struct {
	QoS        byte   `msgpack:"q"`
	State      byte   `msgpack:"s"`
	Seq        uint64 `msgpack:"n"`
	Publish    []byte `msgpack:"p,omitempty"`
	Version    byte   `msgpack:"v"`
	PubrecSent bool   `msgpack:"r,omitempty"`
}

// New opens the database.
func New(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badgerstore: Dir is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = mqttclient.NewNoOpLogger()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func prefix(dir mqttclient.FlowDirection) []byte {
	return []byte("flow/" + dir.String() + "/")
}

// key sorts records of a direction by packet identifier.
func key(dir mqttclient.FlowDirection, packetID uint16) []byte {
	return fmt.Appendf(prefix(dir), "%05d", packetID)
}

func (s *Store) Store(rec mqttclient.FlowRecord) error {
	data, err := msgpack.Marshal(record{
		QoS:        rec.QoS,
		State:      byte(rec.State),
		Seq:        rec.Seq,
		Publish:    rec.Publish,
		Version:    byte(rec.Version),
		PubrecSent: rec.PubrecSent,
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(rec.Direction, rec.PacketID), data)
	})
}

func (s *Store) Get(dir mqttclient.FlowDirection, packetID uint16) (mqttclient.FlowRecord, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(dir, packetID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return mqttclient.FlowRecord{}, mqttclient.ErrFlowNotFound
	}
	if err != nil {
		return mqttclient.FlowRecord{}, err
	}
	return decode(dir, packetID, data)
}

func (s *Store) Discard(dir mqttclient.FlowDirection, packetID uint16) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(dir, packetID))
	})
}

// List returns the records of dir ordered by packet identifier.
func (s *Store) List(dir mqttclient.FlowDirection) ([]mqttclient.FlowRecord, error) {
	p := prefix(dir)
	var recs []mqttclient.FlowRecord

	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = p
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			id, err := strconv.ParseUint(string(item.Key()[len(p):]), 10, 16)
			if err != nil {
				return fmt.Errorf("badgerstore: bad key %q: %w", item.Key(), err)
			}
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := decode(dir, uint16(id), data)
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	return recs, err
}

// Reset deletes every flow of both directions.
func (s *Store) Reset() error {
	return s.db.DropPrefix([]byte("flow/"))
}

func decode(dir mqttclient.FlowDirection, packetID uint16, data []byte) (mqttclient.FlowRecord, error) {
	var r record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return mqttclient.FlowRecord{}, fmt.Errorf("badgerstore: decode flow %s/%d: %w", dir, packetID, err)
	}
	return mqttclient.FlowRecord{
		Direction:  dir,
		PacketID:   packetID,
		QoS:        r.QoS,
		State:      mqttclient.FlowState(r.State),
		Seq:        r.Seq,
		Publish:    r.Publish,
		Version:    mqttclient.ProtocolVersion(r.Version),
		PubrecSent: r.PubrecSent,
	}, nil
}

// badgerLogger forwards badger's warnings and errors to the client logger.
type badgerLogger struct {
	logger mqttclient.Logger
}

func (l badgerLogger) Errorf(f string, v ...any) {
	l.logger.Error(fmt.Sprintf(f, v...), mqttclient.LogFields{"component": "badger"})
}

func (l badgerLogger) Warningf(f string, v ...any) {
	l.logger.Warn(fmt.Sprintf(f, v...), mqttclient.LogFields{"component": "badger"})
}

func (badgerLogger) Infof(string, ...any)  {}
func (badgerLogger) Debugf(string, ...any) {}
