// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"

	"github.com/LeeDigitalWorks/zapload/pkg/types"
	"github.com/LeeDigitalWorks/zapload/pkg/utils"

	"github.com/syndtr/goleveldb/leveldb"
	lderrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDB stores sessions in a local LevelDB directory, one record per key.
type LevelDB struct {
	db  *leveldb.DB
	dir string

	writeOpts     *opt.WriteOptions // Normal writes (buffered)
	writeOptsSync *opt.WriteOptions // Durable writes (fsync)
}

var _ Store = (*LevelDB)(nil)

// OpenLevelDB opens (or creates) the session database at dir, recovering it
// if a previous crash left it corrupted.
func OpenLevelDB(dir string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil && !lderrors.IsCorrupted(err) {
		return nil, fmt.Errorf("open session db %s: %w", dir, err)
	}
	if lderrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(dir, nil)
		if err != nil {
			return nil, fmt.Errorf("recover session db %s: %w", dir, err)
		}
	}
	return &LevelDB{
		db:            db,
		dir:           dir,
		writeOpts:     &opt.WriteOptions{Sync: false},
		writeOptsSync: &opt.WriteOptions{Sync: true},
	}, nil
}

func serialize(v types.PersistedUpload) ([]byte, error) {
	buf := utils.SyncPoolGetBuffer()
	defer utils.SyncPoolPutBuffer(buf)
	if err := gob.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	return encodeRecord(recordAlgorithm, buf.Bytes())
}

func deserialize(data []byte) (types.PersistedUpload, error) {
	var v types.PersistedUpload
	plain, err := decodeRecord(data)
	if err != nil {
		return v, err
	}
	err = gob.NewDecoder(bytes.NewReader(plain)).Decode(&v)
	return v, err
}

func (s *LevelDB) Load(ctx context.Context) (map[string]types.PersistedUpload, error) {
	records := make(map[string]types.PersistedUpload)

	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := deserialize(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("decode session %s: %w", iter.Key(), err)
		}
		records[string(iter.Key())] = record
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return records, nil
}

// Save replaces the stored record set with records in one batch: stale keys
// are deleted so removed uploads do not resurrect on the next load.
func (s *LevelDB) Save(ctx context.Context, records map[string]types.PersistedUpload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := new(leveldb.Batch)

	iter := s.db.NewIterator(nil, nil)
	for iter.Next() {
		if _, ok := records[string(iter.Key())]; !ok {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("scan stale sessions: %w", err)
	}

	for id, record := range records {
		data, err := serialize(record)
		if err != nil {
			return fmt.Errorf("encode session %s: %w", id, err)
		}
		batch.Put([]byte(id), data)
	}

	if err := s.db.Write(batch, s.writeOpts); err != nil {
		return fmt.Errorf("write sessions: %w", err)
	}
	return nil
}

func (s *LevelDB) Close() error {
	// Force buffered writes down before closing.
	if err := s.db.Write(new(leveldb.Batch), s.writeOptsSync); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}
