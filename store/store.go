// Package store persists the system dataset config row and a few boolean
// flags in a bbolt database.
package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/errs"
	"go.etcd.io/bbolt"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dnr/sysds/sysds"
)

const (
	schemaV0 uint32 = iota

	schemaLatest = schemaV0
)

var (
	Error = errs.Class("store")

	metaBucket   = []byte("meta")
	configBucket = []byte("config")
	kvBucket     = []byte("keyvalue")

	metaSchema = []byte("schema")
	configKey  = []byte("systemdataset")
)

type Bolt struct {
	db *bbolt.DB
}

var (
	_ sysds.ConfigStore = (*Bolt)(nil)
	_ sysds.KeyValue    = (*Bolt)(nil)
)

func Open(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, Error.Wrap(err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	checkSchemaVer := func(mb *bbolt.Bucket) error {
		b := mb.Get(metaSchema)
		if len(b) != 4 {
			return mb.Put(metaSchema, binary.LittleEndian.AppendUint32(nil, schemaLatest))
		}
		if have := binary.LittleEndian.Uint32(b); have != schemaLatest {
			return fmt.Errorf("mismatched schema version %d != %d", have, schemaLatest)
		}
		return nil
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if mb, err := tx.CreateBucketIfNotExists(metaBucket); err != nil {
			return err
		} else if _, err = tx.CreateBucketIfNotExists(configBucket); err != nil {
			return err
		} else if _, err = tx.CreateBucketIfNotExists(kvBucket); err != nil {
			return err
		} else if err = checkSchemaVer(mb); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, Error.Wrap(err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Close() error { return Error.Wrap(b.db.Close()) }

// Get returns the config row, writing the default row if there is none.
func (b *Bolt) Get(ctx context.Context) (sysds.ConfigRow, error) {
	var row sysds.ConfigRow
	found := false
	err := b.db.View(func(tx *bbolt.Tx) error {
		buf := tx.Bucket(configBucket).Get(configKey)
		if buf == nil {
			return nil
		}
		found = true
		return decodeRow(buf, &row)
	})
	if err != nil {
		return row, Error.Wrap(err)
	} else if found {
		return row, nil
	}
	return row, b.Update(ctx, func(*sysds.ConfigRow) error { return nil })
}

// Update does a transaction on the config row. f should mutate its argument
// and return nil. If f returns an error, the row will not be written.
func (b *Bolt) Update(ctx context.Context, f func(*sysds.ConfigRow) error) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		var row sysds.ConfigRow
		cb := tx.Bucket(configBucket)
		if buf := cb.Get(configKey); buf != nil {
			if err := decodeRow(buf, &row); err != nil {
				return Error.Wrap(err)
			}
		}
		if err := f(&row); err != nil {
			return err
		}
		buf, err := encodeRow(row)
		if err != nil {
			return Error.Wrap(err)
		}
		return Error.Wrap(cb.Put(configKey, buf))
	})
}

func (b *Bolt) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	v := def
	err := b.db.View(func(tx *bbolt.Tx) error {
		buf := tx.Bucket(kvBucket).Get([]byte(key))
		if buf == nil {
			return nil
		}
		var pv structpb.Value
		if err := proto.Unmarshal(buf, &pv); err != nil {
			return err
		}
		v = pv.GetBoolValue()
		return nil
	})
	return v, Error.Wrap(err)
}

func (b *Bolt) SetBool(ctx context.Context, key string, v bool) error {
	// oneof fields always have presence so false isn't an empty value
	buf, err := proto.Marshal(structpb.NewBoolValue(v))
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(kvBucket).Put([]byte(key), buf)
	}))
}

func encodeRow(row sysds.ConfigRow) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]any{
		"pool":              row.Pool,
		"syslog_usedataset": row.SyslogUseDataset,
		"uuid":              row.UUID,
		"uuid_b":            row.UUIDB,
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func decodeRow(buf []byte, row *sysds.ConfigRow) error {
	var s structpb.Struct
	if err := proto.Unmarshal(buf, &s); err != nil {
		return err
	}
	f := s.GetFields()
	row.Pool = f["pool"].GetStringValue()
	row.SyslogUseDataset = f["syslog_usedataset"].GetBoolValue()
	row.UUID = f["uuid"].GetStringValue()
	row.UUIDB = f["uuid_b"].GetStringValue()
	return nil
}
