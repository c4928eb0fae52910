package main

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"
)

var ErrUnknownDevice = errors.New("unknown device")

const devicePrefix = "device:"

// DB keeps the latest drawable state of every device.
type DB struct {
	MemDB *buntdb.DB
}

func NewDB() (*DB, error) {
	memDB, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, errors.Wrap(err, "opening device store")
	}

	err = memDB.CreateIndex("kind", devicePrefix+"*", buntdb.IndexJSON("kind"))
	if err != nil {
		memDB.Close()
		return nil, errors.Wrap(err, "indexing device store")
	}

	return &DB{MemDB: memDB}, nil
}

func (db *DB) Close() error {
	return db.MemDB.Close()
}

func (db *DB) WriteState(state DeviceState) error {
	record, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return db.MemDB.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(devicePrefix+state.Name, string(record), nil)
		return err
	})
}

func (db *DB) State(name string) (DeviceState, error) {
	var state DeviceState
	err := db.MemDB.View(func(tx *buntdb.Tx) error {
		value, err := tx.Get(devicePrefix + name)
		if err == buntdb.ErrNotFound {
			return errors.Wrap(ErrUnknownDevice, name)
		}
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(value), &state)
	})
	return state, err
}

// States returns every device ordered by kind. Ties fall back to key order, so
// devices of one kind come out sorted by name.
func (db *DB) States() ([]DeviceState, error) {
	return db.collect(func(tx *buntdb.Tx, iter func(key, value string) bool) error {
		return tx.Ascend("kind", iter)
	})
}

func (db *DB) StatesOfKind(kind string) ([]DeviceState, error) {
	pivot, err := json.Marshal(map[string]string{"kind": kind})
	if err != nil {
		return nil, err
	}
	return db.collect(func(tx *buntdb.Tx, iter func(key, value string) bool) error {
		return tx.AscendEqual("kind", string(pivot), iter)
	})
}

func (db *DB) collect(scan func(tx *buntdb.Tx, iter func(key, value string) bool) error) ([]DeviceState, error) {
	states := []DeviceState{}
	var decodeErr error
	err := db.MemDB.View(func(tx *buntdb.Tx) error {
		return scan(tx, func(key, value string) bool {
			var state DeviceState
			if decodeErr = json.Unmarshal([]byte(value), &state); decodeErr != nil {
				return false
			}
			states = append(states, state)
			return true
		})
	})
	if err == nil {
		err = decodeErr
	}
	return states, err
}
