// Package storage provides a persistent backing store for a memory
// device peer. Memory is kept as 64 byte lines keyed by their line
// address, config space registers as dwords keyed by register offset.
package storage

import (
	"fmt"
	"os"
	"path"

	log "github.com/sirupsen/logrus"

	"github.com/timshannon/badgerhold"

	"github.com/opencxl/cxlsock/pkg/cxlpkt"
)

const dirBadger string = "db"

type Store struct {
	bh *badgerhold.Store

	badgerDir string
}

func NewStore(dir string) (s *Store, err error) {
	badgerDir := path.Join(dir, dirBadger)

	opts := badgerhold.DefaultOptions
	opts.Dir = badgerDir
	opts.ValueDir = badgerDir

	if dirErr := os.MkdirAll(badgerDir, 0700); dirErr != nil {
		err = dirErr
		return
	}

	if bh, bhErr := badgerhold.Open(opts); bhErr != nil {
		err = bhErr
	} else {
		s = &Store{
			bh: bh,

			badgerDir: badgerDir,
		}
	}
	return
}

func (s *Store) Close() error {
	return s.bh.Close()
}

// ReadLine fetches the 64 byte memory line containing addr. Lines
// which were never written read as zeroes.
func (s *Store) ReadLine(addr uint64) (data [cxlpkt.MemAccessUnit]byte, err error) {
	var li LineItem

	if bhErr := s.bh.Get(lineKey(addr), &li); bhErr == badgerhold.ErrNotFound {
		log.WithFields(log.Fields{
			"addr": fmt.Sprintf("%#x", addr),
		}).Debug("Memory line is unknown, reading zeroes")
		return
	} else if bhErr != nil {
		err = bhErr
		return
	}

	copy(data[:], li.Data)
	return
}

// WriteLine stores a 64 byte memory line at the line containing addr.
func (s *Store) WriteLine(addr uint64, data [cxlpkt.MemAccessUnit]byte) error {
	li := NewLineItem(addr, data)

	log.WithFields(log.Fields{
		"addr": fmt.Sprintf("%#x", li.Addr),
	}).Debug("Storing memory line")

	return s.bh.Upsert(li.Id, li)
}

// ReadRegister fetches the config space dword at a register offset of
// the function addressed by bdf. Registers which were never written
// read as zeroes.
func (s *Store) ReadRegister(bdf uint16, offset uint16) (value uint32, err error) {
	var ri RegisterItem

	if bhErr := s.bh.Get(regKey(bdf, offset), &ri); bhErr == badgerhold.ErrNotFound {
		return
	} else if bhErr != nil {
		err = bhErr
		return
	}

	value = ri.Value
	return
}

// WriteRegister stores a config space dword at a register offset of
// the function addressed by bdf.
func (s *Store) WriteRegister(bdf uint16, offset uint16, value uint32) error {
	ri := NewRegisterItem(bdf, offset, value)

	log.WithFields(log.Fields{
		"bdf":    fmt.Sprintf("%#x", ri.Bdf),
		"offset": fmt.Sprintf("%#x", ri.Offset),
	}).Debug("Storing config register")

	return s.bh.Upsert(ri.Id, ri)
}
