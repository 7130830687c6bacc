package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/INLOpen/chronicle/chronicle"
)

const (
	pingMagic = int64(0x0badcafedeadbeef)
	pingText1 = "FooBar"
	pingText2 = "AnotherFooBar"
)

var errShortRecord = errors.New("record shorter than a ping")

// pingRecord is the payload of the write command.
type pingRecord struct {
	Writer int32
	Seq    int64
	Magic  int64
	Text1  string
	Text2  string
	Nanos  int64
}

// appendPing writes one ping excerpt stamped with the appender's writer id.
func appendPing(a *chronicle.Appender, capacity int, seq int64) error {
	if err := a.StartExcerpt(capacity); err != nil {
		return err
	}
	b := a.Buffer()
	b.WriteInt32(a.WriterID())
	b.WriteStopBit(seq)
	b.WriteInt64(pingMagic)
	b.WriteChars(pingText1)
	b.WriteChars(pingText2)
	b.WriteInt64(time.Now().UnixNano())
	return a.Finish()
}

// readPing decodes a ping, checking lengths first since the store may hold
// other payloads.
func readPing(b *chronicle.Buffer) (pingRecord, error) {
	var r pingRecord
	if b.Remaining() < 4 {
		return r, errShortRecord
	}
	r.Writer = b.ReadInt32()
	var err error
	if r.Seq, err = b.ReadStopBit(); err != nil {
		return r, err
	}
	if b.Remaining() < 8 {
		return r, errShortRecord
	}
	r.Magic = b.ReadInt64()
	if r.Text1, err = b.ReadChars(); err != nil {
		return r, err
	}
	if r.Text2, err = b.ReadChars(); err != nil {
		return r, err
	}
	if b.Remaining() < 8 {
		return r, errShortRecord
	}
	r.Nanos = b.ReadInt64()
	return r, nil
}

// check reports whether the constant fields hold their expected values.
func (r pingRecord) check() error {
	if r.Magic != pingMagic || r.Text1 != pingText1 || r.Text2 != pingText2 {
		return fmt.Errorf("unexpected ping fields from writer %d seq %d", r.Writer, r.Seq)
	}
	return nil
}
