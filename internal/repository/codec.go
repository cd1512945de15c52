package repository

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mtiwari1/exgstream/internal/sample"
)

// Chunk payloads are CBOR arrays of integer arrays. Small integers encode in
// one or two bytes, which keeps a 1000-row chunk compact.
var rowEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func encodeRows(rows []sample.Row) ([]byte, error) {
	if rows == nil {
		rows = []sample.Row{}
	}
	b, err := rowEncMode.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	return b, nil
}

func decodeRows(b []byte) ([]sample.Row, error) {
	var rows []sample.Row
	if err := cbor.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return rows, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
