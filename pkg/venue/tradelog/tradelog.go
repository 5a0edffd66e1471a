// Package tradelog is the append-only record of executed matches.
package tradelog

import (
	"fmt"

	"github.com/avralex/bourse/pkg/storage"
	"github.com/avralex/bourse/pkg/venue"
)

type Log struct {
	db *storage.DB
}

func New(db *storage.DB) *Log {
	return &Log{db: db}
}

func key(t *venue.Trade) []byte {
	return storage.Key(
		[]byte("t"),
		[]byte(t.Ticker),
		storage.Uint64Key(t.Seq),
		[]byte(t.ID),
	)
}

// Append records one match within the caller's unit of work. Trades are
// never updated or deleted afterwards.
func (l *Log) Append(u *storage.UnitOfWork, t *venue.Trade) error {
	val, err := storage.EncodeGob(t)
	if err != nil {
		return fmt.Errorf("%w: encode trade: %v", venue.ErrStorage, err)
	}
	if err := u.Set(key(t), val); err != nil {
		return fmt.Errorf("%w: write trade: %v", venue.ErrStorage, err)
	}
	return nil
}

// Recent returns up to limit trades for the instrument, newest first.
func (l *Log) Recent(ticker string, limit int) ([]*venue.Trade, error) {
	var out []*venue.Trade
	err := l.db.ScanReverse([]byte("t/"+ticker+"/"), func(k, val []byte) (bool, error) {
		var t venue.Trade
		if err := storage.DecodeGob(val, &t); err != nil {
			return false, fmt.Errorf("%w: decode trade: %v", venue.ErrStorage, err)
		}
		out = append(out, &t)
		return len(out) < limit, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan trades: %v", venue.ErrStorage, err)
	}
	return out, nil
}
