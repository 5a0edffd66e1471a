// Package instrument is the venue's instrument directory.
package instrument

import (
	"fmt"
	"regexp"

	"github.com/avralex/bourse/pkg/storage"
	"github.com/avralex/bourse/pkg/venue"
)

var tickerRe = regexp.MustCompile(`^[A-Z]{2,10}$`)

func ValidTicker(ticker string) bool { return tickerRe.MatchString(ticker) }

type Registry struct {
	db *storage.DB
}

func New(db *storage.DB) *Registry {
	return &Registry{db: db}
}

func key(ticker string) []byte {
	return []byte("i/" + ticker)
}

// Lookup resolves a ticker from committed state.
func (r *Registry) Lookup(ticker string) (*venue.Instrument, error) {
	val, ok, err := r.db.Get(key(ticker))
	if err != nil {
		return nil, fmt.Errorf("%w: read instrument: %v", venue.ErrStorage, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", venue.ErrInstrumentNotFound, ticker)
	}
	var inst venue.Instrument
	if err := storage.DecodeGob(val, &inst); err != nil {
		return nil, fmt.Errorf("%w: decode instrument: %v", venue.ErrStorage, err)
	}
	return &inst, nil
}

func (r *Registry) List() ([]*venue.Instrument, error) {
	var out []*venue.Instrument
	err := r.db.Scan([]byte("i/"), func(k, val []byte) (bool, error) {
		var inst venue.Instrument
		if err := storage.DecodeGob(val, &inst); err != nil {
			return false, err
		}
		out = append(out, &inst)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan instruments: %v", venue.ErrStorage, err)
	}
	return out, nil
}

func (r *Registry) Create(inst *venue.Instrument) error {
	if !ValidTicker(inst.Ticker) || inst.Name == "" {
		return fmt.Errorf("%w: ticker must match %s and name must be set", venue.ErrInvalidOrder, tickerRe)
	}
	u := r.db.Begin()
	defer u.Rollback()

	if _, ok, err := u.Get(key(inst.Ticker)); err != nil {
		return fmt.Errorf("%w: read instrument: %v", venue.ErrStorage, err)
	} else if ok {
		return fmt.Errorf("%w: %s", venue.ErrInstrumentExists, inst.Ticker)
	}

	val, err := storage.EncodeGob(inst)
	if err != nil {
		return fmt.Errorf("%w: encode instrument: %v", venue.ErrStorage, err)
	}
	if err := u.Set(key(inst.Ticker), val); err != nil {
		return fmt.Errorf("%w: write instrument: %v", venue.ErrStorage, err)
	}
	if err := u.Commit(); err != nil {
		return fmt.Errorf("%w: %v", venue.ErrStorage, err)
	}
	return nil
}

func (r *Registry) Delete(ticker string) error {
	u := r.db.Begin()
	defer u.Rollback()

	if _, ok, err := u.Get(key(ticker)); err != nil {
		return fmt.Errorf("%w: read instrument: %v", venue.ErrStorage, err)
	} else if !ok {
		return fmt.Errorf("%w: %s", venue.ErrInstrumentNotFound, ticker)
	}
	if err := u.Delete(key(ticker)); err != nil {
		return fmt.Errorf("%w: delete instrument: %v", venue.ErrStorage, err)
	}
	if err := u.Commit(); err != nil {
		return fmt.Errorf("%w: %v", venue.ErrStorage, err)
	}
	return nil
}
