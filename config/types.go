package config

import (
	"bytes"
	"fmt"
	"math/big"
	"time"
)

// Duration decodes from strings such as "2s" or "100ms" in every supported
// file format.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Wei is a decimal integer amount in wei. It accepts quoted and bare
// numbers so JSON files can carry values beyond float precision.
type Wei struct {
	*big.Int
}

func NewWei(v *big.Int) Wei {
	if v == nil {
		return Wei{}
	}
	return Wei{Int: new(big.Int).Set(v)}
}

func (w *Wei) UnmarshalText(text []byte) error {
	v, ok := new(big.Int).SetString(string(bytes.TrimSpace(text)), 10)
	if !ok {
		return fmt.Errorf("invalid wei amount %q", text)
	}
	w.Int = v
	return nil
}

func (w *Wei) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		w.Int = nil
		return nil
	}
	return w.UnmarshalText(bytes.Trim(data, `"`))
}

func (w Wei) MarshalText() ([]byte, error) {
	if w.Int == nil {
		return []byte("0"), nil
	}
	return []byte(w.Int.String()), nil
}

// IsSet reports whether an amount was configured.
func (w Wei) IsSet() bool {
	return w.Int != nil
}

// Value returns a copy, or nil when unset.
func (w Wei) Value() *big.Int {
	if w.Int == nil {
		return nil
	}
	return new(big.Int).Set(w.Int)
}
