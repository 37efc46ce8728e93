package xordrive

import (
	"encoding/gob"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// dagSnapshot is the on-disk form of a DAG: just the spends. The graph
// structure is derived, so edges and placeholders are rebuilt on load.
type dagSnapshot struct {
	Spends []SignedSpend
}

// DumpToFile writes every recorded spend to path, replacing any previous
// snapshot atomically via a temp-file rename.
func (d *SpendDag) DumpToFile(path string) error {
	snap := dagSnapshot{}
	for _, spend := range d.AllSpends() {
		snap.Spends = append(snap.Spends, *spend)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create dag snapshot: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(snap); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode dag snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close dag snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit dag snapshot: %w", err)
	}

	d.logger.Info("dag snapshot written",
		zap.String("path", path),
		zap.Int("spends", len(snap.Spends)))
	return nil
}

// LoadDagFromFile rebuilds a DAG from a snapshot written by DumpToFile.
func LoadDagFromFile(path string, logger *zap.Logger) (*SpendDag, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dag snapshot: %w", err)
	}
	defer f.Close()

	var snap dagSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode dag snapshot: %w", err)
	}

	dag := NewSpendDag(logger)
	for i := range snap.Spends {
		spend := &snap.Spends[i]
		dag.Insert(spend.Address(), spend)
	}
	dag.logger.Info("dag snapshot loaded",
		zap.String("path", path),
		zap.Int("spends", len(snap.Spends)))
	return dag, nil
}
