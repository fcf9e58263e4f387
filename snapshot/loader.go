package snapshot

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Load reads the checkpoint in dir. A missing checkpoint is not an
// error: ok is false and the caller starts from an empty state.
func Load(dir string) (State, bool, error) {
	f, err := os.Open(Path(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	defer f.Close()

	var s State
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return State{}, false, fmt.Errorf("decode checkpoint %s: %w", f.Name(), err)
	}
	return s, true, nil
}
