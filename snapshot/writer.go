package snapshot

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

type Writer struct {
	Dir string
}

// Write replaces the checkpoint in Dir. The new file is written aside and
// renamed into place so a crash never leaves a torn checkpoint.
func (w *Writer) Write(s State) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(w.Dir, fileName+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := gob.NewEncoder(f).Encode(&s); err != nil {
		f.Close()
		return fmt.Errorf("encode checkpoint %d: %w", s.LastAppliedID, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, Path(w.Dir))
}

// Path is where the checkpoint of dir lives.
func Path(dir string) string {
	return filepath.Join(dir, fileName)
}
