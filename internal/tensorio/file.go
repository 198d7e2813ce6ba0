package tensorio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// WriteFile dumps b to path in the Arrow IPC file format.
func WriteFile(path string, b *Bundle) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := Write(f, b); err != nil {
		return err
	}
	return f.Close()
}

// Write encodes b as an Arrow IPC file to w.
func Write(w io.Writer, b *Bundle) error {
	mem := memory.DefaultAllocator
	rec := Encode(mem, b)
	defer rec.Release()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("failed to create ipc writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to close ipc writer: %w", err)
	}
	return nil
}

// ReadFile loads a bundle previously written by WriteFile.
func ReadFile(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	b, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// Read decodes a bundle from an Arrow IPC file.
func Read(r ipc.ReadAtSeeker) (*Bundle, error) {
	fr, err := ipc.NewFileReader(r, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("failed to open ipc reader: %w", err)
	}
	defer fr.Close()

	dec, err := NewDecoder(fr.Schema())
	if err != nil {
		return nil, err
	}
	for {
		rec, err := fr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}
		if err := dec.Add(rec); err != nil {
			return nil, err
		}
	}
	return dec.Bundle(), nil
}
