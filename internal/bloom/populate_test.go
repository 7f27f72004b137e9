package bloom

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
)

func TestPopulate(t *testing.T) {
	f, err := New(100, 0.0001, 5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// The last line has no newline; the empty line is an element too.
	src := "alpha\nbeta\n\ngamma\nalpha\ndelta"
	if err := f.Populate(strings.NewReader(src)); err != nil {
		t.Fatalf("Populate: %v", err)
	}

	for _, item := range []string{"alpha", "beta", "", "gamma", "delta"} {
		if !contains(f, item) {
			t.Errorf("%q missing after Populate", item)
		}
	}
	if contains(f, "alpha\n") {
		t.Error("newline was not stripped")
	}
	// "alpha" twice counts once.
	if f.InsertCount() != 5 {
		t.Errorf("InsertCount = %d, want 5", f.InsertCount())
	}
}

func TestPopulate_LongLines(t *testing.T) {
	f, err := New(10, 0.0001, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	long := strings.Repeat("x", 200*1024)
	src := long + "\nshort\n" + long + "y"
	if err := f.Populate(strings.NewReader(src)); err != nil {
		t.Fatalf("Populate: %v", err)
	}

	for _, item := range []string{long, "short", long + "y"} {
		if !contains(f, item) {
			t.Errorf("line of %d bytes missing", len(item))
		}
	}
	if contains(f, long+"\nshort") {
		t.Error("lines were merged")
	}
}

func TestPopulate_ReadErrorKeepsPartialState(t *testing.T) {
	f, err := New(100, 0.0001, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	boom := errors.New("device went away")
	r := io.MultiReader(strings.NewReader("first\nsecond\n"), iotest.ErrReader(boom))

	err = f.Populate(r)
	if CodeOf(err) != ReadFailed {
		t.Fatalf("Populate = %v, want ReadFailed", err)
	}
	if !errors.Is(err, boom) {
		t.Error("cause not wrapped")
	}

	// Nothing is rolled back.
	if !contains(f, "first") || !contains(f, "second") {
		t.Error("lines read before the failure were lost")
	}
}

func TestPopulate_GrowsAutonomously(t *testing.T) {
	f, err := New(10, 0.0001, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var sb strings.Builder
	for i := 0; i < 100; i++ {
		sb.WriteString("row-")
		sb.WriteString(strings.Repeat("z", i))
		sb.WriteByte('\n')
	}
	if err := f.Populate(strings.NewReader(sb.String())); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if f.StackCount() < 9 {
		t.Errorf("StackCount = %d, expected growth to roughly 10", f.StackCount())
	}
}

func TestPopulateFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corpus.txt")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f, err := New(100, 0.0001, 5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := f.PopulateFromFile(path); err != nil {
		t.Fatalf("PopulateFromFile: %v", err)
	}
	for _, item := range []string{"one", "two", "three"} {
		seen, err := f.TestAndInsertString(item)
		if err != nil || !seen {
			t.Errorf("%s = %v, %v; want seen", item, seen, err)
		}
	}

	err = f.PopulateFromFile(filepath.Join(dir, "missing.txt"))
	if CodeOf(err) != OpenFailed {
		t.Errorf("PopulateFromFile(missing) = %v, want OpenFailed", err)
	}
}
