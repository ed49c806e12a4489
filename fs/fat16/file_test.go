package fat16

import (
	"testing"
)

func readAll(t *testing.T, files *FileTable, fd int) string {
	t.Helper()

	var out []byte
	for {
		ch, err := files.Getc(fd)
		if err == ErrEOF {
			return string(out)
		}
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, ch)
	}
}

func TestOpenAppend(t *testing.T) {
	vol, dev, _ := newTestVolume(t)
	files := NewFileTable(vol)

	if _, err := vol.Create("test.txt", []byte("hello"), 5); err != nil {
		t.Fatal(err)
	}

	fd, err := files.Open("test.txt", "a")
	if err != nil {
		t.Fatal(err)
	}

	for _, ch := range []byte(" world!") {
		got, err := files.Putc(fd, ch)
		if err != nil || got != ch {
			t.Fatalf("expected putc to return %q; got %q, %v", ch, got, err)
		}
	}

	if err := files.Close(fd); err != nil {
		t.Fatal(err)
	}

	if size := vol.Entries()[0].Size; size != 12 {
		t.Fatalf("expected size to grow to 12; got %d", size)
	}

	fd, err = files.Open("test.txt", "r")
	if err != nil {
		t.Fatal(err)
	}
	defer files.Close(fd)

	if got := readAll(t, files, fd); got != "hello world!" {
		t.Fatalf("expected %q; got %q", "hello world!", got)
	}

	// Reading past the end keeps reporting EOF.
	if _, err := files.Getc(fd); err != ErrEOF {
		t.Fatalf("expected ErrEOF; got %v", err)
	}

	dev.assertMirrored(t)
}

func TestOpenCreates(t *testing.T) {
	for _, mode := range []string{"w", "a", "w+", "ab"} {
		vol, _, _ := newTestVolume(t)
		files := NewFileTable(vol)

		fd, err := files.Open("new.txt", mode)
		if err != nil {
			t.Fatalf("[mode %s] %v", mode, err)
		}

		entries := vol.Entries()
		if len(entries) != 1 || entries[0].FileName() != "NEW.TXT" || entries[0].Size != 0 {
			t.Fatalf("[mode %s] expected an empty NEW.TXT; got %+v", mode, entries)
		}

		if _, err := files.Getc(fd); err != ErrEOF {
			t.Fatalf("[mode %s] expected ErrEOF from an empty file; got %v", mode, err)
		}
	}
}

func TestOpenMissingForRead(t *testing.T) {
	vol, _, _ := newTestVolume(t)
	files := NewFileTable(vol)

	for _, mode := range []string{"r", ""} {
		if _, err := files.Open("nope.txt", mode); err != ErrNotFound {
			t.Errorf("[mode %q] expected ErrNotFound; got %v", mode, err)
		}
	}

	if len(vol.Entries()) != 0 {
		t.Fatal("expected read mode not to create files")
	}
}

func TestOpenTruncates(t *testing.T) {
	vol, dev, _ := newTestVolume(t)
	files := NewFileTable(vol)

	data := make([]byte, 2*ClusterSize+1)
	index, err := vol.Create("log.txt", data, uint32(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	start := vol.root[index].StartCluster
	second := dev.fatEntry(1, uint32(start))

	fd, err := files.Open("log.txt", "w")
	if err != nil {
		t.Fatal(err)
	}

	if size := vol.Entries()[0].Size; size != 0 {
		t.Fatalf("expected truncated size 0; got %d", size)
	}
	if got := dev.fatEntry(1, uint32(start)); got != 0xFFFF {
		t.Fatalf("expected start cluster to end the chain; got %x", got)
	}
	if got := dev.fatEntry(1, uint32(second)); got != 0 {
		t.Fatalf("expected the chain tail to be released; got %x", got)
	}

	for _, ch := range []byte("new") {
		if _, err := files.Putc(fd, ch); err != nil {
			t.Fatal(err)
		}
	}
	files.Close(fd)

	fd, _ = files.Open("log.txt", "r")
	if got := readAll(t, files, fd); got != "new" {
		t.Fatalf("expected %q; got %q", "new", got)
	}

	dev.assertMirrored(t)
}

func TestPutcExtendsChain(t *testing.T) {
	vol, dev, _ := newTestVolume(t)
	files := NewFileTable(vol)

	fd, err := files.Open("grow.bin", "w")
	if err != nil {
		t.Fatal(err)
	}

	// Another file takes the cluster right after grow.bin's start cluster
	// so the chain has to skip it.
	if _, err := vol.Create("other.bin", []byte("o"), 1); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < ClusterSize+2; i++ {
		if _, err := files.Putc(fd, byte(i)); err != nil {
			t.Fatal(err)
		}
	}
	files.Close(fd)

	entries := vol.Entries()
	if entries[0].Size != ClusterSize+2 {
		t.Fatalf("expected size %d; got %d", ClusterSize+2, entries[0].Size)
	}

	start := entries[0].StartCluster
	next := dev.fatEntry(1, uint32(start))
	if next != entries[1].StartCluster+1 || dev.fatEntry(1, uint32(next)) != 0xFFFF {
		t.Fatalf("expected chain %d -> %d -> end; got next %d", start, entries[1].StartCluster+1, next)
	}

	fd, _ = files.Open("grow.bin", "r")
	for i := 0; i < ClusterSize+2; i++ {
		ch, err := files.Getc(fd)
		if err != nil || ch != byte(i) {
			t.Fatalf("expected byte %d to be %d; got %d, %v", i, byte(i), ch, err)
		}
	}

	dev.assertMirrored(t)
}

func TestDescriptorErrors(t *testing.T) {
	vol, _, _ := newTestVolume(t)
	files := NewFileTable(vol)

	for _, fd := range []int{-1, 0, MaxOpenFiles} {
		if err := files.Close(fd); err != ErrBadDescriptor {
			t.Errorf("[fd %d] expected ErrBadDescriptor from Close; got %v", fd, err)
		}
		if _, err := files.Getc(fd); err != ErrBadDescriptor {
			t.Errorf("[fd %d] expected ErrBadDescriptor from Getc; got %v", fd, err)
		}
		if _, err := files.Putc(fd, 'x'); err != ErrBadDescriptor {
			t.Errorf("[fd %d] expected ErrBadDescriptor from Putc; got %v", fd, err)
		}
	}

	for i := 0; i < MaxOpenFiles; i++ {
		fd, err := files.Open("shared.txt", "a")
		if err != nil {
			t.Fatal(err)
		}
		if fd != i {
			t.Fatalf("expected descriptors to be handed out in order; got %d, want %d", fd, i)
		}
	}

	if _, err := files.Open("shared.txt", "a"); err != ErrTooManyOpenFiles {
		t.Fatalf("expected ErrTooManyOpenFiles; got %v", err)
	}

	if err := files.Close(3); err != nil {
		t.Fatal(err)
	}
	if fd, err := files.Open("shared.txt", "r"); err != nil || fd != 3 {
		t.Fatalf("expected the released descriptor to be reused; got %d, %v", fd, err)
	}
}
