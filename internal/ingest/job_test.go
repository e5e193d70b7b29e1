package ingest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestClassifyFileName(t *testing.T) {
	cases := []struct {
		name string
		want FileKind
	}{
		{"chest.png", KindRaster},
		{"chest.PNG", KindRaster},
		{"chest.jpg", KindRaster},
		{"chest.JPEG", KindRaster},
		{"study.dcm", KindDICOM},
		{"study.DIC", KindDICOM},
		{"study.dicom", KindDICOM},
		{"notes.txt", KindUnsupported},
		{"archive.zip", KindUnsupported},
		{"noextension", KindUnsupported},
		{"", KindUnsupported},
	}
	for _, tc := range cases {
		if got := ClassifyFileName(tc.name); got != tc.want {
			t.Fatalf("ClassifyFileName(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFileBytes_InMemory(t *testing.T) {
	f := File{Name: "a.png", Data: []byte{1, 2, 3}}
	got, err := f.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if len(got) != 3 || got[0] != 1 {
		t.Fatalf("unexpected bytes: %v", got)
	}
}

func TestFileBytes_TempPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.dcm")
	if err := os.WriteFile(path, []byte("dicom-bytes"), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f := File{Name: "a.dcm", TempPath: path}
	got, err := f.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(got) != "dicom-bytes" {
		t.Fatalf("unexpected bytes: %q", got)
	}
}

func TestFileBytes_Empty(t *testing.T) {
	f := File{Name: "a.png"}
	if _, err := f.Bytes(); err == nil {
		t.Fatal("expected error for file with no data and no temp path")
	}
}
