package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadWriteRoundTrip(t *testing.T) {
	store := New(t.TempDir())
	user := store.User("user-1")

	want := Document{ID: 1700000000, Contents: "# Shopping\n\n- milk\n"}
	if err := user.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := user.Read(want.ID, false)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != want {
		t.Errorf("Read = %+v, want %+v", got, want)
	}
}

func TestReadMissingDocument(t *testing.T) {
	store := New(t.TempDir())

	_, err := store.User("user-1").Read(42, false)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("err = %v, want fs.ErrNotExist", err)
	}
}

func TestWriteOverwrites(t *testing.T) {
	store := New(t.TempDir())
	user := store.User("user-1")

	if err := user.Write(Document{ID: 5, Contents: "first"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := user.Write(Document{ID: 5, Contents: "second"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := user.Read(5, false)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Contents != "second" {
		t.Errorf("contents = %q", got.Contents)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := New(t.TempDir())
	user := store.User("user-1")

	for _, id := range []DocumentID{100, 300, 200} {
		if err := user.Write(Document{ID: id, Contents: id.String()}); err != nil {
			t.Fatalf("Write %d: %v", id, err)
		}
	}

	docs, err := user.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("len = %d, want 3", len(docs))
	}
	for i, want := range []DocumentID{300, 200, 100} {
		if docs[i].ID != want {
			t.Errorf("docs[%d].ID = %d, want %d", i, docs[i].ID, want)
		}
	}
}

func TestListTruncatesPreviews(t *testing.T) {
	store := New(t.TempDir())
	user := store.User("user-1")

	long := strings.Repeat("a", previewSize+500)
	if err := user.Write(Document{ID: 1, Contents: long}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	docs, err := user.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("len = %d, want 1", len(docs))
	}
	if len(docs[0].Contents) != previewSize {
		t.Errorf("preview length = %d, want %d", len(docs[0].Contents), previewSize)
	}

	// A direct read still returns everything.
	full, err := user.Read(1, false)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(full.Contents) != len(long) {
		t.Errorf("full read length = %d, want %d", len(full.Contents), len(long))
	}
}

func TestListIgnoresForeignFiles(t *testing.T) {
	root := t.TempDir()
	store := New(root)
	user := store.User("user-1")

	if err := user.Write(Document{ID: 7, Contents: "keep"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	dir := filepath.Join(root, "user-1")
	for _, name := range []string{"notes.txt", "8", "not-a-number.md", ".hidden"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("plant %s: %v", name, err)
		}
	}

	docs, err := user.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != 7 {
		t.Errorf("docs = %+v, want only id 7", docs)
	}
}

func TestListEmptyUser(t *testing.T) {
	store := New(t.TempDir())

	docs, err := store.User("fresh").List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("docs = %+v, want none", docs)
	}
}

func TestParseDocumentID(t *testing.T) {
	id, err := ParseDocumentID("1700000000")
	if err != nil {
		t.Fatalf("ParseDocumentID: %v", err)
	}
	if id != 1700000000 {
		t.Errorf("id = %d", id)
	}

	for _, bad := range []string{"", "-5", "abc", "12.5"} {
		if _, err := ParseDocumentID(bad); err == nil {
			t.Errorf("ParseDocumentID(%q) succeeded", bad)
		}
	}
}

func TestSubjectsStayUnderRoot(t *testing.T) {
	root := t.TempDir()
	store := New(root)

	subjects := []string{
		"../escape",
		"..",
		"...",
		"",
		"a/b/c",
		"https://idp.example/users/42",
	}
	for _, subject := range subjects {
		user := store.User(subject)
		if err := user.Write(Document{ID: 1, Contents: "x"}); err != nil {
			t.Fatalf("Write for %q: %v", subject, err)
		}
	}

	// Nothing may have been created outside the root.
	parent := filepath.Dir(root)
	if _, err := os.Stat(filepath.Join(parent, "escape")); !errors.Is(err, fs.ErrNotExist) {
		t.Error("subject containing .. escaped the storage root")
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if strings.HasPrefix(rel, "..") {
			t.Errorf("entry %q lies outside the root", path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
}

func TestSafeSegment(t *testing.T) {
	cases := map[string]string{
		"user-1":              "user-1",
		"auth0|67ab":          "auth0_67ab",
		"../../etc/passwd":    ".._.._etc_passwd",
		"..":                  "_",
		"":                    "_",
		"https://idp/user/42": "https___idp_user_42",
	}
	for in, want := range cases {
		if got := safeSegment(in); got != want {
			t.Errorf("safeSegment(%q) = %q, want %q", in, got, want)
		}
	}
}
