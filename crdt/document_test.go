package crdt

import (
	"testing"

	"github.com/automerge/automerge-go"
)

func setTitle(t *testing.T, d *AutomergeDocument, title string) {
	t.Helper()
	err := d.Change(func(doc *automerge.Doc) error {
		return doc.Path("title").Set(title)
	})
	if err != nil {
		t.Fatal(err)
	}
}

func title(t *testing.T, d *AutomergeDocument) string {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := automerge.As[string](d.doc.Path("title").Get())
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestSnapshotRoundTrip(t *testing.T) {
	d := NewAutomergeDocument()
	setTitle(t, d, "hello")

	data, err := d.EncodeSnapshot()
	if err != nil {
		t.Fatal(err)
	}

	restored, err := LoadAutomergeDocument(data)
	if err != nil {
		t.Fatal(err)
	}
	if got := title(t, restored); got != "hello" {
		t.Errorf("title = %q, want hello", got)
	}
}

func TestApplyUpdate_MergesRemoteEdits(t *testing.T) {
	local := NewAutomergeDocument()
	setTitle(t, local, "v1")

	snapshot, err := local.EncodeSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	remote, err := LoadAutomergeDocument(snapshot)
	if err != nil {
		t.Fatal(err)
	}
	setTitle(t, remote, "v2")

	update, err := remote.EncodeSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if err := local.ApplyUpdate(update); err != nil {
		t.Fatal(err)
	}
	if got := title(t, local); got != "v2" {
		t.Errorf("title after merge = %q, want v2", got)
	}
}

func TestApplyUpdate_Garbage(t *testing.T) {
	d := NewAutomergeDocument()
	if err := d.ApplyUpdate([]byte("not an automerge doc")); err == nil {
		t.Error("expected error for garbage update")
	}
}

func TestOnChange_FiresOnLocalAndRemoteMutations(t *testing.T) {
	d := NewAutomergeDocument()
	fired := 0
	cancel := d.OnChange(func() { fired++ })
	defer cancel()

	setTitle(t, d, "one")
	if fired != 1 {
		t.Fatalf("fired = %d after local change, want 1", fired)
	}

	other := NewAutomergeDocument()
	setTitle(t, other, "two")
	update, err := other.EncodeSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if err := d.ApplyUpdate(update); err != nil {
		t.Fatal(err)
	}
	if fired != 2 {
		t.Errorf("fired = %d after remote update, want 2", fired)
	}
}

func TestOnChange_CancelRemovesListener(t *testing.T) {
	d := NewAutomergeDocument()
	fired := 0
	cancel := d.OnChange(func() { fired++ })
	cancel()

	setTitle(t, d, "one")
	if fired != 0 {
		t.Errorf("cancelled listener fired %d times", fired)
	}
}
