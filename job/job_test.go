package job_test

import (
	"encoding/json"
	"testing"

	"github.com/xraph/conductor/job"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestFingerprint_Canonical(t *testing.T) {
	a, err := job.Fingerprint(raw(`{"file":"a.go","line":3}`))
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	b, _ := job.Fingerprint(raw("{ \"line\": 3,\n  \"file\": \"a.go\" }"))
	if a != b {
		t.Errorf("reordered item fingerprint %q != %q", b, a)
	}
	c, _ := job.Fingerprint(raw(`{"file":"b.go","line":3}`))
	if a == c {
		t.Error("different items share a fingerprint")
	}
	if _, err := job.Fingerprint(raw(`{`)); err == nil {
		t.Error("Fingerprint of invalid JSON succeeded")
	}
}

func TestNew_DeduplicatesItems(t *testing.T) {
	j, err := job.New("lint", "h", []json.RawMessage{
		raw(`{"f":"a"}`), raw(`{"f":"b"}`), raw(`{ "f" : "a" }`),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(j.Units) != 2 {
		t.Fatalf("units = %d, want 2", len(j.Units))
	}
	ordered := j.Ordered()
	if string(ordered[0].Item) != `{"f":"a"}` || ordered[1].Index != 1 {
		t.Errorf("ordered = %+v", ordered)
	}

	added, _ := j.Add(raw(`{"f":"b"}`), raw(`{"f":"c"}`))
	if len(added) != 1 || added[0].Index != 2 {
		t.Errorf("Add returned %+v, want one new unit at index 2", added)
	}
}

func TestPendingSkipsSucceeded(t *testing.T) {
	j, _ := job.New("lint", "h", []json.RawMessage{raw(`1`), raw(`2`), raw(`3`)})
	units := j.Ordered()
	units[0].Status = job.UnitSucceeded
	units[1].Status = job.UnitFailed

	pending := j.Pending()
	if len(pending) != 2 || pending[0] != units[1] || pending[1] != units[2] {
		t.Fatalf("pending = %+v", pending)
	}

	c := j.Counts()
	if c.Total != 3 || c.Succeeded != 1 || c.Failed != 1 || c.Pending != 1 {
		t.Errorf("counts = %+v", c)
	}
}

func TestCloneIsDeep(t *testing.T) {
	j, _ := job.New("lint", "h", []json.RawMessage{raw(`1`)})
	cp := j.Clone()
	for _, u := range cp.Units {
		u.Status = job.UnitSucceeded
	}
	for _, u := range j.Units {
		if u.Status != job.UnitPending {
			t.Error("Clone shares units with the original")
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	j, _ := job.New("lint", "h", []json.RawMessage{raw(`{"x":1}`)})
	j.SetupDone = true
	data, err := job.Encode(j)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := job.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != j.ID || !got.SetupDone || len(got.Units) != 1 {
		t.Errorf("decoded %+v", got)
	}
	if _, err := job.Decode([]byte("nope")); err == nil {
		t.Error("Decode(nope) succeeded")
	}
}
