package dkg

import "testing"

func TestSessionSerializeRoundTrip(t *testing.T) {
	sigs := []signatory{newSignatory(t), newSignatory(t), newSignatory(t)}
	_, pairwise := buildSetup(t, sigs)
	session := buildFullSession(t, sigs, pairwise, 0)

	data, err := session.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := DeserializeSession(data)
	if err != nil {
		t.Fatalf("DeserializeSession: %v", err)
	}
	if got.Index != session.Index {
		t.Errorf("index mismatch: got %d want %d", got.Index, session.Index)
	}
	if len(got.Packages) != len(session.Packages) {
		t.Fatalf("package count mismatch: got %d want %d", len(got.Packages), len(session.Packages))
	}
	if !got.IsFull() {
		t.Fatal("round-tripped session lost fullness")
	}
	groupKey, ok := got.GroupCombinedFullPoint(nil, nil)
	if !ok {
		t.Fatal("round-tripped session cannot combine group key")
	}
	wantKey, _ := session.GroupCombinedFullPoint(nil, nil)
	if !groupKey.Equal(wantKey) {
		t.Error("round-tripped session produces a different group key")
	}
}
