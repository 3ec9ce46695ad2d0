package tree

import "testing"

func TestNewReturnsInitializedMaps(t *testing.T) {
	tr := New()
	if tr.Dirs == nil || tr.Children == nil || tr.Leaves == nil || tr.DirFiles == nil {
		t.Fatalf("New must initialize every map field, got %+v", tr)
	}
	if tr.FileCount != 0 || tr.TotalBytes != 0 {
		t.Fatalf("New must zero the aggregate counters, got %+v", tr)
	}
}
