package core

import "testing"

func TestPtr(t *testing.T) {
	enabled := Ptr(true)
	if enabled == nil || !*enabled {
		t.Fatal("Expected pointer to true")
	}

	// Each call must produce a distinct pointer, so that defaults never alias each other.
	a, b := Ptr(2), Ptr(2)
	if a == b {
		t.Error("Expected distinct pointers for separate calls")
	}
	*a = 3
	if *b != 2 {
		t.Errorf("Expected *b to remain 2, got %d", *b)
	}
}
