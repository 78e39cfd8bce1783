package version

import (
	"fmt"
	"testing"
)

func TestAccessorsMatchInfo(t *testing.T) {
	v, c, d := Info()

	if v == "" || c == "" || d == "" {
		t.Fatalf("build info must have defaults: version=%q commit=%q date=%q", v, c, d)
	}
	if got := GetVersion(); got != v {
		t.Errorf("GetVersion() = %q, Info version = %q", got, v)
	}
	if got := GetCommit(); got != c {
		t.Errorf("GetCommit() = %q, Info commit = %q", got, c)
	}
	if got := GetDate(); got != d {
		t.Errorf("GetDate() = %q, Info date = %q", got, d)
	}
}

func TestString(t *testing.T) {
	v, c, d := Info()
	want := fmt.Sprintf("version=%s commit=%s date=%s", v, c, d)

	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
