package profile

import "testing"

func TestSaveLoadDelete(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := Save(Definition{Name: "build-farm", Destination: "ssh://alice@build.example.com", Queue: "~/.tej", Runtime: "pbs"}); err != nil {
		t.Fatal(err)
	}
	if err := Save(Definition{Name: "dev-box", Destination: "ssh://alice@dev.example.com"}); err != nil {
		t.Fatal(err)
	}

	all, err := LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Name != "build-farm" || all[1].Name != "dev-box" {
		t.Fatalf("unexpected sorted profiles: %+v", all)
	}

	got, err := Get("build-farm")
	if err != nil {
		t.Fatal(err)
	}
	if got.Runtime != "pbs" {
		t.Fatalf("unexpected profile: %+v", got)
	}

	if err := Delete("build-farm"); err != nil {
		t.Fatal(err)
	}
	if _, err := Get("build-farm"); err == nil {
		t.Fatal("expected error after delete")
	}
}

func TestSave_RejectsEmptyNameOrDestination(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := Save(Definition{Destination: "host"}); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := Save(Definition{Name: "x"}); err == nil {
		t.Fatal("expected error for empty destination")
	}
}

func TestGet_UnknownProfile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if _, err := Get("nope"); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}
