package runtime

import (
	"strings"
	"testing"
)

func TestLookup_KnownAndUnknown(t *testing.T) {
	if _, err := Lookup(Default); err != nil {
		t.Fatal(err)
	}
	if _, err := Lookup(PBS); err != nil {
		t.Fatal(err)
	}
	if _, err := Lookup(Name("made-up")); err == nil {
		t.Fatal("expected error for unknown runtime name")
	}
}

func TestFiles_IncludesRequiredCommands(t *testing.T) {
	for _, name := range []Name{Default, PBS} {
		b, err := Lookup(name)
		if err != nil {
			t.Fatal(err)
		}
		files, err := b.Files()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		for _, want := range []string{"setup", "new_job", "submit", "status", "kill", "delete", "list"} {
			found := false
			for _, f := range files {
				if strings.HasSuffix(f, "/commands/"+want) {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("bundle %s missing command %q among %v", name, want, files)
			}
		}
	}
}

func TestOpen_ReadsEmbeddedFile(t *testing.T) {
	b, err := Lookup(Default)
	if err != nil {
		t.Fatal(err)
	}
	f, err := b.Open("bundles/default/commands/setup")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
}

func TestProbeCommand(t *testing.T) {
	if ProbeCommand(Default) != "true" {
		t.Fatalf("unexpected default probe command: %s", ProbeCommand(Default))
	}
	if !strings.Contains(ProbeCommand(PBS), "qsub") {
		t.Fatalf("expected pbs probe command to check for qsub, got %s", ProbeCommand(PBS))
	}
}
