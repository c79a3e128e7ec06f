package store

import "testing"

func TestSaveLoadRemove(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	tun := Tunnel{Name: "myapp", RelayAddress: "relay.example.test:4433", LocalPort: 3000, Protocol: "http", Enabled: true}
	if err := s.Save(tun); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load("myapp")
	if err != nil {
		t.Fatal(err)
	}
	if got.LocalPort != 3000 || got.RelayAddress != tun.RelayAddress {
		t.Fatalf("loaded tunnel mismatch: %+v", got)
	}

	if err := s.Remove("myapp"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("myapp"); err == nil {
		t.Fatal("expected error loading removed tunnel")
	}
}

func TestList_SortedByName(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := s.Save(Tunnel{Name: name}); err != nil {
			t.Fatal(err)
		}
	}

	tunnels, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(tunnels) != 3 {
		t.Fatalf("len = %d, want 3", len(tunnels))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, w := range want {
		if tunnels[i].Name != w {
			t.Errorf("tunnels[%d].Name = %q, want %q", i, tunnels[i].Name, w)
		}
	}
}

func TestPath_RejectsPathTraversal(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(Tunnel{Name: "../escape"}); err == nil {
		t.Fatal("expected error for path-traversal name")
	}
}
