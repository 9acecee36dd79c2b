package transport

import "testing"

func TestEndpointKeyStable(t *testing.T) {
	a := Endpoint{Address: "10.0.0.1", Port: 5000}
	b := Endpoint{Address: "10.0.0.1", Port: 5000}
	c := Endpoint{Address: "10.0.0.1", Port: 5001}

	if a != b {
		t.Fatal("equal endpoints compare unequal")
	}
	if a.Key() != b.Key() {
		t.Errorf("Key differs for equal endpoints")
	}
	if a.Key() <= 0 || c.Key() <= 0 {
		t.Errorf("keys must be positive: %d %d", a.Key(), c.Key())
	}
	if a.Key() == c.Key() {
		t.Errorf("distinct endpoints share key %d", a.Key())
	}
}

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("[::1]:9090")
	if err != nil {
		t.Fatal(err)
	}
	if ep.Address != "::1" || ep.Port != 9090 {
		t.Errorf("ParseEndpoint = %+v", ep)
	}
	if ep.String() != "[::1]:9090" {
		t.Errorf("String = %q", ep.String())
	}
	if _, err := ParseEndpoint("nope"); err == nil {
		t.Error("expected error")
	}
}
