package core

import (
	"testing"
)

func TestResKeyNormalization(t *testing.T) {
	// IdWithSuffix(0, "x") collapses to Name("x").
	k := KeyIDWithSuffix(NoResourceID, "x")
	if !k.IsName() || k.Suffix() != "x" {
		t.Errorf("KeyIDWithSuffix(0, x) = %+v, want Name(x)", k)
	}
	// IdWithSuffix(7, "") collapses to Id(7).
	k = KeyIDWithSuffix(7, "")
	if !k.IsNumerical() || k.RID() != 7 {
		t.Errorf("KeyIDWithSuffix(7, \"\") = %+v, want Id(7)", k)
	}
	// Id(0) is rejected.
	if _, err := KeyID(NoResourceID); err == nil {
		t.Error("KeyID(0) accepted the reserved id")
	}
	// The general case keeps both components.
	k = KeyIDWithSuffix(7, "/suffix")
	if k.RID() != 7 || k.Suffix() != "/suffix" || k.IsNumerical() || k.IsName() {
		t.Errorf("KeyIDWithSuffix(7, /suffix) = %+v", k)
	}
}

func TestResKeyString(t *testing.T) {
	if got := KeyName("/demo/example").String(); got != "/demo/example" {
		t.Errorf("Name.String() = %q", got)
	}
	k, _ := KeyID(42)
	if got := k.String(); got != "42" {
		t.Errorf("Id.String() = %q", got)
	}
	if got := KeyIDWithSuffix(42, "/a").String(); got != "42, /a" {
		t.Errorf("IdWithSuffix.String() = %q", got)
	}
}

func TestEncodingStringForm(t *testing.T) {
	if got := (Encoding{Prefix: 5}).String(); got != "application/json" {
		t.Errorf("Encoding{5}.String() = %q", got)
	}
	tests := []struct {
		in     string
		prefix ZInt
		suffix string
	}{
		{"application/json", 5, ""},
		{"application/json;charset=utf-8", 5, ";charset=utf-8"},
		{"weird/thing", 0, "weird/thing"},
		{"text/plain", 3, ""},
		{"image/gif", 20, ""},
	}
	for _, tc := range tests {
		e := EncodingFrom(tc.in)
		if e.Prefix != tc.prefix || e.Suffix != tc.suffix {
			t.Errorf("EncodingFrom(%q) = {%d, %q}, want {%d, %q}",
				tc.in, e.Prefix, e.Suffix, tc.prefix, tc.suffix)
		}
		if e.String() != tc.in {
			t.Errorf("EncodingFrom(%q).String() = %q", tc.in, e.String())
		}
	}
}

func TestEncodingRegistryStability(t *testing.T) {
	// The index assignment is part of the wire contract.
	want := map[int]string{
		1:  "application/octet-stream",
		3:  "text/plain",
		5:  "application/json",
		11: "application/x-www-form-urlencoded",
		17: "text/javascript",
		20: "image/gif",
	}
	for i, s := range want {
		if got := (Encoding{Prefix: ZInt(i)}).String(); got != s {
			t.Errorf("registry[%d] = %q, want %q", i, got, s)
		}
	}
}

func TestPeerIdEquality(t *testing.T) {
	a, err := PeerIdFromBytes([]byte{0xaa, 0xbb})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := PeerIdFromBytes([]byte{0xaa, 0xbb})
	c, _ := PeerIdFromBytes([]byte{0xaa, 0xbb, 0x00})
	if !a.Equal(b) {
		t.Error("equal prefixes compare unequal")
	}
	// Equality is size + bytes: a longer id with a zero tail is distinct.
	if a.Equal(c) {
		t.Error("ids of different size compare equal")
	}
	// The struct itself must be comparable the same way (map-key use).
	if a != b {
		t.Error("struct comparison disagrees with Equal")
	}
	if got := a.String(); got != "AABB" {
		t.Errorf("String() = %q, want uppercase hex AABB", got)
	}
}

func TestRandomPeerIdWidth(t *testing.T) {
	p := RandomPeerId()
	if p.Size() != 16 {
		t.Errorf("RandomPeerId size = %d, want 16", p.Size())
	}
	if p.Equal(RandomPeerId()) {
		t.Error("two random peer ids collided")
	}
}

func TestTimestampOrder(t *testing.T) {
	idA := TimestampIDFromBytes([]byte{1})
	idB := TimestampIDFromBytes([]byte{2})
	t1 := Timestamp{Time: 10, ID: idB}
	t2 := Timestamp{Time: 20, ID: idA}
	if !t1.Before(t2) || t2.Before(t1) {
		t.Error("time order violated")
	}
	// Ties break on source id.
	t3 := Timestamp{Time: 10, ID: idA}
	if !t3.Before(t1) || t1.Before(t3) {
		t.Error("tie-break on source id violated")
	}
}

func TestParseCongestionControl(t *testing.T) {
	for _, s := range []string{"block", "Block", "BLOCK"} {
		cc, err := ParseCongestionControl(s)
		if err != nil || cc != Block {
			t.Errorf("ParseCongestionControl(%q) = %v, %v", s, cc, err)
		}
	}
	if cc, err := ParseCongestionControl("drop"); err != nil || cc != Drop {
		t.Errorf("ParseCongestionControl(drop) = %v, %v", cc, err)
	}
	if _, err := ParseCongestionControl("sometimes"); err == nil {
		t.Error("ParseCongestionControl accepted an unknown value")
	}
}

func TestWhatAmI(t *testing.T) {
	if got := WhatAmIString(Peer | Router); got != "Router|Peer" {
		t.Errorf("WhatAmIString = %q", got)
	}
	w, err := ParseWhatAmI("router")
	if err != nil || w != Router {
		t.Errorf("ParseWhatAmI(router) = %v, %v", w, err)
	}
	if _, err := ParseWhatAmI("bridge"); err == nil {
		t.Error("ParseWhatAmI accepted an unknown mode")
	}
}

func TestDefaults(t *testing.T) {
	si := DefaultSubInfo()
	if si.Reliability != ReliabilityReliable || si.Mode != Push || si.Period != nil {
		t.Errorf("DefaultSubInfo = %+v", si)
	}
	qc := DefaultQueryConsolidation()
	if qc.FirstRouters != ConsolidationLazy || qc.LastRouter != ConsolidationLazy || qc.Reception != ConsolidationFull {
		t.Errorf("DefaultQueryConsolidation = %+v", qc)
	}
	if qc := NoQueryConsolidation(); qc.FirstRouters != ConsolidationNone || qc.Reception != ConsolidationNone {
		t.Errorf("NoQueryConsolidation = %+v", qc)
	}
	qt := DefaultQueryTarget()
	if qt.Kind != AllKinds || qt.Target.Kind != TargetBestMatching {
		t.Errorf("DefaultQueryTarget = %+v", qt)
	}
}
