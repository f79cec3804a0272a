package batchno

import "testing"

func TestPrefix(t *testing.T) {
	cases := map[string]string{
		"Paracetamol":          "PARA",
		"amoxicillin 500 mg":   "AMOX",
		"Vit C":                "VITC",
		"B-12":                 "B",
		"5-FU Cream":           "FUCR",
		"  ---  ":              "OBAT",
		"":                     "OBAT",
		"Obat Batuk Hitam OBH": "OBAT",
	}
	for name, want := range cases {
		if got := Prefix(name); got != want {
			t.Fatalf("Prefix(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestNextStartsAtOneWithoutExistingBatches(t *testing.T) {
	if got := Next("Paracetamol", 2026, nil); got != "PARA-2026-001" {
		t.Fatalf("expected PARA-2026-001, got %s", got)
	}
}

func TestNextIncrementsHighestSequenceForSameYear(t *testing.T) {
	existing := []string{
		"PARA-2026-001",
		"PARA-2026-007",
		"PARA-2026-003",
		"PARA-2025-042",
		"PARA-2026-manual",
		"PARAX-2026-099",
	}
	if got := Next("Paracetamol", 2026, existing); got != "PARA-2026-008" {
		t.Fatalf("expected PARA-2026-008, got %s", got)
	}
}

func TestFormatGrowsPastThreeDigits(t *testing.T) {
	if got := Format("AMOX", 2026, 1000); got != "AMOX-2026-1000" {
		t.Fatalf("unexpected format: %s", got)
	}
}
