package main

import "testing"

func TestFormatPaise(t *testing.T) {
	tests := map[int64]string{
		0:           "₹0.00",
		5:           "₹0.05",
		150_050:     "₹1,500.50",
		-25_000:     "-₹250.00",
		123_456_789: "₹1,234,567.89",
	}
	for in, want := range tests {
		if got := formatPaise(in); got != want {
			t.Fatalf("formatPaise(%d) got=%q want=%q", in, got, want)
		}
	}
	if got := signedPaise(100); got != "+₹1.00" {
		t.Fatalf("signedPaise got=%q", got)
	}
	if got := formatRate(2500); got != "25.00" {
		t.Fatalf("formatRate got=%q", got)
	}
}

func TestAmountFlag(t *testing.T) {
	paise, err := amountOrPrompt("1500.5", "Amount")
	if err != nil || paise != 150_050 {
		t.Fatalf("amountOrPrompt got=%d err=%v", paise, err)
	}
	for _, bad := range []string{"0", "-10", "1.001", "ten"} {
		if _, err := amountOrPrompt(bad, "Amount"); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("  Poultry Farm Cooperative ", 10); got != "Poultry..." {
		t.Fatalf("truncate got=%q", got)
	}
	if got := truncate("Bee", 10); got != "Bee" {
		t.Fatalf("truncate got=%q", got)
	}
}
