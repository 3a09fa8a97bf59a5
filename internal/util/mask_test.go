package util

import "testing"

func TestHideSecret(t *testing.T) {
	cases := map[string]string{
		"GIFT-ABCD-EFGH-JKLM": "GIFT...JKLM",
		"abcdef":              "ab...ef",
		"abc":                 "a...c",
		"ab":                  "ab",
	}
	for in, want := range cases {
		if got := HideSecret(in); got != want {
			t.Fatalf("HideSecret(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskSensitiveQuery(t *testing.T) {
	got := MaskSensitiveQuery("merchant_id=3&code=GIFT-ABCD-EFGH-JKLM&access_token=abcdefghij")
	want := "merchant_id=3&code=GIFT...JKLM&access_token=abcd...ghij"
	if got != want {
		t.Fatalf("MaskSensitiveQuery = %q, want %q", got, want)
	}
	if got := MaskSensitiveQuery("status=ACTIVE"); got != "status=ACTIVE" {
		t.Fatalf("unchanged query altered: %q", got)
	}
}

func TestMaskPath(t *testing.T) {
	if got := MaskPath("/v1/gift-cards/GIFT-ABCD-EFGH-JKLM/redeem"); got != "/v1/gift-cards/GIFT...JKLM/redeem" {
		t.Fatalf("MaskPath = %q", got)
	}
	if got := MaskPath("/v1/reports/breakage"); got != "/v1/reports/breakage" {
		t.Fatalf("MaskPath altered %q", got)
	}
}
