package domain

import "testing"

// FuzzParseMemberID checks that parsing never panics on arbitrary input and
// that an accepted value round-trips through String.
func FuzzParseMemberID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("550e8400-e29b-41d4-a716-446655440000\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		memberID, err := ParseMemberID(input)
		if err != nil {
			return
		}
		roundTrip, err := ParseMemberID(memberID.String())
		if err != nil {
			t.Fatalf("accepted ID failed round-trip: %v", err)
		}
		if roundTrip != memberID {
			t.Fatal("round-trip changed the ID value")
		}
	})
}
