package connectors

import (
	"fmt"
	"testing"
)

func TestErrorKindHelpers(t *testing.T) {
	auth := &VenueError{Venue: VenueBinance, Kind: KindAuth, Code: "-2015", Msg: "invalid key"}
	if !IsAuth(auth) || IsTransient(auth) || IsRejected(auth) {
		t.Fatal("auth error misclassified")
	}

	// Wrapped errors must still classify.
	wrapped := fmt.Errorf("submit entry: %w", &VenueError{Venue: VenueBybit, Kind: KindTransient})
	if !IsTransient(wrapped) {
		t.Fatal("wrapped transient error not detected")
	}

	if IsAuth(fmt.Errorf("plain error")) || IsTransient(nil) {
		t.Fatal("non-venue errors must not classify")
	}
}

func TestHTTPKind(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{401, KindAuth},
		{403, KindAuth},
		{408, KindTransient},
		{429, KindTransient},
		{500, KindTransient},
		{503, KindTransient},
		{400, KindRejected},
		{404, KindRejected},
		{200, KindUnknown},
	}
	for _, tc := range cases {
		if got := httpKind(tc.status); got != tc.want {
			t.Fatalf("httpKind(%d) = %s, want %s", tc.status, got, tc.want)
		}
	}
}

func TestVenueErrorMessage(t *testing.T) {
	err := &VenueError{Venue: VenueOKX, Kind: KindRejected, Code: "51121", Msg: "order size must be a multiple of lot size"}
	want := "okx: rejected error 51121: order size must be a multiple of lot size"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestUnsupportedVenueError(t *testing.T) {
	err := &UnsupportedVenueError{Venue: "mtgox"}
	if err.Error() != `unsupported venue "mtgox"` {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
