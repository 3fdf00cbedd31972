package models

import "testing"

func TestUserUpdatesChannel(t *testing.T) {
	if got := UserUpdatesChannel("user_a"); got != "user_updates:user_a" {
		t.Fatalf("UserUpdatesChannel() = %q", got)
	}
}
