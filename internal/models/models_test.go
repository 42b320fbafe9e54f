package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBookingStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to BookingStatus
		want     bool
	}{
		{BookingPending, BookingConfirmed, true},
		{BookingPending, BookingCancelled, true},
		{BookingConfirmed, BookingCancelled, true},
		{BookingConfirmed, BookingPending, false},
		{BookingCancelled, BookingConfirmed, false},
		{BookingCancelled, BookingPending, false},
		{BookingCancelled, BookingCancelled, false},
		{BookingConfirmed, BookingConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleSeeker.Valid())
	assert.True(t, RoleOrganizer.Valid())
	assert.False(t, Role("Admin").Valid())
	assert.False(t, Role("seeker").Valid())
}

func TestUserFullName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", User{FirstName: "Ada", LastName: "Lovelace"}.FullName())
	assert.Equal(t, "Ada", User{FirstName: "Ada"}.FullName())
	assert.Equal(t, "Lovelace", User{LastName: "Lovelace"}.FullName())
	assert.Equal(t, "", User{}.FullName())
}
