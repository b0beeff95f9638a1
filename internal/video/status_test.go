package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		states   []DestinationState
		expected Status
	}{
		{
			name:     "no destinations",
			states:   nil,
			expected: StatusPending,
		},
		{
			name:     "single success",
			states:   []DestinationState{DestSuccess},
			expected: StatusUploaded,
		},
		{
			name:     "all success",
			states:   []DestinationState{DestSuccess, DestSuccess, DestSuccess},
			expected: StatusUploaded,
		},
		{
			name:     "all pending",
			states:   []DestinationState{DestPending, DestPending},
			expected: StatusPending,
		},
		{
			name:     "all uploading",
			states:   []DestinationState{DestUploading, DestUploading},
			expected: StatusUploading,
		},
		{
			name:     "uploading wins over success",
			states:   []DestinationState{DestSuccess, DestUploading},
			expected: StatusUploading,
		},
		{
			name:     "uploading wins over failed",
			states:   []DestinationState{DestFailed, DestUploading, DestPending},
			expected: StatusUploading,
		},
		{
			name:     "all cancelled",
			states:   []DestinationState{DestCancelled, DestCancelled},
			expected: StatusCancelled,
		},
		{
			name:     "all failed",
			states:   []DestinationState{DestFailed, DestFailed},
			expected: StatusFailed,
		},
		{
			name:     "success and failed and pending",
			states:   []DestinationState{DestSuccess, DestFailed, DestPending},
			expected: StatusPartial,
		},
		{
			name:     "success and failed",
			states:   []DestinationState{DestSuccess, DestFailed},
			expected: StatusPartial,
		},
		{
			name:     "success and cancelled",
			states:   []DestinationState{DestSuccess, DestCancelled},
			expected: StatusPartial,
		},
		{
			name:     "failed and pending",
			states:   []DestinationState{DestFailed, DestPending},
			expected: StatusPending,
		},
		{
			name:     "cancelled and failed",
			states:   []DestinationState{DestCancelled, DestFailed},
			expected: StatusPending,
		},
		{
			name:     "cancelled and pending",
			states:   []DestinationState{DestCancelled, DestPending},
			expected: StatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Aggregate(tt.states))
		})
	}
}

func TestAggregate_OrderIndependent(t *testing.T) {
	states := []DestinationState{DestSuccess, DestFailed, DestPending}
	permutations := [][]DestinationState{
		{DestSuccess, DestFailed, DestPending},
		{DestSuccess, DestPending, DestFailed},
		{DestFailed, DestSuccess, DestPending},
		{DestFailed, DestPending, DestSuccess},
		{DestPending, DestSuccess, DestFailed},
		{DestPending, DestFailed, DestSuccess},
	}

	want := Aggregate(states)
	for _, p := range permutations {
		assert.Equal(t, want, Aggregate(p))
	}
}

func TestAggregate_ProgressionDuringUpload(t *testing.T) {
	// a three-destination video as its upload pass advances
	assert.Equal(t, StatusPending, Aggregate([]DestinationState{DestPending, DestPending, DestPending}))
	assert.Equal(t, StatusUploading, Aggregate([]DestinationState{DestUploading, DestPending, DestPending}))
	assert.Equal(t, StatusUploading, Aggregate([]DestinationState{DestSuccess, DestUploading, DestUploading}))
	assert.Equal(t, StatusPartial, Aggregate([]DestinationState{DestSuccess, DestSuccess, DestFailed}))
}

func TestDestination_Valid(t *testing.T) {
	tests := []struct {
		name     string
		dest     Destination
		expected bool
	}{
		{"youtube", DestYouTube, true},
		{"tiktok", DestTikTok, true},
		{"instagram", DestInstagram, true},
		{"unknown", Destination("myspace"), false},
		{"empty", Destination(""), false},
		{"case sensitive", Destination("YouTube"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.dest.Valid())
		})
	}
}

func TestVideo_Cancellable(t *testing.T) {
	tests := []struct {
		status   Status
		expected bool
	}{
		{StatusPending, true},
		{StatusUploading, true},
		{StatusScheduled, false},
		{StatusUploaded, false},
		{StatusPartial, false},
		{StatusFailed, false},
		{StatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			v := &Video{Status: tt.status}
			assert.Equal(t, tt.expected, v.Cancellable())
		})
	}
}

func TestVideo_Charged(t *testing.T) {
	assert.False(t, (&Video{}).Charged())
	assert.True(t, (&Video{CreditsConsumed: 3}).Charged())
}
