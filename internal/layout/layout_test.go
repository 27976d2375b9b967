package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaths(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"subjects", Subjects("u1").String(), "users/u1/subjects"},
		{"subject", Subject("u1", "s1").String(), "users/u1/subjects/s1"},
		{"records", Records("u1", "s1").String(), "users/u1/subjects/s1/attendance"},
		{"record", Record("u1", "s1", "2024-03-01_0900_1000").String(), "users/u1/subjects/s1/attendance/2024-03-01_0900_1000"},
		{"timetable", Timetable("u1").String(), "users/u1/timetable"},
		{"slot", Slot("u1", "x").String(), "users/u1/timetable/x"},
		{"guard", TimetableGuard("u1").String(), "users/u1/meta/timetable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}

	assert.True(t, Subject("u1", "s1").IsDocument())
	assert.False(t, Records("u1", "s1").IsDocument())
	assert.True(t, TimetableGuard("u1").IsDocument())
}
