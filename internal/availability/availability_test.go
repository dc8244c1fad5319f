package availability

import (
	"reflect"
	"testing"
)

func TestFreeSlots(t *testing.T) {
	tests := []struct {
		name string
		busy []Slot
		want []Slot
	}{
		{
			name: "no busy intervals yields whole window",
			busy: nil,
			want: []Slot{{"09:00", "18:00"}},
		},
		{
			name: "one busy interval mid-window splits in two",
			busy: []Slot{{"10:00", "11:00"}},
			want: []Slot{{"09:00", "10:00"}, {"11:00", "18:00"}},
		},
		{
			name: "overlapping intervals merge",
			busy: []Slot{{"10:00", "11:30"}, {"11:00", "12:00"}},
			want: []Slot{{"09:00", "10:00"}, {"12:00", "18:00"}},
		},
		{
			name: "adjacent intervals merge",
			busy: []Slot{{"10:00", "11:00"}, {"11:00", "12:00"}},
			want: []Slot{{"09:00", "10:00"}, {"12:00", "18:00"}},
		},
		{
			name: "busy covering entire window yields nothing",
			busy: []Slot{{"09:00", "18:00"}},
			want: []Slot{},
		},
		{
			name: "busy at start of window",
			busy: []Slot{{"09:00", "10:00"}},
			want: []Slot{{"10:00", "18:00"}},
		},
		{
			name: "busy at end of window",
			busy: []Slot{{"17:00", "18:00"}},
			want: []Slot{{"09:00", "17:00"}},
		},
		{
			name: "unsorted input",
			busy: []Slot{{"14:00", "15:00"}, {"10:00", "11:00"}},
			want: []Slot{{"09:00", "10:00"}, {"11:00", "14:00"}, {"15:00", "18:00"}},
		},
		{
			name: "contained interval is absorbed",
			busy: []Slot{{"10:00", "14:00"}, {"11:00", "12:00"}},
			want: []Slot{{"09:00", "10:00"}, {"14:00", "18:00"}},
		},
		{
			name: "equal start times are handled",
			busy: []Slot{{"10:00", "11:00"}, {"10:00", "12:00"}},
			want: []Slot{{"09:00", "10:00"}, {"12:00", "18:00"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FreeSlots(tt.busy, "09:00", "18:00")
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FreeSlots() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFreeSlots_DoesNotMutateInput(t *testing.T) {
	busy := []Slot{{"14:00", "15:00"}, {"10:00", "11:00"}}
	FreeSlots(busy, "09:00", "18:00")

	if busy[0].Start != "14:00" || busy[1].Start != "10:00" {
		t.Error("FreeSlots() reordered the caller's slice")
	}
}

func TestFreeSlots_CustomWindow(t *testing.T) {
	got := FreeSlots([]Slot{{"08:30", "09:15"}}, "08:00", "12:30")
	want := []Slot{{"08:00", "08:30"}, {"09:15", "12:30"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FreeSlots() = %v, want %v", got, want)
	}
}
