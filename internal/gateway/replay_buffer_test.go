package gateway

import "testing"

func TestReplayBuffer_Since(t *testing.T) {
	cases := []struct {
		name      string
		capacity  int
		pushed    int64
		since     int64
		wantFirst int64
		wantLen   int
	}{
		{"all", 100, 10, 0, 1, 10},
		{"tail", 100, 10, 7, 8, 3},
		{"caught up", 100, 10, 10, 0, 0},
		{"wrapped", 5, 8, 0, 4, 5},
		{"wrapped tail", 5, 8, 6, 7, 2},
		{"empty", 10, 0, 0, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rb := NewReplayBuffer(tc.capacity)
			for i := int64(1); i <= tc.pushed; i++ {
				rb.Push(i, []byte("msg"))
			}
			got := rb.Since(tc.since)
			if len(got) != tc.wantLen {
				t.Fatalf("Since(%d) returned %d entries, want %d", tc.since, len(got), tc.wantLen)
			}
			if tc.wantLen > 0 && got[0].Seq != tc.wantFirst {
				t.Errorf("first seq = %d, want %d", got[0].Seq, tc.wantFirst)
			}
			for i := 1; i < len(got); i++ {
				if got[i].Seq != got[i-1].Seq+1 {
					t.Fatalf("entries out of order: %v", got)
				}
			}
		})
	}
}
