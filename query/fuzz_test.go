package query

import (
	"testing"
)

// FuzzReduce drives the transition function with arbitrary action
// sequences and checks the invariants every snapshot must uphold,
// whatever order actions arrive in.
func FuzzReduce(f *testing.F) {
	f.Add([]byte{0, 1, 6, 1})
	f.Add([]byte{0, 2, 0, 2, 2})
	f.Add([]byte{0, 4, 5, 1, 6, 0, 3, 2})
	f.Add([]byte{1, 1, 1, 6, 0, 8, 1})

	f.Fuzz(func(t *testing.T, ops []byte) {
		c := New(Config[string, int]{GCTime: Duration(GCNever)})
		q := c.GetOrCreate("k", nil)

		s := q.State()
		for i, op := range ops {
			prev := s
			switch op % 7 {
			case 0:
				s = q.reduce(s, fetchAction[int]{canRun: op&0x80 == 0})
			case 1:
				v := i
				s = q.reduce(s, successAction[int]{data: &v, manual: op&0x80 != 0})
			case 2:
				s = q.reduce(s, errorAction[int]{err: errBoom})
			case 3:
				s = q.reduce(s, failedAction[int]{count: int(op), err: errBoom})
			case 4:
				s = q.reduce(s, pauseAction[int]{})
			case 5:
				s = q.reduce(s, continueAction[int]{})
			case 6:
				s = q.reduce(s, invalidateAction[int]{})
			}

			if s.DataUpdateCount < prev.DataUpdateCount {
				t.Fatalf("op %d: data update count went backwards: %d -> %d",
					i, prev.DataUpdateCount, s.DataUpdateCount)
			}
			if s.ErrorUpdateCount < prev.ErrorUpdateCount {
				t.Fatalf("op %d: error update count went backwards: %d -> %d",
					i, prev.ErrorUpdateCount, s.ErrorUpdateCount)
			}
			if s.Status == StatusSuccess && s.Data == nil {
				t.Fatalf("op %d: success status without data", i)
			}
			if s.Status == StatusPending && s.Data != nil {
				t.Fatalf("op %d: pending status with data", i)
			}
			if s.FetchFailureCount < 0 {
				t.Fatalf("op %d: negative failure count", i)
			}
		}
	})
}
