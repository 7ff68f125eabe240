package tracker

import (
	"strconv"
)

// ActiveView is one open page view reported by the beacon. ID is the opaque
// visitor-session identifier; the tracker never interprets it.
type ActiveView struct {
	ID   string `json:"id"`
	Host string `json:"host"`
	Path string `json:"path"`
}

// PageScore is the number of open views of one path.
type PageScore struct {
	Path  string `json:"path"`
	Score int64  `json:"score"`
}

// VisitCount distinguishes a host that was never measured from one measured
// at some value, zero included. The zero value is NeverMeasured.
type VisitCount struct {
	n        int64
	measured bool
}

// NeverMeasured is the count of a host with no counter in the store.
func NeverMeasured() VisitCount { return VisitCount{} }

// Measured wraps a counter value read from the store.
func Measured(n int64) VisitCount { return VisitCount{n: n, measured: true} }

// Get returns the count and whether it was measured.
func (v VisitCount) Get() (int64, bool) { return v.n, v.measured }

// IsMeasured reports whether a counter value exists.
func (v VisitCount) IsMeasured() bool { return v.measured }

func (v VisitCount) String() string {
	if !v.measured {
		return "-"
	}
	return strconv.FormatInt(v.n, 10)
}

// MarshalJSON encodes a never-measured count as null.
func (v VisitCount) MarshalJSON() ([]byte, error) {
	if !v.measured {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, v.n, 10), nil
}

// UnmarshalJSON accepts null or an integer.
func (v *VisitCount) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = NeverMeasured()
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*v = Measured(n)
	return nil
}

// HostInfo is the composed live view of one host. It is synthesized on every
// read and never stored.
//
// TopPages is nil when the top-pages query was not issued (the host was never
// measured, or the read failed) and a non-nil, possibly empty slice when the
// query ran.
type HostInfo struct {
	CurrentVisits VisitCount  `json:"currentVisits"`
	TopPages      []PageScore `json:"topPages"`
}

// HostSnapshot pairs a host with the (possibly partial) result of reading it.
type HostSnapshot struct {
	Host string
	Info HostInfo
	Err  error
}

// HostCount pairs a host with the result of reading its counter alone.
type HostCount struct {
	Host          string
	CurrentVisits VisitCount
	Err           error
}
