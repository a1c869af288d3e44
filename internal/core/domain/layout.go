package domain

// Ledger columns, 1-based like the sheet they mirror.
const (
	ColSKU = iota + 1
	ColQuantity
	ColLocation
	ColOrderID
	ColNote
	ColStatus
	ColOnHand

	DataWidth = ColOnHand
)

type Segment int

const (
	SegmentMarketplace Segment = 1
	SegmentDirect      Segment = 2
)

func (s Segment) String() string {
	if s == SegmentDirect {
		return "direct"
	}
	return "marketplace"
}

// Layout describes where data lives inside the ledger sheet.
type Layout struct {
	DataStartRow  int
	BoundaryToken string
	// BufferRows is the minimum number of blank rows kept at the end of the direct segment.
	BufferRows int
	// MaxEmptyRows is how many trailing blank rows delete-empty-rows leaves in the direct segment.
	MaxEmptyRows int
}

func DefaultLayout() Layout {
	return Layout{
		DataStartRow:  4,
		BoundaryToken: "DIRECT",
		BufferRows:    3,
		MaxEmptyRows:  5,
	}
}

// Bounds is an inclusive row range. Empty when End < Start.
type Bounds struct {
	Start int
	End   int
}

func (b Bounds) Empty() bool { return b.End < b.Start }

func (b Bounds) Contains(row int) bool { return row >= b.Start && row <= b.End }

func (b Bounds) Len() int {
	if b.Empty() {
		return 0
	}
	return b.End - b.Start + 1
}
